// Package syncengine computes per-player state updates from a land's tick
// output: the recorded patch stream, the dirty subtree roots, and each
// player's last acknowledged snapshot.
//
// The engine is owned by its keeper and called on the keeper loop only; it
// is not safe for concurrent use.
package syncengine

import (
	"strings"

	"github.com/keeperhq/landkit/internal/logger"
	"github.com/keeperhq/landkit/pkg/state"
	"github.com/keeperhq/landkit/pkg/wire"
)

// Mode is the sync strategy picked for one tick.
type Mode int

const (
	// ModeIncremental replays the recorded patches. Smallest payload;
	// requires every dirty subtree to be covered by at least one patch.
	ModeIncremental Mode = iota

	// ModeDirtyDiff rebuilds snapshots under the dirty roots only and
	// diffs them against each player's last acknowledged snapshot.
	ModeDirtyDiff

	// ModeFullDiff snapshots the whole state and diffs. Used on first
	// sync, after a desync, and when dirty tracking is disabled.
	ModeFullDiff
)

func (m Mode) String() string {
	switch m {
	case ModeIncremental:
		return "incremental"
	case ModeDirtyDiff:
		return "dirtyDiff"
	case ModeFullDiff:
		return "fullDiff"
	default:
		return "unknown"
	}
}

// DirtyTracking selects how the engine uses dirty bits and patches.
type DirtyTracking string

const (
	DirtyTrackingEnabled  DirtyTracking = "enabled"
	DirtyTrackingDisabled DirtyTracking = "disabled"
	DirtyTrackingAdaptive DirtyTracking = "adaptive"
)

// Config tunes the engine.
type Config struct {
	// DirtyTracking selects the tracking mode. Default: enabled.
	DirtyTracking DirtyTracking

	// AdaptiveOffAfter is the number of consecutive ticks in which diffing
	// would have emitted fewer bytes than the patch stream before adaptive
	// mode disables dirty tracking. Default: 10.
	AdaptiveOffAfter int

	// AdaptiveOnAfter is the number of consecutive ticks in which the
	// patch stream would have been smaller before adaptive mode re-enables
	// dirty tracking. Default: 10.
	AdaptiveOnAfter int
}

func (c *Config) applyDefaults() {
	if c.DirtyTracking == "" {
		c.DirtyTracking = DirtyTrackingEnabled
	}
	if c.AdaptiveOffAfter <= 0 {
		c.AdaptiveOffAfter = 10
	}
	if c.AdaptiveOnAfter <= 0 {
		c.AdaptiveOnAfter = 10
	}
}

// PlayerUpdate is one player's sync output for a tick.
type PlayerUpdate struct {
	PlayerID string
	Mode     Mode
	Update   wire.StateUpdate
}

type playerView struct {
	lastSnapshot state.Value
	synced       bool
	forceFull    bool
}

// Engine tracks per-player acknowledged snapshots and picks the cheapest
// correct sync mode each tick.
type Engine struct {
	cfg   Config
	views map[string]*playerView

	trackingOff bool
	offStreak   int
	onStreak    int

	// lastFull is the previous tick's full filtered-per-nobody snapshot,
	// kept only in adaptive mode to estimate diff sizes.
	lastFull state.Value
	haveLast bool
}

// New creates an engine.
func New(cfg Config) *Engine {
	cfg.applyDefaults()
	return &Engine{
		cfg:         cfg,
		views:       make(map[string]*playerView),
		trackingOff: cfg.DirtyTracking == DirtyTrackingDisabled,
	}
}

// AddPlayer registers a joined player. The next sync for the player is a
// firstSync carrying the full filtered snapshot.
func (e *Engine) AddPlayer(playerID string) {
	e.views[playerID] = &playerView{}
}

// RemovePlayer drops a player's view.
func (e *Engine) RemovePlayer(playerID string) {
	delete(e.views, playerID)
}

// MarkDesynced forces the next update for the player to be a full diff,
// used after a confirmed client desync.
func (e *Engine) MarkDesynced(playerID string) {
	if v, ok := e.views[playerID]; ok {
		v.forceFull = true
	}
}

// ResetPlayer discards the player's acknowledged baseline entirely: the next
// update is a fresh firstSync snapshot. Used when the transport dropped a
// frame and the client's real state is unknown.
func (e *Engine) ResetPlayer(playerID string) {
	if _, ok := e.views[playerID]; ok {
		e.views[playerID] = &playerView{}
	}
}

// TrackingActive reports whether the incremental path is currently in use.
func (e *Engine) TrackingActive() bool {
	return !e.trackingOff
}

// Sync consumes the tick's patch stream and dirty set and produces one
// update per registered player. The recorder is drained and the dirty bits
// cleared before returning.
func (e *Engine) Sync(root *state.Container, rec *state.Recorder) []PlayerUpdate {
	patches := rec.Drain()
	dirty := root.CollectDirty("", state.Scope{}, nil)
	defer root.ClearDirty()

	mode := e.pickMode(patches, dirty)
	e.adapt(root, patches, dirty)

	out := make([]PlayerUpdate, 0, len(e.views))
	for playerID, view := range e.views {
		out = append(out, e.syncPlayer(root, playerID, view, mode, patches, dirty))
	}
	return out
}

// pickMode chooses the tick-wide mode. Individual players still get a
// firstSync full snapshot when they have no acknowledged baseline.
func (e *Engine) pickMode(patches []state.Patch, dirty []state.DirtyEntry) Mode {
	if e.trackingOff {
		return ModeFullDiff
	}
	if !covered(patches, dirty) {
		logger.Debug("patch coverage check failed, falling back to dirty diff",
			logger.KeyPatches, len(patches), logger.KeyCount, len(dirty))
		return ModeDirtyDiff
	}
	return ModeIncremental
}

// covered verifies the incremental precondition: every non-internal dirty
// subtree root relates to at least one recorded patch, either exactly, as
// an ancestor of a patch, or as a descendant of one.
func covered(patches []state.Patch, dirty []state.DirtyEntry) bool {
	for _, d := range dirty {
		if d.Scope.Policy == state.PolicyInternal {
			continue
		}
		found := false
		for _, p := range patches {
			if p.Path == d.Path ||
				strings.HasPrefix(p.Path, d.Path+"/") ||
				strings.HasPrefix(d.Path, p.Path+"/") {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (e *Engine) syncPlayer(root *state.Container, playerID string, view *playerView, mode Mode, patches []state.Patch, dirty []state.DirtyEntry) PlayerUpdate {
	if !view.synced || view.forceFull {
		snap := root.SnapshotFor(playerID, state.Scope{})
		kind := wire.UpdateFirstSync
		var outPatches []state.Patch
		if view.synced {
			// Desync recovery: the client still has a baseline, send a
			// full diff against it instead of a fresh snapshot.
			kind = wire.UpdateDiff
			outPatches = state.DiffValues(view.lastSnapshot, snap, "")
		}
		view.lastSnapshot = snap
		view.synced = true
		view.forceFull = false
		u := wire.StateUpdate{Kind: kind, Patches: outPatches}
		if kind == wire.UpdateFirstSync {
			u.Snapshot = snap
		}
		return PlayerUpdate{PlayerID: playerID, Mode: ModeFullDiff, Update: u}
	}

	switch mode {
	case ModeIncremental:
		visible := filterVisible(patches, playerID)
		if len(visible) == 0 {
			return PlayerUpdate{PlayerID: playerID, Mode: mode, Update: wire.StateUpdate{Kind: wire.UpdateNoChange}}
		}
		view.lastSnapshot = state.ApplyPatches(view.lastSnapshot, visible)
		return PlayerUpdate{PlayerID: playerID, Mode: mode, Update: wire.StateUpdate{Kind: wire.UpdateDiff, Patches: visible}}

	case ModeDirtyDiff:
		next := root.SnapshotFor(playerID, state.Scope{})
		var diff []state.Patch
		for _, d := range dirtyRootsFor(dirty, playerID) {
			prevSub, prevOK := valueAtPath(view.lastSnapshot, d)
			nextSub, nextOK := valueAtPath(next, d)
			if !nextOK {
				if prevOK {
					diff = append(diff, state.Patch{Path: d, Op: state.OpRemove})
				}
				continue
			}
			diff = append(diff, state.DiffValues(prevSub, nextSub, d)...)
		}
		view.lastSnapshot = next
		if len(diff) == 0 {
			return PlayerUpdate{PlayerID: playerID, Mode: mode, Update: wire.StateUpdate{Kind: wire.UpdateNoChange}}
		}
		return PlayerUpdate{PlayerID: playerID, Mode: mode, Update: wire.StateUpdate{Kind: wire.UpdateDiff, Patches: diff}}

	default: // ModeFullDiff
		next := root.SnapshotFor(playerID, state.Scope{})
		diff := state.DiffValues(view.lastSnapshot, next, "")
		view.lastSnapshot = next
		if len(diff) == 0 {
			return PlayerUpdate{PlayerID: playerID, Mode: mode, Update: wire.StateUpdate{Kind: wire.UpdateNoChange}}
		}
		return PlayerUpdate{PlayerID: playerID, Mode: mode, Update: wire.StateUpdate{Kind: wire.UpdateDiff, Patches: diff}}
	}
}

// dirtyRootsFor returns the dirty paths a player may observe, pruned of
// paths nested under another dirty path to avoid double-diffing.
func dirtyRootsFor(dirty []state.DirtyEntry, playerID string) []string {
	var paths []string
	for _, d := range dirty {
		if d.Scope.Policy == state.PolicyInternal {
			continue
		}
		if d.Scope.Policy == state.PolicyPerPlayer && !d.Scope.VisibleTo(playerID) {
			continue
		}
		paths = append(paths, d.Path)
	}
	var roots []string
	for _, p := range paths {
		nested := false
		for _, q := range paths {
			if p != q && strings.HasPrefix(p, q+"/") {
				nested = true
				break
			}
		}
		if !nested {
			roots = append(roots, p)
		}
	}
	return roots
}

func filterVisible(patches []state.Patch, playerID string) []state.Patch {
	var out []state.Patch
	for _, p := range patches {
		if p.Scope.VisibleTo(playerID) {
			out = append(out, p)
		}
	}
	return out
}

// valueAtPath walks a snapshot value along an absolute patch path.
func valueAtPath(v state.Value, path string) (state.Value, bool) {
	for _, token := range state.SplitPath(path) {
		child, ok := v.Get(token)
		if !ok {
			return state.Value{}, false
		}
		v = child
	}
	return v, true
}

// adapt updates the adaptive dirty-tracking switch by comparing the size of
// the recorded patch stream against the size of a structural diff of the
// full snapshot.
func (e *Engine) adapt(root *state.Container, patches []state.Patch, dirty []state.DirtyEntry) {
	if e.cfg.DirtyTracking != DirtyTrackingAdaptive {
		return
	}
	next := root.Snapshot()
	if !e.haveLast {
		e.lastFull = next
		e.haveLast = true
		return
	}
	if len(patches) == 0 && len(dirty) == 0 {
		e.lastFull = next
		return
	}

	diffPatches := state.DiffValues(e.lastFull, next, "")
	e.lastFull = next

	patchBytes := patchStreamSize(patches)
	diffBytes := patchStreamSize(diffPatches)

	if !e.trackingOff {
		if diffBytes < patchBytes {
			e.offStreak++
			if e.offStreak >= e.cfg.AdaptiveOffAfter {
				e.trackingOff = true
				e.offStreak = 0
				logger.Info("adaptive sync disabled dirty tracking",
					logger.KeyBytes, diffBytes, logger.KeyPatches, len(patches))
			}
		} else {
			e.offStreak = 0
		}
		return
	}
	if patchBytes <= diffBytes {
		e.onStreak++
		if e.onStreak >= e.cfg.AdaptiveOnAfter {
			e.trackingOff = false
			e.onStreak = 0
			logger.Info("adaptive sync re-enabled dirty tracking",
				logger.KeyBytes, patchBytes)
		}
	} else {
		e.onStreak = 0
	}
}

// PayloadSize estimates the encoded size of an update. The keeper feeds it
// to the sync byte counters; exact wire size depends on the session encoding
// and is accounted at the transport.
func PayloadSize(u wire.StateUpdate) int {
	n := patchStreamSize(u.Patches)
	if !u.Snapshot.IsNull() {
		n += len(u.Snapshot.AppendCanonical(nil))
	}
	return n
}

// patchStreamSize is the byte-size estimate used by the adaptive switch.
func patchStreamSize(patches []state.Patch) int {
	total := 0
	for _, p := range patches {
		total += len(p.Path) + 2 + len(p.Value.AppendCanonical(nil))
	}
	return total
}
