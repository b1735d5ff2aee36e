package keeper

import (
	"fmt"

	"github.com/keeperhq/landkit/pkg/state"
	"github.com/keeperhq/landkit/pkg/wire"
)

// Driver re-executes a recorded input stream synchronously against a fresh
// land. The replay verifier feeds it one recorded tick at a time and compares
// the resulting state hashes against the recording.
//
// A driver is not started and owns no goroutine; the caller's goroutine is
// the keeper loop.
type Driver struct {
	k *Keeper
}

// StepInput is one recorded tick's inputs, applied in recording order:
// lifecycle first, then actions, then client events.
type StepInput struct {
	Lifecycle    []LifecycleEvent
	Actions      []RecordedAction
	ClientEvents []RecordedClientEvent
}

// StepResult is one replayed tick's outcome.
type StepResult struct {
	Tick   uint64
	Hash   [32]byte
	Events []wire.Event
}

// NewDriver builds a replay driver. cfg.Seed must be the recorded seed for
// the replay to be deterministic.
func NewDriver(def *Definition, cfg Config) (*Driver, error) {
	k, err := New("replay", def, cfg, Options{})
	if err != nil {
		return nil, err
	}
	if def.InitialState != nil {
		if err := def.InitialState(k.root); err != nil {
			return nil, fmt.Errorf("initial state construction failed: %w", err)
		}
	}
	k.phase.Store(int32(PhaseRunning))
	return &Driver{k: k}, nil
}

// Step applies one recorded tick and returns the resulting state hash.
// Handler errors are ignored the way the live keeper ignores them: the
// mutations made before the error are committed either way. A resolver
// failure aborts the step because the original command never recorded one.
func (d *Driver) Step(in StepInput) (StepResult, error) {
	k := d.k

	for _, lc := range in.Lifecycle {
		switch lc.Kind {
		case "join":
			if err := d.applyJoin(lc); err != nil {
				return StepResult{}, err
			}
		case "leave":
			d.applyLeave(lc)
		default:
			return StepResult{}, fmt.Errorf("tick %d: unknown lifecycle kind %q", k.tick, lc.Kind)
		}
	}

	for _, a := range in.Actions {
		if err := d.applyAction(a); err != nil {
			return StepResult{}, err
		}
	}
	for _, ce := range in.ClientEvents {
		handler, ok := k.def.ClientEvents[ce.Type]
		if !ok {
			return StepResult{}, fmt.Errorf("tick %d: no handler for client event %q", k.tick, ce.Type)
		}
		entry := k.players[ce.PlayerID]
		clientID := ""
		if entry != nil {
			clientID = entry.clientID
		}
		ctx := k.handlerContext(ce.PlayerID, clientID, "", "")
		_ = handler(k.root, ce.Payload, ctx)
	}

	if k.def.OnTick != nil && k.cfg.TickInterval > 0 {
		k.fireOnTick()
	}

	res := StepResult{
		Tick:   k.tick,
		Hash:   k.root.Snapshot().Hash(),
		Events: d.takeEvents(),
	}

	// Recorded patches and dirty bits are irrelevant here; drop them so the
	// recorder does not grow without bound.
	k.rec.Clear()
	k.root.ClearDirty()
	k.tick++
	return res, nil
}

// Snapshot exposes the replayed state, used by the JSONL exporter.
func (d *Driver) Snapshot() state.Value {
	return d.k.root.Snapshot()
}

func (d *Driver) applyJoin(lc LifecycleEvent) error {
	k := d.k
	if _, dup := k.players[lc.PlayerID]; dup {
		return fmt.Errorf("tick %d: recorded join for already-joined player %s", k.tick, lc.PlayerID)
	}
	slot := k.allocSlot(lc.PlayerID)
	if slot != lc.Slot {
		return fmt.Errorf("tick %d: player %s allocated slot %d, recording says %d",
			k.tick, lc.PlayerID, slot, lc.Slot)
	}
	k.players[lc.PlayerID] = &playerEntry{slot: slot, clientID: lc.ClientID}

	if k.def.OnJoin != nil {
		ctx := k.handlerContext(lc.PlayerID, lc.ClientID, "", "")
		if err := k.def.OnJoin(k.root, ctx); err != nil {
			return fmt.Errorf("tick %d: onJoin for %s failed: %w", k.tick, lc.PlayerID, err)
		}
	}
	return nil
}

func (d *Driver) applyLeave(lc LifecycleEvent) {
	k := d.k
	entry, ok := k.players[lc.PlayerID]
	if !ok {
		return
	}
	if k.def.OnLeave != nil {
		k.def.OnLeave(k.root, k.handlerContext(lc.PlayerID, entry.clientID, "", ""))
	}
	delete(k.players, lc.PlayerID)
	k.slots[entry.slot] = ""
}

func (d *Driver) applyAction(a RecordedAction) error {
	k := d.k
	handler, ok := k.def.Actions[a.Type]
	if !ok {
		return fmt.Errorf("tick %d: no handler for action %q", k.tick, a.Type)
	}
	entry := k.players[a.PlayerID]
	clientID := ""
	if entry != nil {
		clientID = entry.clientID
	}
	ctx := k.handlerContext(a.PlayerID, clientID, "", a.RequestID)

	if resolvers := k.def.Resolvers[a.Type]; len(resolvers) > 0 {
		if err := k.runResolvers(resolvers, a.Payload, ctx); err != nil {
			return fmt.Errorf("tick %d: %w", k.tick, err)
		}
	}
	_, _ = handler(k.root, a.Payload, ctx)
	return nil
}

func (d *Driver) takeEvents() []wire.Event {
	k := d.k
	if len(k.pendingEvents) == 0 {
		return nil
	}
	out := make([]wire.Event, 0, len(k.pendingEvents))
	for _, pe := range k.pendingEvents {
		out = append(out, pe.event)
	}
	k.pendingEvents = nil
	return out
}
