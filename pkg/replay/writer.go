package replay

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/keeperhq/landkit/internal/logger"
	"github.com/keeperhq/landkit/pkg/keeper"
	"github.com/keeperhq/landkit/pkg/state"
	"github.com/keeperhq/landkit/pkg/wire"
)

// Writer accumulates one land instance's recording and flushes it to a JSON
// file at keeper termination. It implements keeper.ReplaySink; RecordTick is
// called on the keeper loop, Flush from the keeper's shutdown path.
type Writer struct {
	path string

	mu  sync.Mutex
	rec Record
}

var _ keeper.ReplaySink = (*Writer)(nil)

// NewWriter builds a writer recording the land into dir. Use it as the
// realm's replay factory.
func NewWriter(dir, landID, landType string, seed int64) *Writer {
	return &Writer{
		path: filepath.Join(dir, fileName(landID)),
		rec: Record{
			Version:    recordVersion,
			LandID:     landID,
			LandType:   landType,
			Seed:       seed,
			RecordedAt: time.Now().UTC(),
			Hardware:   currentHardware(),
		},
	}
}

// fileName derives a filesystem-safe name from a land id.
func fileName(landID string) string {
	return strings.ReplaceAll(landID, ":", "_") + ".replay.json"
}

// RecordTick implements keeper.ReplaySink.
func (w *Writer) RecordTick(tick uint64, actions []keeper.RecordedAction,
	events []keeper.RecordedClientEvent, lifecycle []keeper.LifecycleEvent, stateHash [32]byte) {

	entry := TickRecord{Tick: tick, StateHash: hashHex(stateHash)}
	for _, lc := range lifecycle {
		entry.Lifecycle = append(entry.Lifecycle, LifecycleRecord{
			Kind: lc.Kind, PlayerID: lc.PlayerID, ClientID: lc.ClientID, Slot: lc.Slot,
		})
	}
	for _, a := range actions {
		entry.Actions = append(entry.Actions, ActionRecord{
			PlayerID:  a.PlayerID,
			RequestID: a.RequestID,
			Type:      a.Type,
			Payload:   rawPayload(a.Payload),
		})
	}
	for _, ce := range events {
		entry.ClientEvents = append(entry.ClientEvents, ClientEventRecord{
			PlayerID: ce.PlayerID,
			Type:     ce.Type,
			Payload:  rawPayload(ce.Payload),
		})
	}

	w.mu.Lock()
	w.rec.Ticks = append(w.rec.Ticks, entry)
	w.mu.Unlock()
}

func rawPayload(v state.Value) json.RawMessage {
	raw, err := wire.MarshalValue(v)
	if err != nil {
		logger.Warn("replay payload serialization failed, recording null",
			logger.KeyError, err.Error())
		return json.RawMessage("null")
	}
	return raw
}

// Flush writes the recording atomically.
func (w *Writer) Flush() error {
	w.mu.Lock()
	data, err := json.MarshalIndent(&w.rec, "", "  ")
	path := w.path
	w.mu.Unlock()
	if err != nil {
		return fmt.Errorf("encoding recording: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating recording dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing recording: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("committing recording: %w", err)
	}
	logger.Info("replay recording flushed",
		logger.KeyLand, w.rec.LandID,
		logger.KeyCount, len(w.rec.Ticks),
		"path", path)
	return nil
}

// Path returns the recording's target file.
func (w *Writer) Path() string { return w.path }

// Snapshot copies the in-progress recording, for admin inspection of lands
// that have not terminated yet.
func (w *Writer) Snapshot() Record {
	w.mu.Lock()
	defer w.mu.Unlock()
	rec := w.rec
	rec.Ticks = append([]TickRecord(nil), w.rec.Ticks...)
	return rec
}
