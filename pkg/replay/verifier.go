package replay

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/keeperhq/landkit/pkg/keeper"
	"github.com/keeperhq/landkit/pkg/wire"
)

// Divergence pinpoints the first tick where a re-execution's state hash
// stopped matching the recording.
type Divergence struct {
	Tick     uint64 `json:"tick"`
	Recorded string `json:"recorded"`
	Replayed string `json:"replayed"`
}

// VerifyResult is the outcome of one verification run.
type VerifyResult struct {
	LandID     string      `json:"landID"`
	Ticks      int         `json:"ticks"`
	Verified   int         `json:"verified"`
	Divergence *Divergence `json:"divergence,omitempty"`
}

// OK reports whether the whole recording replayed to identical hashes.
func (r *VerifyResult) OK() bool { return r.Divergence == nil }

// Verify re-executes a recording against a fresh land built from def and
// compares the hash chain tick by tick. cfg is the land type's configuration;
// the recorded seed overrides cfg.Seed. Verification stops at the first
// divergence.
func Verify(rec *Record, def *keeper.Definition, cfg keeper.Config) (*VerifyResult, error) {
	if def.Type != "" && rec.LandType != def.Type {
		return nil, fmt.Errorf("recording is for land type %q, definition is %q", rec.LandType, def.Type)
	}
	cfg.Seed = rec.Seed

	driver, err := keeper.NewDriver(def, cfg)
	if err != nil {
		return nil, fmt.Errorf("building replay land: %w", err)
	}

	result := &VerifyResult{LandID: rec.LandID, Ticks: len(rec.Ticks)}
	for i := range rec.Ticks {
		tick := &rec.Ticks[i]
		in, err := tick.stepInput()
		if err != nil {
			return nil, err
		}
		res, err := driver.Step(in)
		if err != nil {
			return nil, fmt.Errorf("replaying tick %d: %w", tick.Tick, err)
		}
		if got := hashHex(res.Hash); got != tick.StateHash {
			result.Divergence = &Divergence{
				Tick:     tick.Tick,
				Recorded: tick.StateHash,
				Replayed: got,
			}
			return result, nil
		}
		result.Verified++
	}
	return result, nil
}

// exportLine is one JSONL export row: the authoritative snapshot and the
// events emitted during the tick.
type exportLine struct {
	Tick     uint64            `json:"tick"`
	Snapshot json.RawMessage   `json:"snapshot"`
	Events   []json.RawMessage `json:"events,omitempty"`
}

// ExportJSONL re-executes a recording and streams one JSON line per tick:
// the full snapshot after the tick plus the tick's emitted events. Useful
// for offline analysis of a recorded run.
func ExportJSONL(rec *Record, def *keeper.Definition, cfg keeper.Config, out io.Writer) error {
	cfg.Seed = rec.Seed
	driver, err := keeper.NewDriver(def, cfg)
	if err != nil {
		return fmt.Errorf("building replay land: %w", err)
	}

	enc := json.NewEncoder(out)
	for i := range rec.Ticks {
		tick := &rec.Ticks[i]
		in, err := tick.stepInput()
		if err != nil {
			return err
		}
		res, err := driver.Step(in)
		if err != nil {
			return fmt.Errorf("replaying tick %d: %w", tick.Tick, err)
		}

		snap, err := wire.MarshalValue(driver.Snapshot())
		if err != nil {
			return fmt.Errorf("serializing tick %d snapshot: %w", tick.Tick, err)
		}
		line := exportLine{Tick: tick.Tick, Snapshot: snap}
		for _, ev := range res.Events {
			payload, err := wire.MarshalValue(ev.Payload)
			if err != nil {
				return fmt.Errorf("serializing tick %d event: %w", tick.Tick, err)
			}
			raw, err := json.Marshal(map[string]any{
				"type":    ev.Type,
				"payload": json.RawMessage(payload),
			})
			if err != nil {
				return err
			}
			line.Events = append(line.Events, raw)
		}
		if err := enc.Encode(&line); err != nil {
			return fmt.Errorf("writing export line: %w", err)
		}
	}
	return nil
}
