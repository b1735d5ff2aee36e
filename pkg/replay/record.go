// Package replay records a land's deterministic input stream and verifies
// recordings by re-executing them against a fresh land.
//
// A recording holds everything needed to reproduce a run: the land type, the
// seed, the per-tick inputs and the state hash after every tick. Verification
// replays the inputs and compares hash chains; any divergence pinpoints the
// first tick where the re-execution drifted.
package replay

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/keeperhq/landkit/pkg/keeper"
	"github.com/keeperhq/landkit/pkg/state"
	"github.com/keeperhq/landkit/pkg/wire"
)

// recordVersion is bumped on any breaking change to the recording schema.
const recordVersion = 1

// HardwareInfo pins the recording environment. Replays on a different
// platform still verify; the info is diagnostic.
type HardwareInfo struct {
	GoVersion string `json:"goVersion"`
	GOOS      string `json:"goos"`
	GOARCH    string `json:"goarch"`
	NumCPU    int    `json:"numCPU"`
}

func currentHardware() HardwareInfo {
	return HardwareInfo{
		GoVersion: runtime.Version(),
		GOOS:      runtime.GOOS,
		GOARCH:    runtime.GOARCH,
		NumCPU:    runtime.NumCPU(),
	}
}

// ActionRecord is one recorded action. Payloads use the wire JSON value
// form so they round-trip exactly like wire payloads.
type ActionRecord struct {
	PlayerID  string          `json:"playerID"`
	RequestID string          `json:"requestID,omitempty"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// ClientEventRecord is one recorded client event.
type ClientEventRecord struct {
	PlayerID string          `json:"playerID"`
	Type     string          `json:"type"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// LifecycleRecord is one recorded join or leave.
type LifecycleRecord struct {
	Kind     string `json:"kind"`
	PlayerID string `json:"playerID"`
	ClientID string `json:"clientID,omitempty"`
	Slot     int    `json:"slot"`
}

// TickRecord is one tick's inputs plus the state hash after the tick.
type TickRecord struct {
	Tick         uint64              `json:"tick"`
	Lifecycle    []LifecycleRecord   `json:"lifecycleEvents,omitempty"`
	Actions      []ActionRecord      `json:"actions,omitempty"`
	ClientEvents []ClientEventRecord `json:"clientEvents,omitempty"`
	StateHash    string              `json:"stateHash"`
}

// Record is one land instance's full recording.
type Record struct {
	Version    int          `json:"version"`
	LandID     string       `json:"landID"`
	LandType   string       `json:"landType"`
	Seed       int64        `json:"seed"`
	RecordedAt time.Time    `json:"recordedAt"`
	Hardware   HardwareInfo `json:"hardwareInfo"`
	Ticks      []TickRecord `json:"ticks"`
}

// Load reads and validates a recording file.
func Load(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading recording: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parsing recording: %w", err)
	}
	if rec.Version != recordVersion {
		return nil, fmt.Errorf("unsupported recording version %d", rec.Version)
	}
	for i, tick := range rec.Ticks {
		if tick.Tick != uint64(i) {
			return nil, fmt.Errorf("recording has a gap: entry %d carries tick %d", i, tick.Tick)
		}
	}
	return &rec, nil
}

// stepInput converts one tick record back into driver input.
func (t *TickRecord) stepInput() (keeper.StepInput, error) {
	in := keeper.StepInput{}
	for _, lc := range t.Lifecycle {
		in.Lifecycle = append(in.Lifecycle, keeper.LifecycleEvent{
			Kind: lc.Kind, PlayerID: lc.PlayerID, ClientID: lc.ClientID, Slot: lc.Slot,
		})
	}
	for _, a := range t.Actions {
		payload, err := payloadValue(a.Payload)
		if err != nil {
			return in, fmt.Errorf("tick %d action %q: %w", t.Tick, a.Type, err)
		}
		in.Actions = append(in.Actions, keeper.RecordedAction{
			PlayerID: a.PlayerID, RequestID: a.RequestID, Type: a.Type, Payload: payload,
		})
	}
	for _, ce := range t.ClientEvents {
		payload, err := payloadValue(ce.Payload)
		if err != nil {
			return in, fmt.Errorf("tick %d client event %q: %w", t.Tick, ce.Type, err)
		}
		in.ClientEvents = append(in.ClientEvents, keeper.RecordedClientEvent{
			PlayerID: ce.PlayerID, Type: ce.Type, Payload: payload,
		})
	}
	return in, nil
}

func payloadValue(raw json.RawMessage) (state.Value, error) {
	if len(raw) == 0 {
		return state.Null(), nil
	}
	return wire.UnmarshalValue(raw)
}

func hashHex(h [32]byte) string {
	return hex.EncodeToString(h[:])
}
