package keeper

import "github.com/keeperhq/landkit/pkg/state"

// RecordedAction is one applied action in a tick's replay entry. Actions
// whose handler returned an error are still recorded: their pre-error
// mutations are committed and must be reproduced.
type RecordedAction struct {
	PlayerID  string
	RequestID string
	Type      string
	Payload   state.Value
}

// RecordedClientEvent is one applied client event in a tick's replay entry.
type RecordedClientEvent struct {
	PlayerID string
	Type     string
	Payload  state.Value
}

// LifecycleEvent records a join or leave, which mutate keeper-visible state
// (slots, per-player subtrees) and therefore belong in the replay input
// stream.
type LifecycleEvent struct {
	Kind     string // "join" or "leave"
	PlayerID string
	ClientID string
	Slot     int
}

// ReplaySink receives the keeper's per-tick replay entries. Implemented by
// pkg/replay; a nil sink disables recording.
type ReplaySink interface {
	// RecordTick appends one tick's inputs and the canonical state hash
	// computed after the tick's handlers ran.
	RecordTick(tick uint64, actions []RecordedAction, events []RecordedClientEvent, lifecycle []LifecycleEvent, stateHash [32]byte)

	// Flush persists buffered entries. Called on keeper termination.
	Flush() error
}
