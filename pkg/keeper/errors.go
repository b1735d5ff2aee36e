package keeper

import (
	"errors"
	"fmt"

	"github.com/keeperhq/landkit/pkg/state"
	"github.com/keeperhq/landkit/pkg/wire"
)

var (
	// ErrLandFull rejects a join against a land at its MaxPlayers limit.
	ErrLandFull = errors.New("land is full")

	// ErrAlreadyJoined rejects a join for a player this keeper already holds.
	// Cluster-wide duplicate sessions are resolved by the session registry
	// before the join reaches the keeper.
	ErrAlreadyJoined = errors.New("player already joined")

	// ErrNotJoined rejects a command from a player the keeper does not hold.
	ErrNotJoined = errors.New("player not joined")

	// ErrUnknownAction rejects an action with no registered handler.
	ErrUnknownAction = errors.New("unknown action type")

	// ErrShutdown rejects commands submitted to a draining or terminated
	// keeper. In-flight commands at shutdown are answered with this error,
	// never dropped silently.
	ErrShutdown = errors.New("keeper is shutting down")
)

// ResolverError wraps a failed resolver with its name before the failure is
// returned as the command's error.
type ResolverError struct {
	Name string
	Err  error
}

func (e *ResolverError) Error() string {
	return fmt.Sprintf("resolver %q failed: %v", e.Name, e.Err)
}

func (e *ResolverError) Unwrap() error { return e.Err }

func resolverFailed(name string, err error) error {
	return &ResolverError{Name: name, Err: err}
}

// HandlerError lets a handler pick the wire error code and attach structured
// details for its originator. Plain errors map to the internal code.
type HandlerError struct {
	Code    wire.ErrorCode
	Message string
	Details state.Value
}

func (e *HandlerError) Error() string { return e.Message }

// CodeForError maps a keeper error to its wire error code.
func CodeForError(err error) wire.ErrorCode {
	var he *HandlerError
	switch {
	case errors.As(err, &he):
		return he.Code
	case errors.Is(err, ErrLandFull):
		return wire.ErrCodeLandFull
	case errors.Is(err, ErrNotJoined):
		return wire.ErrCodeNotJoined
	case errors.Is(err, ErrUnknownAction):
		return wire.ErrCodeUnknownAction
	case errors.Is(err, ErrShutdown):
		return wire.ErrCodeShutdown
	case errors.Is(err, ErrAlreadyJoined):
		return wire.ErrCodeUnauthorized
	default:
		return wire.ErrCodeInternal
	}
}

// errorFrame builds the single error frame a rejected command produces.
func errorFrame(requestID string, err error) wire.ErrorFrame {
	frame := wire.ErrorFrame{
		Code:      CodeForError(err),
		Message:   err.Error(),
		RequestID: requestID,
	}
	var he *HandlerError
	if errors.As(err, &he) {
		frame.Details = he.Details
	}
	return frame
}
