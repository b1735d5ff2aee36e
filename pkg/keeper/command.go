package keeper

import (
	"errors"

	"github.com/keeperhq/landkit/pkg/state"
)

// ErrQueueFull rejects a submission against a keeper whose command buffer is
// saturated. The originator receives this as an internal error frame rather
// than blocking the transport.
var ErrQueueFull = errors.New("keeper command queue full")

// JoinRequest binds a session to this keeper as a player.
type JoinRequest struct {
	RequestID string
	PlayerID  string
	ClientID  string
	SessionID string
	Metadata  map[string]any
}

// JoinResult is the successful outcome of a join.
type JoinResult struct {
	PlayerSlot int
}

// ActionRequest is a typed client command.
type ActionRequest struct {
	PlayerID  string
	ClientID  string
	SessionID string
	RequestID string
	Type      string
	Payload   state.Value
}

// ClientEventRequest is a fire-and-forget client event.
type ClientEventRequest struct {
	PlayerID  string
	ClientID  string
	SessionID string
	Type      string
	Payload   state.Value
}

type cmdKind int

const (
	cmdJoin cmdKind = iota
	cmdLeave
	cmdAction
	cmdClientEvent
	cmdAdmin
)

func (c cmdKind) String() string {
	switch c {
	case cmdJoin:
		return "join"
	case cmdLeave:
		return "leave"
	case cmdAction:
		return "action"
	case cmdClientEvent:
		return "clientEvent"
	case cmdAdmin:
		return "admin"
	default:
		return "unknown"
	}
}

type joinReply struct {
	result JoinResult
	err    error
}

type leaveCmd struct {
	playerID  string
	sessionID string
}

type adminCmd struct {
	fn    func(k *Keeper)
	reply chan error
}

type command struct {
	kind cmdKind

	join      *JoinRequest
	joinReply chan joinReply

	leave       *leaveCmd
	action      *ActionRequest
	clientEvent *ClientEventRequest
	admin       *adminCmd
}
