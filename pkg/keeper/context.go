package keeper

import (
	"github.com/keeperhq/landkit/internal/logger"
	"github.com/keeperhq/landkit/pkg/state"
	"github.com/keeperhq/landkit/pkg/wire"
)

// Context carries a handler invocation's identity, services and helpers.
// It is valid only for the duration of the handler call and only on the
// keeper loop.
type Context struct {
	// PlayerID, ClientID and SessionID identify the command's originator.
	// System invocations (onTick) leave them empty.
	PlayerID  string
	ClientID  string
	SessionID string

	// RequestID is the originating frame's request id, when present.
	RequestID string

	// Tick is the keeper's current tick counter.
	Tick uint64

	// Services are the injected non-state collaborators.
	Services *Services

	// Resolved holds resolver outputs keyed by resolver name.
	Resolved map[string]any

	k *Keeper
}

// SendEvent emits a server event to the selected targets. Delivery happens
// at the end of the current tick, after the tick's state updates, preserving
// emission order within the tick. A payload that cannot convert to a
// snapshot value is replaced with null and logged, matching the state
// model's conversion fallback.
func (c *Context) SendEvent(target Target, eventType string, payload any) {
	v, err := state.ToValue(payload)
	if err != nil {
		logger.Warn("event payload conversion failed, sending null",
			logger.KeyEvent, eventType, logger.KeyError, err.Error())
		v = state.Null()
	}
	c.k.pendingEvents = append(c.k.pendingEvents, pendingEvent{
		origin: c.PlayerID,
		target: target,
		event:  wire.Event{Direction: wire.EventFromServer, Type: eventType, Payload: v},
	})
}

// SyncNow requests a sync at the end of the current command or tick. This is
// how event-driven lands (TickInterval zero) push state to clients.
func (c *Context) SyncNow() {
	c.k.syncRequested = true
}
