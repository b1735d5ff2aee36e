package keeper

import "github.com/keeperhq/landkit/pkg/wire"

// Sink receives the keeper's outbound traffic. The transport adapter
// implements it; every method is called from the keeper loop and must not
// block, so implementations enqueue onto per-session send queues.
//
// Ordering guarantees the keeper provides through this interface: all
// deliveries for tick N happen before any delivery for tick N+1, and
// DeliverEvents for a player follows DeliverUpdate for the same tick, which
// is what lets MessagePack sessions merge the two into one frame.
type Sink interface {
	// DeliverUpdate hands one player's state update for a tick.
	DeliverUpdate(playerID string, tick uint64, update wire.StateUpdate)

	// DeliverEvents hands a player's server events for a tick, in emission
	// order. Events must be delivered reliably or the session killed;
	// they are never dropped.
	DeliverEvents(playerID string, tick uint64, events []wire.Event)

	// DeliverActionResponse answers an action toward its originating
	// session.
	DeliverActionResponse(sessionID string, resp wire.ActionResponse)

	// DeliverError sends the single error frame of a rejected command.
	DeliverError(sessionID string, frame wire.ErrorFrame)

	// TickComplete marks the end of a tick's deliveries. Adapters that
	// held back an update to merge it with same-tick events flush it
	// here.
	TickComplete(tick uint64)

	// KeeperTerminated tells the adapter to unsubscribe and close all
	// sessions bound to this keeper.
	KeeperTerminated(reason string)
}
