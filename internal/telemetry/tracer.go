package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Common attribute keys for runtime operations. Keys use a component
// prefix: land.* for keeper-level facts, player.* and session.* for
// identity, wire.* for the transport codec.
const (
	AttrLandID   = "land.id"
	AttrLandType = "land.type"
	AttrTick     = "land.tick"
	AttrPlayers  = "land.players"

	AttrPlayerID  = "player.id"
	AttrClientID  = "client.id"
	AttrSessionID = "session.id"
	AttrGuest     = "player.guest"

	AttrActionType = "action.type"
	AttrEventType  = "event.type"

	AttrEncoding    = "wire.encoding"
	AttrCompression = "wire.compression"
	AttrFrameBytes  = "wire.frame_bytes"

	AttrSyncMode    = "sync.mode"
	AttrSyncPatches = "sync.patches"

	AttrNodeID = "cluster.node"
)

// Span names for operations. Format: <component>.<operation>.
const (
	SpanHandshake  = "transport.handshake"
	SpanFrame      = "transport.frame"
	SpanRoute      = "realm.route"
	SpanJoin       = "keeper.join"
	SpanLeave      = "keeper.leave"
	SpanAction     = "keeper.action"
	SpanTick       = "keeper.tick"
	SpanSync       = "sync.run"
	SpanReplayLoad = "replay.load"
	SpanVerify     = "replay.verify"
)

// LandID returns an attribute for the land identifier.
func LandID(id string) attribute.KeyValue {
	return attribute.String(AttrLandID, id)
}

// LandType returns an attribute for the land type name.
func LandType(t string) attribute.KeyValue {
	return attribute.String(AttrLandType, t)
}

// Tick returns an attribute for the tick counter.
func Tick(tick uint64) attribute.KeyValue {
	return attribute.Int64(AttrTick, int64(tick))
}

// PlayerID returns an attribute for the player identifier.
func PlayerID(id string) attribute.KeyValue {
	return attribute.String(AttrPlayerID, id)
}

// SessionID returns an attribute for the transport session identifier.
func SessionID(id string) attribute.KeyValue {
	return attribute.String(AttrSessionID, id)
}

// ActionType returns an attribute for the action type identifier.
func ActionType(t string) attribute.KeyValue {
	return attribute.String(AttrActionType, t)
}

// Encoding returns an attribute for the negotiated wire encoding.
func Encoding(e string) attribute.KeyValue {
	return attribute.String(AttrEncoding, e)
}

// SyncMode returns an attribute for the sync mode used on a tick.
func SyncMode(mode string) attribute.KeyValue {
	return attribute.String(AttrSyncMode, mode)
}
