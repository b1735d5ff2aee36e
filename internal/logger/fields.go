package logger

// Standard field keys for structured logging.
// Use these keys consistently across all log statements so logs from the
// keeper, sync engine, transport and realm can be aggregated and queried
// together.
const (
	// Identity
	KeyLand    = "land"    // Land identifier: landType:instanceId
	KeyType    = "type"    // Land type name
	KeyPlayer  = "player"  // Player identifier
	KeyClient  = "client"  // Client (device) identifier
	KeySession = "session" // Transport session identifier
	KeySlot    = "slot"    // Player slot index

	// Keeper loop
	KeyTick    = "tick"    // Tick counter
	KeyCommand = "command" // Command kind: join, leave, action, clientEvent, admin
	KeyAction  = "action"  // Action type identifier
	KeyEvent   = "event"   // Event type identifier
	KeyQueue   = "queue"   // Command queue depth

	// Sync engine
	KeyMode    = "mode"    // Sync mode: incremental, dirtyDiff, fullDiff
	KeyPatches = "patches" // Patch count in a state update
	KeyBytes   = "bytes"   // Encoded payload size

	// Transport
	KeyEncoding = "encoding" // Negotiated wire encoding
	KeyClientIP = "client_ip"
	KeyRequest  = "request_id"

	// State model
	KeyPath = "path" // Patch or field path within the state tree

	// Generic
	KeyError    = "error"
	KeyDuration = "duration_ms"
	KeyCount    = "count"
)
