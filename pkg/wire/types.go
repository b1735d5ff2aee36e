// Package wire implements the framed wire protocol: the transport message
// model, the three negotiable encodings (JSON object, opcode-JSON array,
// MessagePack) and optional path-hash compression.
//
// The opcode tables in this package are frozen. Adding a message kind, patch
// op or update kind means allocating a new number, never renumbering.
package wire

import (
	"fmt"

	"github.com/keeperhq/landkit/pkg/state"
)

// Encoding selects the serialization of all frames on a session. It is
// negotiated at join time; the join frame itself is always JSON.
type Encoding string

const (
	EncodingJSON        Encoding = "json"
	EncodingOpArray     Encoding = "oparray"
	EncodingMessagePack Encoding = "messagepack"
)

// ParseEncoding parses a client-proposed encoding name.
func ParseEncoding(s string) (Encoding, bool) {
	switch Encoding(s) {
	case EncodingJSON, EncodingOpArray, EncodingMessagePack:
		return Encoding(s), true
	case "":
		return EncodingJSON, true
	default:
		return "", false
	}
}

// Kind is the frame kind opcode.
type Kind int

const (
	KindJoin           Kind = 1
	KindJoinResponse   Kind = 2
	KindAction         Kind = 3
	KindActionResponse Kind = 4
	KindEvent          Kind = 5
	KindError          Kind = 6
	KindStateUpdate    Kind = 7

	// KindMergedUpdate merges a state update with same-tick events into a
	// single frame. MessagePack sessions only.
	KindMergedUpdate Kind = 107
)

func (k Kind) String() string {
	switch k {
	case KindJoin:
		return "join"
	case KindJoinResponse:
		return "joinResponse"
	case KindAction:
		return "action"
	case KindActionResponse:
		return "actionResponse"
	case KindEvent:
		return "event"
	case KindError:
		return "error"
	case KindStateUpdate:
		return "stateUpdate"
	case KindMergedUpdate:
		return "mergedUpdate"
	default:
		return "unknown"
	}
}

func kindFromName(s string) (Kind, bool) {
	switch s {
	case "join":
		return KindJoin, true
	case "joinResponse":
		return KindJoinResponse, true
	case "action":
		return KindAction, true
	case "actionResponse":
		return KindActionResponse, true
	case "event":
		return KindEvent, true
	case "error":
		return KindError, true
	case "stateUpdate":
		return KindStateUpdate, true
	case "mergedUpdate":
		return KindMergedUpdate, true
	default:
		return 0, false
	}
}

// UpdateKind classifies a state update.
type UpdateKind int

const (
	UpdateNoChange  UpdateKind = 0
	UpdateFirstSync UpdateKind = 1
	UpdateDiff      UpdateKind = 2
)

func (u UpdateKind) String() string {
	switch u {
	case UpdateNoChange:
		return "noChange"
	case UpdateFirstSync:
		return "firstSync"
	case UpdateDiff:
		return "diff"
	default:
		return "unknown"
	}
}

func updateKindFromName(s string) (UpdateKind, bool) {
	switch s {
	case "noChange":
		return UpdateNoChange, true
	case "firstSync":
		return UpdateFirstSync, true
	case "diff":
		return UpdateDiff, true
	default:
		return 0, false
	}
}

// ErrorCode is the closed enumeration of wire error codes.
type ErrorCode string

const (
	ErrCodeInvalidFrame  ErrorCode = "invalid-frame"
	ErrCodeUnauthorized  ErrorCode = "unauthorized"
	ErrCodeNotJoined     ErrorCode = "not-joined"
	ErrCodeUnknownAction ErrorCode = "unknown-action"
	ErrCodeInternal      ErrorCode = "internal"
	ErrCodeLandFull      ErrorCode = "land-full"
	ErrCodeLandNotFound  ErrorCode = "land-not-found"
	ErrCodeShutdown      ErrorCode = "shutdown"
)

// Session close codes, delivered as the WebSocket close reason so clients
// can map closure to a human message.
const (
	CloseProtocolViolation = "protocol-violation"
	CloseReplacedByNew     = "replaced-by-new-session"
	CloseServerShutdown    = "server-shutdown"
	CloseBackpressure      = "backpressure-exceeded"
)

// EventDirection distinguishes client-origin from server-origin events.
type EventDirection int

const (
	EventFromClient EventDirection = 0
	EventFromServer EventDirection = 1
)

// Join is the handshake request. It is always encoded as JSON regardless of
// the proposed session encoding.
type Join struct {
	RequestID      string         `json:"requestID"`
	LandType       string         `json:"landType"`
	LandInstanceID string         `json:"landInstanceId,omitempty"`
	PlayerID       string         `json:"playerID,omitempty"`
	DeviceID       string         `json:"deviceID,omitempty"`
	Token          string         `json:"token,omitempty"`
	Encoding       string         `json:"encoding,omitempty"`
	Compression    bool           `json:"compression,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// PathEntry is one entry of the path-hash table shared at handshake when
// compression is negotiated.
type PathEntry struct {
	Hash uint32 `json:"hash"`
	Path string `json:"path"`
}

// JoinResponse carries the authoritative join result, including the
// negotiated encoding for all subsequent frames.
type JoinResponse struct {
	RequestID      string      `json:"requestID"`
	Success        bool        `json:"success"`
	LandType       string      `json:"landType,omitempty"`
	LandInstanceID string      `json:"landInstanceId,omitempty"`
	LandID         string      `json:"landID,omitempty"`
	PlayerSlot     int         `json:"playerSlot,omitempty"`
	Encoding       Encoding    `json:"encoding,omitempty"`
	PathTable      []PathEntry `json:"pathTable,omitempty"`
	Reason         string      `json:"reason,omitempty"`
}

// Action is a typed client command addressed to a land's action handler.
type Action struct {
	RequestID string
	Type      string
	Payload   state.Value
}

// ActionResponse is the handler's reply to an action.
type ActionResponse struct {
	RequestID string
	Response  state.Value
}

// Event is a fire-and-forget message in either direction.
type Event struct {
	Direction EventDirection
	Type      string
	Payload   state.Value
}

// ErrorFrame is the typed error surface. RequestID references the rejected
// command when applicable.
type ErrorFrame struct {
	Code      ErrorCode
	Message   string
	Details   state.Value
	RequestID string
}

// StateUpdate is one per-player sync payload. Snapshot is only present for
// firstSync; Patches only for diff.
type StateUpdate struct {
	Kind     UpdateKind
	Snapshot state.Value
	Patches  []state.Patch
}

// Message is the decoded form of one wire frame. Exactly the field matching
// Kind is populated; Events is additionally populated for merged updates.
type Message struct {
	Kind Kind

	Join           *Join
	JoinResponse   *JoinResponse
	Action         *Action
	ActionResponse *ActionResponse
	Event          *Event
	Error          *ErrorFrame
	StateUpdate    *StateUpdate

	// Events carries the merged same-tick events for KindMergedUpdate.
	Events []Event
}

func (m *Message) validate() error {
	switch m.Kind {
	case KindJoin:
		if m.Join == nil {
			return fmt.Errorf("join frame without join payload")
		}
	case KindJoinResponse:
		if m.JoinResponse == nil {
			return fmt.Errorf("joinResponse frame without payload")
		}
	case KindAction:
		if m.Action == nil {
			return fmt.Errorf("action frame without payload")
		}
	case KindActionResponse:
		if m.ActionResponse == nil {
			return fmt.Errorf("actionResponse frame without payload")
		}
	case KindEvent:
		if m.Event == nil {
			return fmt.Errorf("event frame without payload")
		}
	case KindError:
		if m.Error == nil {
			return fmt.Errorf("error frame without payload")
		}
	case KindStateUpdate:
		if m.StateUpdate == nil {
			return fmt.Errorf("stateUpdate frame without payload")
		}
	case KindMergedUpdate:
		if m.StateUpdate == nil {
			return fmt.Errorf("mergedUpdate frame without state update")
		}
	default:
		return fmt.Errorf("unknown frame kind %d", m.Kind)
	}
	return nil
}
