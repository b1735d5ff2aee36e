package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/keeperhq/landkit/pkg/state"
)

// JSONCodec implements the conventional JSON object encoding. Frames are
// envelopes {"kind": name, "payload": {...}}; patches use JSON-Patch style
// operation objects. This encoding never compresses paths: it is the
// handshake lingua franca and the debugging format.
type JSONCodec struct{}

// Encoding implements Codec.
func (c *JSONCodec) Encoding() Encoding { return EncodingJSON }

type jsonEnvelope struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

type jsonAction struct {
	RequestID string          `json:"requestID"`
	Type      string          `json:"typeIdentifier"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type jsonActionResponse struct {
	RequestID string          `json:"requestID"`
	Response  json.RawMessage `json:"response,omitempty"`
}

type jsonEvent struct {
	Direction int             `json:"direction"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type jsonError struct {
	Code      string          `json:"code"`
	Message   string          `json:"message"`
	Details   json.RawMessage `json:"details,omitempty"`
	RequestID string          `json:"requestID,omitempty"`
}

type jsonPatch struct {
	Path  string          `json:"path"`
	Op    string          `json:"op"`
	Value json.RawMessage `json:"value,omitempty"`
}

type jsonStateUpdate struct {
	Type     string          `json:"type"`
	Snapshot json.RawMessage `json:"snapshot,omitempty"`
	Patches  []jsonPatch     `json:"patches,omitempty"`
}

// marshalValue serializes a snapshot value as natural JSON.
func marshalValue(v state.Value) (json.RawMessage, error) {
	if v.IsNull() {
		return json.RawMessage("null"), nil
	}
	data, err := json.Marshal(v.ToInterface())
	if err != nil {
		return nil, fmt.Errorf("marshal value: %w", err)
	}
	return data, nil
}

// unmarshalValue parses natural JSON into a snapshot value. Numbers without
// a fraction or exponent decode as integers; everything else is a double.
func unmarshalValue(raw json.RawMessage) (state.Value, error) {
	if len(raw) == 0 {
		return state.Null(), nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var decoded any
	if err := dec.Decode(&decoded); err != nil {
		return state.Value{}, fmt.Errorf("unmarshal value: %w", err)
	}
	return jsonToValue(decoded)
}

func jsonToValue(raw any) (state.Value, error) {
	switch t := raw.(type) {
	case json.Number:
		s := t.String()
		if !strings.ContainsAny(s, ".eE") {
			i, err := t.Int64()
			if err == nil {
				return state.Int(i), nil
			}
		}
		f, err := t.Float64()
		if err != nil {
			return state.Value{}, fmt.Errorf("bad number %q: %w", s, err)
		}
		return state.Double(f), nil
	case []any:
		arr := make([]state.Value, len(t))
		for i := range t {
			v, err := jsonToValue(t[i])
			if err != nil {
				return state.Value{}, err
			}
			arr[i] = v
		}
		return state.Array(arr...), nil
	case map[string]any:
		m := make(map[string]state.Value, len(t))
		for k, c := range t {
			v, err := jsonToValue(c)
			if err != nil {
				return state.Value{}, err
			}
			m[k] = v
		}
		return state.MapValue(m), nil
	default:
		return state.FromInterface(raw)
	}
}

// Encode implements Codec.
func (c *JSONCodec) Encode(msg *Message) ([]byte, error) {
	if err := msg.validate(); err != nil {
		return nil, err
	}

	var payload any
	var err error
	switch msg.Kind {
	case KindJoin:
		payload = msg.Join
	case KindJoinResponse:
		payload = msg.JoinResponse
	case KindAction:
		payload, err = jsonActionFrom(msg.Action)
	case KindActionResponse:
		payload, err = jsonActionResponseFrom(msg.ActionResponse)
	case KindEvent:
		payload, err = jsonEventFrom(msg.Event)
	case KindError:
		payload, err = jsonErrorFrom(msg.Error)
	case KindStateUpdate:
		payload, err = jsonStateUpdateFrom(msg.StateUpdate)
	case KindMergedUpdate:
		return nil, fmt.Errorf("mergedUpdate is not representable in JSON encoding")
	}
	if err != nil {
		return nil, err
	}

	rawPayload, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return json.Marshal(jsonEnvelope{Kind: msg.Kind.String(), Payload: rawPayload})
}

func jsonActionFrom(a *Action) (*jsonAction, error) {
	raw, err := marshalValue(a.Payload)
	if err != nil {
		return nil, err
	}
	return &jsonAction{RequestID: a.RequestID, Type: a.Type, Payload: raw}, nil
}

func jsonActionResponseFrom(a *ActionResponse) (*jsonActionResponse, error) {
	raw, err := marshalValue(a.Response)
	if err != nil {
		return nil, err
	}
	return &jsonActionResponse{RequestID: a.RequestID, Response: raw}, nil
}

func jsonEventFrom(e *Event) (*jsonEvent, error) {
	raw, err := marshalValue(e.Payload)
	if err != nil {
		return nil, err
	}
	return &jsonEvent{Direction: int(e.Direction), Type: e.Type, Payload: raw}, nil
}

func jsonErrorFrom(e *ErrorFrame) (*jsonError, error) {
	out := &jsonError{Code: string(e.Code), Message: e.Message, RequestID: e.RequestID}
	if !e.Details.IsNull() {
		raw, err := marshalValue(e.Details)
		if err != nil {
			return nil, err
		}
		out.Details = raw
	}
	return out, nil
}

func jsonStateUpdateFrom(u *StateUpdate) (*jsonStateUpdate, error) {
	out := &jsonStateUpdate{Type: u.Kind.String()}
	if u.Kind == UpdateFirstSync {
		raw, err := marshalValue(u.Snapshot)
		if err != nil {
			return nil, err
		}
		out.Snapshot = raw
	}
	for _, p := range u.Patches {
		jp := jsonPatch{Path: p.Path, Op: p.Op.String()}
		if p.Op != state.OpRemove {
			raw, err := marshalValue(p.Value)
			if err != nil {
				return nil, err
			}
			jp.Value = raw
		}
		out.Patches = append(out.Patches, jp)
	}
	return out, nil
}

// Decode implements Codec.
func (c *JSONCodec) Decode(data []byte) (*Message, error) {
	var env jsonEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("malformed frame: %w", err)
	}
	kind, ok := kindFromName(env.Kind)
	if !ok {
		return nil, fmt.Errorf("unknown frame kind %q", env.Kind)
	}

	msg := &Message{Kind: kind}
	switch kind {
	case KindJoin:
		msg.Join = &Join{}
		if err := json.Unmarshal(env.Payload, msg.Join); err != nil {
			return nil, fmt.Errorf("malformed join: %w", err)
		}
	case KindJoinResponse:
		msg.JoinResponse = &JoinResponse{}
		if err := json.Unmarshal(env.Payload, msg.JoinResponse); err != nil {
			return nil, fmt.Errorf("malformed joinResponse: %w", err)
		}
	case KindAction:
		var dto jsonAction
		if err := json.Unmarshal(env.Payload, &dto); err != nil {
			return nil, fmt.Errorf("malformed action: %w", err)
		}
		payload, err := unmarshalValue(dto.Payload)
		if err != nil {
			return nil, err
		}
		msg.Action = &Action{RequestID: dto.RequestID, Type: dto.Type, Payload: payload}
	case KindActionResponse:
		var dto jsonActionResponse
		if err := json.Unmarshal(env.Payload, &dto); err != nil {
			return nil, fmt.Errorf("malformed actionResponse: %w", err)
		}
		resp, err := unmarshalValue(dto.Response)
		if err != nil {
			return nil, err
		}
		msg.ActionResponse = &ActionResponse{RequestID: dto.RequestID, Response: resp}
	case KindEvent:
		var dto jsonEvent
		if err := json.Unmarshal(env.Payload, &dto); err != nil {
			return nil, fmt.Errorf("malformed event: %w", err)
		}
		payload, err := unmarshalValue(dto.Payload)
		if err != nil {
			return nil, err
		}
		msg.Event = &Event{Direction: EventDirection(dto.Direction), Type: dto.Type, Payload: payload}
	case KindError:
		var dto jsonError
		if err := json.Unmarshal(env.Payload, &dto); err != nil {
			return nil, fmt.Errorf("malformed error frame: %w", err)
		}
		details, err := unmarshalValue(dto.Details)
		if err != nil {
			return nil, err
		}
		msg.Error = &ErrorFrame{Code: ErrorCode(dto.Code), Message: dto.Message, Details: details, RequestID: dto.RequestID}
	case KindStateUpdate:
		var dto jsonStateUpdate
		if err := json.Unmarshal(env.Payload, &dto); err != nil {
			return nil, fmt.Errorf("malformed stateUpdate: %w", err)
		}
		update, err := stateUpdateFromJSON(&dto)
		if err != nil {
			return nil, err
		}
		msg.StateUpdate = update
	case KindMergedUpdate:
		return nil, fmt.Errorf("mergedUpdate is not valid in JSON encoding")
	}
	return msg, nil
}

func stateUpdateFromJSON(dto *jsonStateUpdate) (*StateUpdate, error) {
	kind, ok := updateKindFromName(dto.Type)
	if !ok {
		return nil, fmt.Errorf("unknown update kind %q", dto.Type)
	}
	update := &StateUpdate{Kind: kind}
	if len(dto.Snapshot) > 0 {
		snap, err := unmarshalValue(dto.Snapshot)
		if err != nil {
			return nil, err
		}
		update.Snapshot = snap
	}
	for _, jp := range dto.Patches {
		op, ok := state.ParsePatchOp(jp.Op)
		if !ok {
			return nil, fmt.Errorf("unknown patch op %q", jp.Op)
		}
		p := state.Patch{Path: jp.Path, Op: op}
		if op != state.OpRemove {
			v, err := unmarshalValue(jp.Value)
			if err != nil {
				return nil, err
			}
			p.Value = v
		}
		update.Patches = append(update.Patches, p)
	}
	return update, nil
}
