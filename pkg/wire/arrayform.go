package wire

import (
	"encoding/json"
	"fmt"

	"github.com/keeperhq/landkit/pkg/state"
)

// The opcode-array form is shared by the opcode-JSON and MessagePack
// encodings: a frame is an array whose first element is the kind opcode,
// followed by positional fields. The positional layouts below are frozen.
//
//	join           [1, requestID, landType, instanceID, playerID, deviceID, token, encoding, compression, metadata]
//	joinResponse   [2, requestID, success, landType, instanceID, landID, playerSlot, encoding, reason, pathTable]
//	action         [3, requestID, typeIdentifier, payload]
//	actionResponse [4, requestID, response]
//	event          [5, direction, type, payload]
//	error          [6, code, message, details, requestID]
//	stateUpdate    [7, updateKind, snapshot, patch...]   patch = [path, op, value?]
//	mergedUpdate   [107, stateUpdateTail, events]        stateUpdateTail = [updateKind, snapshot, patch...]
//
// With path compression on, patch paths are uint32 hashes instead of
// strings; both ends must share the table exchanged at handshake.

type valueDecoder func(raw any) (state.Value, error)

func messageToArray(msg *Message, table *PathTable) ([]any, error) {
	if err := msg.validate(); err != nil {
		return nil, err
	}
	switch msg.Kind {
	case KindJoin:
		j := msg.Join
		return []any{int64(KindJoin), j.RequestID, j.LandType, j.LandInstanceID,
			j.PlayerID, j.DeviceID, j.Token, j.Encoding, j.Compression, j.Metadata}, nil
	case KindJoinResponse:
		r := msg.JoinResponse
		var entries []any
		for _, e := range r.PathTable {
			entries = append(entries, []any{int64(e.Hash), e.Path})
		}
		return []any{int64(KindJoinResponse), r.RequestID, r.Success, r.LandType,
			r.LandInstanceID, r.LandID, int64(r.PlayerSlot), string(r.Encoding), r.Reason, entries}, nil
	case KindAction:
		a := msg.Action
		return []any{int64(KindAction), a.RequestID, a.Type, a.Payload.ToInterface()}, nil
	case KindActionResponse:
		a := msg.ActionResponse
		return []any{int64(KindActionResponse), a.RequestID, a.Response.ToInterface()}, nil
	case KindEvent:
		e := msg.Event
		return eventToArray(e), nil
	case KindError:
		e := msg.Error
		return []any{int64(KindError), string(e.Code), e.Message, e.Details.ToInterface(), e.RequestID}, nil
	case KindStateUpdate:
		tail, err := updateToTail(msg.StateUpdate, table)
		if err != nil {
			return nil, err
		}
		return append([]any{int64(KindStateUpdate)}, tail...), nil
	case KindMergedUpdate:
		tail, err := updateToTail(msg.StateUpdate, table)
		if err != nil {
			return nil, err
		}
		events := make([]any, len(msg.Events))
		for i := range msg.Events {
			events[i] = eventToArray(&msg.Events[i])
		}
		return []any{int64(KindMergedUpdate), tail, events}, nil
	}
	return nil, fmt.Errorf("unknown frame kind %d", msg.Kind)
}

func eventToArray(e *Event) []any {
	return []any{int64(KindEvent), int64(e.Direction), e.Type, e.Payload.ToInterface()}
}

func updateToTail(u *StateUpdate, table *PathTable) ([]any, error) {
	tail := []any{int64(u.Kind)}
	if u.Kind == UpdateFirstSync {
		tail = append(tail, u.Snapshot.ToInterface())
	} else {
		tail = append(tail, nil)
	}
	for _, p := range u.Patches {
		var pathField any = p.Path
		if h, ok := table.Compress(p.Path); ok {
			pathField = int64(h)
		}
		entry := []any{pathField, int64(p.Op)}
		if p.Op != state.OpRemove {
			entry = append(entry, p.Value.ToInterface())
		}
		tail = append(tail, entry)
	}
	return tail, nil
}

func messageFromArray(arr []any, table *PathTable, decodeValue valueDecoder) (*Message, error) {
	if len(arr) == 0 {
		return nil, fmt.Errorf("empty frame array")
	}
	opcode, err := asInt(arr[0])
	if err != nil {
		return nil, fmt.Errorf("bad frame opcode: %w", err)
	}

	switch Kind(opcode) {
	case KindJoin:
		if len(arr) < 10 {
			return nil, fmt.Errorf("short join frame")
		}
		meta, err := asStringMap(arr[9])
		if err != nil {
			return nil, fmt.Errorf("join metadata: %w", err)
		}
		compression, err := asBool(arr[8])
		if err != nil {
			return nil, fmt.Errorf("join compression flag: %w", err)
		}
		return &Message{Kind: KindJoin, Join: &Join{
			RequestID:      asString(arr[1]),
			LandType:       asString(arr[2]),
			LandInstanceID: asString(arr[3]),
			PlayerID:       asString(arr[4]),
			DeviceID:       asString(arr[5]),
			Token:          asString(arr[6]),
			Encoding:       asString(arr[7]),
			Compression:    compression,
			Metadata:       meta,
		}}, nil
	case KindJoinResponse:
		if len(arr) < 10 {
			return nil, fmt.Errorf("short joinResponse frame")
		}
		success, err := asBool(arr[2])
		if err != nil {
			return nil, fmt.Errorf("joinResponse success flag: %w", err)
		}
		slot, err := asInt(arr[6])
		if err != nil {
			return nil, fmt.Errorf("joinResponse slot: %w", err)
		}
		entries, err := pathEntriesFromArray(arr[9])
		if err != nil {
			return nil, err
		}
		return &Message{Kind: KindJoinResponse, JoinResponse: &JoinResponse{
			RequestID:      asString(arr[1]),
			Success:        success,
			LandType:       asString(arr[3]),
			LandInstanceID: asString(arr[4]),
			LandID:         asString(arr[5]),
			PlayerSlot:     int(slot),
			Encoding:       Encoding(asString(arr[7])),
			Reason:         asString(arr[8]),
			PathTable:      entries,
		}}, nil
	case KindAction:
		if len(arr) < 4 {
			return nil, fmt.Errorf("short action frame")
		}
		payload, err := decodeValue(arr[3])
		if err != nil {
			return nil, err
		}
		return &Message{Kind: KindAction, Action: &Action{
			RequestID: asString(arr[1]),
			Type:      asString(arr[2]),
			Payload:   payload,
		}}, nil
	case KindActionResponse:
		if len(arr) < 3 {
			return nil, fmt.Errorf("short actionResponse frame")
		}
		resp, err := decodeValue(arr[2])
		if err != nil {
			return nil, err
		}
		return &Message{Kind: KindActionResponse, ActionResponse: &ActionResponse{
			RequestID: asString(arr[1]),
			Response:  resp,
		}}, nil
	case KindEvent:
		ev, err := eventFromArray(arr, decodeValue)
		if err != nil {
			return nil, err
		}
		return &Message{Kind: KindEvent, Event: ev}, nil
	case KindError:
		if len(arr) < 5 {
			return nil, fmt.Errorf("short error frame")
		}
		details, err := decodeValue(arr[3])
		if err != nil {
			return nil, err
		}
		return &Message{Kind: KindError, Error: &ErrorFrame{
			Code:      ErrorCode(asString(arr[1])),
			Message:   asString(arr[2]),
			Details:   details,
			RequestID: asString(arr[4]),
		}}, nil
	case KindStateUpdate:
		update, err := updateFromTail(arr[1:], table, decodeValue)
		if err != nil {
			return nil, err
		}
		return &Message{Kind: KindStateUpdate, StateUpdate: update}, nil
	case KindMergedUpdate:
		if len(arr) < 3 {
			return nil, fmt.Errorf("short mergedUpdate frame")
		}
		tail, err := asArray(arr[1])
		if err != nil {
			return nil, fmt.Errorf("mergedUpdate state update: %w", err)
		}
		update, err := updateFromTail(tail, table, decodeValue)
		if err != nil {
			return nil, err
		}
		rawEvents, err := asArray(arr[2])
		if err != nil {
			return nil, fmt.Errorf("mergedUpdate events: %w", err)
		}
		events := make([]Event, 0, len(rawEvents))
		for _, raw := range rawEvents {
			evArr, err := asArray(raw)
			if err != nil {
				return nil, fmt.Errorf("mergedUpdate event entry: %w", err)
			}
			ev, err := eventFromArray(evArr, decodeValue)
			if err != nil {
				return nil, err
			}
			events = append(events, *ev)
		}
		return &Message{Kind: KindMergedUpdate, StateUpdate: update, Events: events}, nil
	}
	return nil, fmt.Errorf("unknown frame opcode %d", opcode)
}

func eventFromArray(arr []any, decodeValue valueDecoder) (*Event, error) {
	if len(arr) < 4 {
		return nil, fmt.Errorf("short event frame")
	}
	dir, err := asInt(arr[1])
	if err != nil {
		return nil, fmt.Errorf("event direction: %w", err)
	}
	payload, err := decodeValue(arr[3])
	if err != nil {
		return nil, err
	}
	return &Event{Direction: EventDirection(dir), Type: asString(arr[2]), Payload: payload}, nil
}

func updateFromTail(tail []any, table *PathTable, decodeValue valueDecoder) (*StateUpdate, error) {
	if len(tail) < 2 {
		return nil, fmt.Errorf("short stateUpdate frame")
	}
	kind, err := asInt(tail[0])
	if err != nil {
		return nil, fmt.Errorf("update kind: %w", err)
	}
	switch UpdateKind(kind) {
	case UpdateNoChange, UpdateFirstSync, UpdateDiff:
	default:
		return nil, fmt.Errorf("unknown update kind %d", kind)
	}
	update := &StateUpdate{Kind: UpdateKind(kind)}
	if tail[1] != nil {
		snap, err := decodeValue(tail[1])
		if err != nil {
			return nil, err
		}
		update.Snapshot = snap
	}
	for _, raw := range tail[2:] {
		entry, err := asArray(raw)
		if err != nil {
			return nil, fmt.Errorf("patch entry: %w", err)
		}
		if len(entry) < 2 {
			return nil, fmt.Errorf("short patch entry")
		}
		path, err := patchPath(entry[0], table)
		if err != nil {
			return nil, err
		}
		op, err := asInt(entry[1])
		if err != nil {
			return nil, fmt.Errorf("patch op: %w", err)
		}
		p := state.Patch{Path: path, Op: state.PatchOp(op)}
		switch p.Op {
		case state.OpSet, state.OpAdd:
			if len(entry) < 3 {
				return nil, fmt.Errorf("patch %s missing value", path)
			}
			v, err := decodeValue(entry[2])
			if err != nil {
				return nil, err
			}
			p.Value = v
		case state.OpRemove:
		default:
			return nil, fmt.Errorf("unknown patch op %d", op)
		}
		update.Patches = append(update.Patches, p)
	}
	return update, nil
}

// patchPath resolves a wire path field: a string is used as-is, a number is
// a compressed path hash looked up in the shared table.
func patchPath(raw any, table *PathTable) (string, error) {
	if s, ok := raw.(string); ok {
		return s, nil
	}
	h, err := asInt(raw)
	if err != nil {
		return "", fmt.Errorf("patch path: %w", err)
	}
	path, ok := table.Expand(uint32(h))
	if !ok {
		return "", fmt.Errorf("unknown compressed path hash %d", h)
	}
	return path, nil
}

func pathEntriesFromArray(raw any) ([]PathEntry, error) {
	if raw == nil {
		return nil, nil
	}
	arr, err := asArray(raw)
	if err != nil {
		return nil, fmt.Errorf("path table: %w", err)
	}
	var out []PathEntry
	for _, e := range arr {
		pair, err := asArray(e)
		if err != nil || len(pair) != 2 {
			return nil, fmt.Errorf("malformed path table entry")
		}
		h, err := asInt(pair[0])
		if err != nil {
			return nil, fmt.Errorf("path table hash: %w", err)
		}
		out = append(out, PathEntry{Hash: uint32(h), Path: asString(pair[1])})
	}
	return out, nil
}

// Loose scalar coercions. The JSON and MessagePack decoders produce
// different concrete number types for the same wire value; these helpers
// absorb the difference.

func asInt(raw any) (int64, error) {
	switch t := raw.(type) {
	case int64:
		return t, nil
	case int:
		return int64(t), nil
	case uint64:
		return int64(t), nil
	case float64:
		return int64(t), nil
	case json.Number:
		return t.Int64()
	default:
		return 0, fmt.Errorf("expected integer, got %T", raw)
	}
}

func asBool(raw any) (bool, error) {
	b, ok := raw.(bool)
	if !ok {
		return false, fmt.Errorf("expected bool, got %T", raw)
	}
	return b, nil
}

func asString(raw any) string {
	s, _ := raw.(string)
	return s
}

func asArray(raw any) ([]any, error) {
	arr, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("expected array, got %T", raw)
	}
	return arr, nil
}

func asStringMap(raw any) (map[string]any, error) {
	switch t := raw.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return t, nil
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, v := range t {
			ks, ok := k.(string)
			if !ok {
				return nil, fmt.Errorf("non-string metadata key %T", k)
			}
			out[ks] = v
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected map, got %T", raw)
	}
}
