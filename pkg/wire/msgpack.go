package wire

import (
	"fmt"

	"github.com/keeperhq/landkit/pkg/state"
	"github.com/ugorji/go/codec"
)

// msgpackHandle is the shared MessagePack configuration. RawToString makes
// string-typed wire data decode as Go strings; WriteExt keeps binary blobs
// as native msgpack bin values so bytes survive a round trip.
var msgpackHandle = func() *codec.MsgpackHandle {
	h := &codec.MsgpackHandle{}
	h.RawToString = true
	h.WriteExt = true
	// Canonical map ordering keeps Encode(Decode(frame)) byte-stable.
	h.Canonical = true
	return h
}()

// MsgpackCodec implements the MessagePack encoding: the opcode-array shape
// serialized with a MessagePack codec. This is the densest encoding and the
// only one supporting merged update frames (opcode 107).
type MsgpackCodec struct {
	Table *PathTable
}

// Encoding implements Codec.
func (c *MsgpackCodec) Encoding() Encoding { return EncodingMessagePack }

// Encode implements Codec.
func (c *MsgpackCodec) Encode(msg *Message) ([]byte, error) {
	arr, err := messageToArray(msg, c.Table)
	if err != nil {
		return nil, err
	}
	var out []byte
	if err := codec.NewEncoderBytes(&out, msgpackHandle).Encode(arr); err != nil {
		return nil, fmt.Errorf("msgpack encode: %w", err)
	}
	return out, nil
}

// Decode implements Codec.
func (c *MsgpackCodec) Decode(data []byte) (*Message, error) {
	var raw any
	if err := codec.NewDecoderBytes(data, msgpackHandle).Decode(&raw); err != nil {
		return nil, fmt.Errorf("malformed frame: %w", err)
	}
	arr, err := asArray(raw)
	if err != nil {
		return nil, fmt.Errorf("malformed frame: %w", err)
	}
	return messageFromArray(arr, c.Table, msgpackToValue)
}

func msgpackToValue(raw any) (state.Value, error) {
	return state.FromInterface(raw)
}
