package wire

import (
	"fmt"
)

// Codec encodes and decodes frames for one wire encoding. Implementations
// are stateless apart from an optional shared path table and safe for
// concurrent use.
type Codec interface {
	// Encoding returns the encoding this codec implements.
	Encoding() Encoding

	// Encode serializes one frame.
	Encode(msg *Message) ([]byte, error)

	// Decode parses one frame. Decoding never trusts the peer: malformed
	// input yields an error, not a panic.
	Decode(data []byte) (*Message, error)
}

// ForEncoding returns the codec for an encoding. The path table may be nil,
// disabling path compression; both ends of a session must agree on the same
// table for compression to round-trip.
func ForEncoding(e Encoding, table *PathTable) (Codec, error) {
	switch e {
	case EncodingJSON:
		return &JSONCodec{}, nil
	case EncodingOpArray:
		return &OpArrayCodec{Table: table}, nil
	case EncodingMessagePack:
		return &MsgpackCodec{Table: table}, nil
	default:
		return nil, fmt.Errorf("unsupported encoding %q", e)
	}
}
