package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// OpArrayCodec implements the opcode-array encoding serialized as JSON:
// smaller than the object encoding because field names are positional, yet
// still human-inspectable. With a shared path table, patch paths shrink to
// 32-bit hashes.
type OpArrayCodec struct {
	Table *PathTable
}

// Encoding implements Codec.
func (c *OpArrayCodec) Encoding() Encoding { return EncodingOpArray }

// Encode implements Codec.
func (c *OpArrayCodec) Encode(msg *Message) ([]byte, error) {
	arr, err := messageToArray(msg, c.Table)
	if err != nil {
		return nil, err
	}
	return json.Marshal(arr)
}

// Decode implements Codec.
func (c *OpArrayCodec) Decode(data []byte) (*Message, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var arr []any
	if err := dec.Decode(&arr); err != nil {
		return nil, fmt.Errorf("malformed frame: %w", err)
	}
	// jsonToValue doubles as the payload decoder so numeric leaves keep
	// their int/double distinction; asInt absorbs json.Number in the
	// positional slots.
	return messageFromArray(arr, c.Table, jsonToValue)
}
