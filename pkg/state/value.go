// Package state implements the authoritative state tree of a land: snapshot
// values, reactive containers with dirty tracking, patch recording, and
// snapshot diffing.
//
// The state tree is owned by exactly one keeper loop at a time. None of the
// types in this package are safe for concurrent use; serialization is the
// keeper's job.
package state

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
)

// Kind identifies the variant held by a Value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindDouble
	KindString
	KindBytes
	KindArray
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindDouble:
		return "double"
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	case KindArray:
		return "array"
	case KindMap:
		return "map"
	default:
		return "unknown"
	}
}

// Value is the closed sum type every state leaf converts into before it is
// encoded, diffed, or hashed. A Value is immutable by convention: callers
// must not modify the array or map a Value holds after construction.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	bs   []byte
	arr  []Value
	m    map[string]Value
}

// Null returns the null Value.
func Null() Value { return Value{kind: KindNull} }

// Bool returns a boolean Value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Int returns a 64-bit integer Value.
func Int(i int64) Value { return Value{kind: KindInt, i: i} }

// Double returns a float Value.
func Double(f float64) Value { return Value{kind: KindDouble, f: f} }

// String returns a string Value.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Bytes returns a byte-slice Value. The slice is not copied.
func Bytes(b []byte) Value { return Value{kind: KindBytes, bs: b} }

// Array returns an ordered array Value. The slice is not copied.
func Array(vs ...Value) Value { return Value{kind: KindArray, arr: vs} }

// MapValue returns an ordered-by-key map Value. The map is not copied.
func MapValue(m map[string]Value) Value {
	if m == nil {
		m = map[string]Value{}
	}
	return Value{kind: KindMap, m: m}
}

// Kind returns the variant of the value.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether the value is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// BoolVal returns the boolean payload. Valid only for KindBool.
func (v Value) BoolVal() bool { return v.b }

// IntVal returns the integer payload. Valid only for KindInt.
func (v Value) IntVal() int64 { return v.i }

// DoubleVal returns the float payload. Valid only for KindDouble.
func (v Value) DoubleVal() float64 { return v.f }

// StringVal returns the string payload. Valid only for KindString.
func (v Value) StringVal() string { return v.s }

// BytesVal returns the bytes payload. Valid only for KindBytes.
func (v Value) BytesVal() []byte { return v.bs }

// ArrayVal returns the array payload. Valid only for KindArray.
func (v Value) ArrayVal() []Value { return v.arr }

// MapVal returns the map payload. Valid only for KindMap.
func (v Value) MapVal() map[string]Value { return v.m }

// Get returns the child value under key for a map Value.
func (v Value) Get(key string) (Value, bool) {
	if v.kind != KindMap {
		return Value{}, false
	}
	c, ok := v.m[key]
	return c, ok
}

// SortedKeys returns the map keys in ascending order. Valid only for KindMap.
func (v Value) SortedKeys() []string {
	keys := make([]string, 0, len(v.m))
	for k := range v.m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Equal reports deep equality of two values. Int and Double never compare
// equal even when numerically identical: the encoding distinguishes them.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindInt:
		return v.i == o.i
	case KindDouble:
		return v.f == o.f
	case KindString:
		return v.s == o.s
	case KindBytes:
		if len(v.bs) != len(o.bs) {
			return false
		}
		for i := range v.bs {
			if v.bs[i] != o.bs[i] {
				return false
			}
		}
		return true
	case KindArray:
		if len(v.arr) != len(o.arr) {
			return false
		}
		for i := range v.arr {
			if !v.arr[i].Equal(o.arr[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.m) != len(o.m) {
			return false
		}
		for k, c := range v.m {
			oc, ok := o.m[k]
			if !ok || !c.Equal(oc) {
				return false
			}
		}
		return true
	}
	return false
}

// Clone returns a deep copy of the value.
func (v Value) Clone() Value {
	switch v.kind {
	case KindBytes:
		bs := make([]byte, len(v.bs))
		copy(bs, v.bs)
		return Value{kind: KindBytes, bs: bs}
	case KindArray:
		arr := make([]Value, len(v.arr))
		for i := range v.arr {
			arr[i] = v.arr[i].Clone()
		}
		return Value{kind: KindArray, arr: arr}
	case KindMap:
		m := make(map[string]Value, len(v.m))
		for k, c := range v.m {
			m[k] = c.Clone()
		}
		return Value{kind: KindMap, m: m}
	default:
		return v
	}
}

// ToInterface converts the value into the natural Go representation used by
// the wire codecs: nil, bool, int64, float64, string, []byte, []any and
// map[string]any.
func (v Value) ToInterface() any {
	switch v.kind {
	case KindNull:
		return nil
	case KindBool:
		return v.b
	case KindInt:
		return v.i
	case KindDouble:
		return v.f
	case KindString:
		return v.s
	case KindBytes:
		return v.bs
	case KindArray:
		out := make([]any, len(v.arr))
		for i := range v.arr {
			out[i] = v.arr[i].ToInterface()
		}
		return out
	case KindMap:
		out := make(map[string]any, len(v.m))
		for k, c := range v.m {
			out[k] = c.ToInterface()
		}
		return out
	}
	return nil
}

// FromInterface converts a decoded wire payload back into a Value. Numeric
// types collapse as the codec produced them: all signed/unsigned integer
// widths become KindInt, float32/64 become KindDouble. json.Number style
// floats that carry an integral value stay doubles; the codecs are
// responsible for decoding integers as integers.
func FromInterface(raw any) (Value, error) {
	switch t := raw.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(t), nil
	case int:
		return Int(int64(t)), nil
	case int8:
		return Int(int64(t)), nil
	case int16:
		return Int(int64(t)), nil
	case int32:
		return Int(int64(t)), nil
	case int64:
		return Int(t), nil
	case uint:
		return Int(int64(t)), nil
	case uint8:
		return Int(int64(t)), nil
	case uint16:
		return Int(int64(t)), nil
	case uint32:
		return Int(int64(t)), nil
	case uint64:
		return Int(int64(t)), nil
	case float32:
		return Double(float64(t)), nil
	case float64:
		return Double(t), nil
	case string:
		return String(t), nil
	case []byte:
		return Bytes(t), nil
	case []any:
		arr := make([]Value, len(t))
		for i := range t {
			v, err := FromInterface(t[i])
			if err != nil {
				return Value{}, err
			}
			arr[i] = v
		}
		return Array(arr...), nil
	case map[string]any:
		m := make(map[string]Value, len(t))
		for k, c := range t {
			v, err := FromInterface(c)
			if err != nil {
				return Value{}, err
			}
			m[k] = v
		}
		return MapValue(m), nil
	case map[any]any:
		// Some codecs decode maps with interface keys.
		m := make(map[string]Value, len(t))
		for k, c := range t {
			ks, ok := k.(string)
			if !ok {
				return Value{}, fmt.Errorf("non-string map key %T", k)
			}
			v, err := FromInterface(c)
			if err != nil {
				return Value{}, err
			}
			m[ks] = v
		}
		return MapValue(m), nil
	default:
		return Value{}, fmt.Errorf("unsupported value type %T", raw)
	}
}

// Canonical byte encoding type tags. The tags are frozen: the replay hash
// chain depends on them.
const (
	tagNull   = 0x00
	tagFalse  = 0x01
	tagTrue   = 0x02
	tagInt    = 0x03
	tagDouble = 0x04
	tagString = 0x05
	tagBytes  = 0x06
	tagArray  = 0x07
	tagMap    = 0x08
)

// AppendCanonical appends the canonical byte encoding of the value to buf.
// The encoding is total and injective: byte-identical output implies
// structurally identical values. Map entries are visited in ascending key
// order; this is what makes state hashing deterministic.
func (v Value) AppendCanonical(buf []byte) []byte {
	switch v.kind {
	case KindNull:
		return append(buf, tagNull)
	case KindBool:
		if v.b {
			return append(buf, tagTrue)
		}
		return append(buf, tagFalse)
	case KindInt:
		buf = append(buf, tagInt)
		return binary.BigEndian.AppendUint64(buf, uint64(v.i))
	case KindDouble:
		buf = append(buf, tagDouble)
		return binary.BigEndian.AppendUint64(buf, math.Float64bits(v.f))
	case KindString:
		buf = append(buf, tagString)
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(v.s)))
		return append(buf, v.s...)
	case KindBytes:
		buf = append(buf, tagBytes)
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(v.bs)))
		return append(buf, v.bs...)
	case KindArray:
		buf = append(buf, tagArray)
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(v.arr)))
		for i := range v.arr {
			buf = v.arr[i].AppendCanonical(buf)
		}
		return buf
	case KindMap:
		buf = append(buf, tagMap)
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(v.m)))
		for _, k := range v.SortedKeys() {
			buf = binary.BigEndian.AppendUint32(buf, uint32(len(k)))
			buf = append(buf, k...)
			buf = v.m[k].AppendCanonical(buf)
		}
		return buf
	}
	return buf
}

// Hash returns the SHA-256 digest of the canonical encoding. This is the
// per-tick state hash recorded in replay records.
func (v Value) Hash() [32]byte {
	return sha256.Sum256(v.AppendCanonical(nil))
}
