package state

import (
	"fmt"
)

// Snapshotable is implemented by opaque leaf types that know how to convert
// themselves into a snapshot value. Conversion must be total for types that
// ever enter the state tree; a failing conversion is downgraded to a null
// patch by the containers rather than dropped.
type Snapshotable interface {
	ToSnapshotValue() (Value, error)
}

// ToValue converts an arbitrary leaf into a Value. Accepted inputs are the
// primitive Go types, Value itself, and any Snapshotable.
func ToValue(raw any) (Value, error) {
	switch t := raw.(type) {
	case Value:
		return t, nil
	case Snapshotable:
		v, err := t.ToSnapshotValue()
		if err != nil {
			return Value{}, fmt.Errorf("toSnapshotValue: %w", err)
		}
		return v, nil
	default:
		return FromInterface(raw)
	}
}
