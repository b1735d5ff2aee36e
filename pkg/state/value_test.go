package state

import (
	"bytes"
	"testing"
)

func TestValueEqual(t *testing.T) {
	cases := []struct {
		name string
		a, b Value
		want bool
	}{
		{"null", Null(), Null(), true},
		{"bool", Bool(true), Bool(true), true},
		{"bool mismatch", Bool(true), Bool(false), false},
		{"int", Int(42), Int(42), true},
		{"int vs double", Int(1), Double(1), false},
		{"string", String("a"), String("a"), true},
		{"bytes", Bytes([]byte{1, 2}), Bytes([]byte{1, 2}), true},
		{"bytes mismatch", Bytes([]byte{1}), Bytes([]byte{2}), false},
		{"array", Array(Int(1), Int(2)), Array(Int(1), Int(2)), true},
		{"array order", Array(Int(1), Int(2)), Array(Int(2), Int(1)), false},
		{"map", MapValue(map[string]Value{"x": Int(1)}), MapValue(map[string]Value{"x": Int(1)}), true},
		{"map missing key", MapValue(map[string]Value{"x": Int(1)}), MapValue(map[string]Value{}), false},
	}
	for _, tc := range cases {
		if got := tc.a.Equal(tc.b); got != tc.want {
			t.Errorf("%s: Equal = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestCanonicalEncodingIsKeyOrderIndependent(t *testing.T) {
	a := MapValue(map[string]Value{"alpha": Int(1), "beta": String("x"), "gamma": Bool(true)})
	b := MapValue(map[string]Value{"gamma": Bool(true), "alpha": Int(1), "beta": String("x")})

	if !bytes.Equal(a.AppendCanonical(nil), b.AppendCanonical(nil)) {
		t.Fatal("canonical encoding differs for identical maps")
	}
	if a.Hash() != b.Hash() {
		t.Fatal("hash differs for identical maps")
	}
}

func TestCanonicalEncodingDistinguishesIntAndDouble(t *testing.T) {
	if bytes.Equal(Int(1).AppendCanonical(nil), Double(1).AppendCanonical(nil)) {
		t.Fatal("int and double must encode differently")
	}
}

func TestFromInterfaceRoundTrip(t *testing.T) {
	raw := map[string]any{
		"n":    nil,
		"b":    true,
		"i":    int64(-7),
		"f":    3.5,
		"s":    "hello",
		"arr":  []any{int64(1), "two"},
		"deep": map[string]any{"k": int64(9)},
	}
	v, err := FromInterface(raw)
	if err != nil {
		t.Fatalf("FromInterface: %v", err)
	}
	back, err := FromInterface(v.ToInterface())
	if err != nil {
		t.Fatalf("round trip: %v", err)
	}
	if !v.Equal(back) {
		t.Fatal("ToInterface/FromInterface round trip changed the value")
	}
}

func TestFromInterfaceRejectsUnsupported(t *testing.T) {
	if _, err := FromInterface(struct{}{}); err == nil {
		t.Fatal("expected error for unsupported type")
	}
}

func TestCloneIsDeep(t *testing.T) {
	inner := map[string]Value{"x": Int(1)}
	v := MapValue(map[string]Value{"m": MapValue(inner)})
	c := v.Clone()

	inner["x"] = Int(2)
	got, _ := c.MapVal()["m"].Get("x")
	if got.IntVal() != 1 {
		t.Fatal("clone shares substructure with the original")
	}
}
