package state

import (
	"testing"
)

func TestDiffValuesProducesApplicablePatches(t *testing.T) {
	prev := MapValue(map[string]Value{
		"count": Int(1),
		"name":  String("old"),
		"gone":  Bool(true),
		"deep":  MapValue(map[string]Value{"x": Int(1), "y": Int(2)}),
	})
	next := MapValue(map[string]Value{
		"count": Int(2),
		"name":  String("old"),
		"fresh": String("new"),
		"deep":  MapValue(map[string]Value{"x": Int(1), "z": Int(3)}),
	})

	patches := DiffValues(prev, next, "")
	if len(patches) == 0 {
		t.Fatal("expected patches")
	}
	got := ApplyPatches(prev, patches)
	if !got.Equal(next) {
		t.Errorf("diff+apply diverged:\ngot:  %v\nwant: %v", got.ToInterface(), next.ToInterface())
	}
}

func TestDiffValuesEqualInputsYieldNothing(t *testing.T) {
	v := MapValue(map[string]Value{"a": Array(Int(1), Int(2))})
	if patches := DiffValues(v, v, ""); len(patches) != 0 {
		t.Errorf("expected no patches, got %d", len(patches))
	}
}

func TestDiffValuesKindChangeReplacesWholesale(t *testing.T) {
	prev := MapValue(map[string]Value{"v": Int(1)})
	next := MapValue(map[string]Value{"v": MapValue(map[string]Value{"inner": Int(2)})})

	patches := DiffValues(prev, next, "")
	if len(patches) != 1 || patches[0].Op != OpSet || patches[0].Path != "/v" {
		t.Fatalf("expected single wholesale set, got %+v", patches)
	}
	if !ApplyPatches(prev, patches).Equal(next) {
		t.Error("apply diverged")
	}
}

func TestApplyPatchRemoveMissingKeyIsNoop(t *testing.T) {
	snap := MapValue(map[string]Value{"a": Int(1)})
	out := ApplyPatch(snap, Patch{Path: "/b", Op: OpRemove})
	if !out.Equal(snap) {
		t.Error("removing a missing key should not change the snapshot")
	}
}
