package state

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func newBoundRoot() (*Container, *Recorder) {
	root := NewContainer()
	rec := NewRecorder()
	root.Bind("", rec)
	return root, rec
}

func TestSetFieldRecordsAbsolutePath(t *testing.T) {
	root, rec := newBoundRoot()
	root.SetField("count", int64(2))

	patches := rec.Patches()
	if len(patches) != 1 {
		t.Fatalf("expected 1 patch, got %d", len(patches))
	}
	p := patches[0]
	if p.Path != "/count" || p.Op != OpSet || p.Value.IntVal() != 2 {
		t.Errorf("unexpected patch: %+v", p)
	}
	if p.Scope.Policy != PolicyBroadcast {
		t.Errorf("default scope should be broadcast, got %s", p.Scope.Policy)
	}
}

func TestNestedViewCarriesParentPath(t *testing.T) {
	root, rec := newBoundRoot()
	world := root.Container("world")
	world.SetField("width", int64(100))

	p := rec.Patches()[len(rec.Patches())-1]
	if p.Path != "/world/width" {
		t.Errorf("expected /world/width, got %s", p.Path)
	}
}

func TestPathEscaping(t *testing.T) {
	root, rec := newBoundRoot()
	root.Map("items").SetKey("a/b~c", int64(1))

	p := rec.Patches()[len(rec.Patches())-1]
	if p.Path != "/items/a~1b~0c" {
		t.Errorf("expected escaped path, got %s", p.Path)
	}
	tokens := SplitPath(p.Path)
	if len(tokens) != 2 || tokens[1] != "a/b~c" {
		t.Errorf("unescape failed: %v", tokens)
	}
}

func TestPerPlayerScopePropagation(t *testing.T) {
	root, rec := newBoundRoot()
	if err := root.DefineField("players", PolicyPerPlayer); err != nil {
		t.Fatal(err)
	}

	p1 := root.Map("players").Container("P1")
	p1.SetField("score", int64(10))

	p := rec.Patches()[len(rec.Patches())-1]
	if p.Path != "/players/P1/score" {
		t.Errorf("unexpected path %s", p.Path)
	}
	if p.Scope.Policy != PolicyPerPlayer || p.Scope.PlayerKey != "P1" {
		t.Errorf("unexpected scope %+v", p.Scope)
	}
	if !p.Scope.VisibleTo("P1") {
		t.Error("patch must be visible to its own player")
	}
	if p.Scope.VisibleTo("P2") {
		t.Error("per-player patch leaked cross-player")
	}
}

func TestInternalScopeWinsOverChildren(t *testing.T) {
	root, rec := newBoundRoot()
	if err := root.DefineField("secrets", PolicyInternal); err != nil {
		t.Fatal(err)
	}
	root.Container("secrets").SetField("seed", int64(99))

	p := rec.Patches()[len(rec.Patches())-1]
	if p.Scope.Policy != PolicyInternal {
		t.Errorf("internal containment broken, got %s", p.Scope.Policy)
	}
	if p.Scope.VisibleTo("anyone") {
		t.Error("internal patch must not be visible")
	}
}

func TestPolicyImmutableAfterDeclaration(t *testing.T) {
	root, _ := newBoundRoot()
	if err := root.DefineField("players", PolicyPerPlayer); err != nil {
		t.Fatal(err)
	}
	if err := root.DefineField("players", PolicyPerPlayer); err != nil {
		t.Errorf("idempotent redefinition should succeed: %v", err)
	}
	if err := root.DefineField("players", PolicyBroadcast); err == nil {
		t.Error("conflicting redefinition should fail")
	}
}

type badLeaf struct{}

func (badLeaf) ToSnapshotValue() (Value, error) {
	return Value{}, errors.New("not convertible")
}

func TestFailedConversionRecordsNullFallback(t *testing.T) {
	root, rec := newBoundRoot()
	root.SetField("weird", badLeaf{})

	patches := rec.Patches()
	if len(patches) != 1 {
		t.Fatalf("fallback patch missing, got %d patches", len(patches))
	}
	if !patches[0].Value.IsNull() {
		t.Error("fallback patch should carry null")
	}
	if v, ok := root.Field("weird"); !ok || !v.IsNull() {
		t.Error("storage should hold null after failed conversion")
	}
}

func TestMapKeyTracking(t *testing.T) {
	root, _ := newBoundRoot()
	m := root.Map("scores")

	m.SetKey("a", int64(1))
	m.SetKey("a", int64(2))
	m.SetKey("b", int64(3))
	m.DeleteKey("b") // inserted then removed in the same tick: net nothing
	m.DeleteKey("missing")

	entries := m.CollectDirty("/scores", Scope{}, nil)
	paths := map[string]bool{}
	for _, e := range entries {
		paths[e.Path] = true
	}
	if !paths["/scores/a"] {
		t.Error("key a should be dirty")
	}
	if paths["/scores/missing"] {
		t.Error("deleting a missing key must not mark dirty")
	}
}

func TestDirtyBitsRetainedAlongsidePatches(t *testing.T) {
	root, rec := newBoundRoot()
	root.SetField("count", int64(1))

	if rec.Len() != 1 {
		t.Fatal("patch not recorded")
	}
	if !root.HasDirty() {
		t.Fatal("dirty bit must be retained while recording patches")
	}
	root.ClearDirty()
	if root.HasDirty() {
		t.Fatal("ClearDirty did not reset")
	}
}

func TestSetSemantics(t *testing.T) {
	root, rec := newBoundRoot()
	s := root.Set("tags")

	s.Insert("red")
	s.Insert("blue")
	s.Insert("red") // duplicate: no-op
	if s.Len() != 2 {
		t.Fatalf("expected 2 elements, got %d", s.Len())
	}
	s.Remove("green") // missing: no-op
	s.Remove("red")
	if s.Has("red") {
		t.Error("red should be removed")
	}

	// Coarse patches: last patch carries the full sorted snapshot.
	last := rec.Patches()[rec.Len()-1]
	if last.Path != "/tags" || last.Op != OpSet {
		t.Errorf("unexpected set patch: %+v", last)
	}
	arr := last.Value.ArrayVal()
	if len(arr) != 1 || arr[0].StringVal() != "blue" {
		t.Errorf("unexpected set snapshot: %v", last.Value.ToInterface())
	}
}

func TestSnapshotForFiltersVisibility(t *testing.T) {
	root, _ := newBoundRoot()
	root.SetField("count", int64(5))
	if err := root.DefineField("players", PolicyPerPlayer); err != nil {
		t.Fatal(err)
	}
	if err := root.DefineField("rngSeed", PolicyInternal); err != nil {
		t.Fatal(err)
	}
	root.SetField("rngSeed", int64(1234))
	root.Map("players").Container("P1").SetField("score", int64(10))
	root.Map("players").Container("P2").SetField("score", int64(20))

	got := root.SnapshotFor("P1", Scope{}).ToInterface()
	want := map[string]any{
		"count": int64(5),
		"players": map[string]any{
			"P1": map[string]any{"score": int64(10)},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("filtered snapshot mismatch (-want +got):\n%s", diff)
	}

	// The full snapshot still includes internal state for hashing.
	full := root.Snapshot()
	if _, ok := full.Get("rngSeed"); !ok {
		t.Error("full snapshot must include internal fields")
	}
}

func TestPatchStreamMatchesFilteredSnapshot(t *testing.T) {
	root, rec := newBoundRoot()
	if err := root.DefineField("players", PolicyPerPlayer); err != nil {
		t.Fatal(err)
	}

	before := root.SnapshotFor("P1", Scope{})

	root.SetField("round", int64(3))
	root.Map("players").Container("P1").SetField("score", int64(7))
	root.Map("players").Container("P2").SetField("score", int64(9))

	var visible []Patch
	for _, p := range rec.Patches() {
		if p.Scope.VisibleTo("P1") {
			visible = append(visible, p)
		}
	}
	replayed := ApplyPatches(before, visible)
	authoritative := root.SnapshotFor("P1", Scope{})

	if !replayed.Equal(authoritative) {
		t.Errorf("patch replay diverged:\nreplayed:      %v\nauthoritative: %v",
			replayed.ToInterface(), authoritative.ToInterface())
	}
}
