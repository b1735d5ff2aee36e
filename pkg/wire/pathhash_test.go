package wire

import (
	"testing"
)

func TestHashPathIsStable(t *testing.T) {
	// Frozen expectation: the table exchanged at handshake relies on both
	// ends computing the same hash for the same path.
	if HashPath("/count") != HashPath("/count") {
		t.Fatal("hash not deterministic")
	}
	if HashPath("/count") == HashPath("/players") {
		t.Fatal("distinct paths should not collide in this fixture")
	}
}

func TestPathTableRoundTrip(t *testing.T) {
	table, err := NewPathTable([]string{"/count", "/players", "/world/width"})
	if err != nil {
		t.Fatalf("NewPathTable: %v", err)
	}

	h, ok := table.Compress("/count")
	if !ok {
		t.Fatal("known path should compress")
	}
	path, ok := table.Expand(h)
	if !ok || path != "/count" {
		t.Fatalf("expand mismatch: %q", path)
	}
	if _, ok := table.Compress("/unknown"); ok {
		t.Fatal("unknown path must not compress")
	}

	rebuilt, err := TableFromEntries(table.Entries())
	if err != nil {
		t.Fatalf("TableFromEntries: %v", err)
	}
	if _, ok := rebuilt.Compress("/world/width"); !ok {
		t.Fatal("rebuilt table lost a path")
	}
}

func TestTableFromEntriesRejectsBadHash(t *testing.T) {
	if _, err := TableFromEntries([]PathEntry{{Hash: 1, Path: "/count"}}); err == nil {
		t.Fatal("wrong hash must be rejected")
	}
}

func TestNilTableIsInert(t *testing.T) {
	var table *PathTable
	if _, ok := table.Compress("/x"); ok {
		t.Fatal("nil table should not compress")
	}
	if _, ok := table.Expand(1); ok {
		t.Fatal("nil table should not expand")
	}
	if table.Entries() != nil {
		t.Fatal("nil table has no entries")
	}
}
