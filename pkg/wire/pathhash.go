package wire

import (
	"fmt"
	"sort"

	"github.com/cespare/xxhash/v2"
)

// HashPath derives the 32-bit stable hash of a patch path. The hash is the
// low half of XXH64; stability across processes and platforms is what lets
// both ends index the same table.
func HashPath(path string) uint32 {
	return uint32(xxhash.Sum64String(path))
}

// PathTable is the shared hash→path mapping used by path compression. The
// server derives it from the registered state schema and sends it inside the
// join response when compression is negotiated; the client rebuilds it from
// the received entries.
type PathTable struct {
	byHash map[uint32]string
	byPath map[string]uint32
}

// NewPathTable builds a table from schema paths. A 32-bit hash collision
// between two schema paths is refused: compression is impossible for that
// schema rather than silently lossy.
func NewPathTable(paths []string) (*PathTable, error) {
	t := &PathTable{
		byHash: make(map[uint32]string, len(paths)),
		byPath: make(map[string]uint32, len(paths)),
	}
	for _, p := range paths {
		h := HashPath(p)
		if existing, ok := t.byHash[h]; ok && existing != p {
			return nil, fmt.Errorf("path hash collision: %q and %q both hash to %d", existing, p, h)
		}
		t.byHash[h] = p
		t.byPath[p] = h
	}
	return t, nil
}

// TableFromEntries rebuilds a table from handshake entries, verifying each
// hash against the path it claims to stand for.
func TableFromEntries(entries []PathEntry) (*PathTable, error) {
	paths := make([]string, 0, len(entries))
	for _, e := range entries {
		if HashPath(e.Path) != e.Hash {
			return nil, fmt.Errorf("path table entry %q carries wrong hash %d", e.Path, e.Hash)
		}
		paths = append(paths, e.Path)
	}
	return NewPathTable(paths)
}

// Compress returns the hash for a path if the table knows it.
func (t *PathTable) Compress(path string) (uint32, bool) {
	if t == nil {
		return 0, false
	}
	h, ok := t.byPath[path]
	return h, ok
}

// Expand returns the path for a hash if the table knows it.
func (t *PathTable) Expand(hash uint32) (string, bool) {
	if t == nil {
		return "", false
	}
	p, ok := t.byHash[hash]
	return p, ok
}

// Entries returns the table in a stable order for the join response.
func (t *PathTable) Entries() []PathEntry {
	if t == nil {
		return nil
	}
	out := make([]PathEntry, 0, len(t.byPath))
	for p, h := range t.byPath {
		out = append(out, PathEntry{Hash: h, Path: p})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}
