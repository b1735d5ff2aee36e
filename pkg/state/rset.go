package state

import (
	"sort"

	"github.com/keeperhq/landkit/internal/logger"
)

// Set is a reactive set of leaf values, tracking inserted and removed
// elements. Elements are identified by their canonical encoding, which also
// defines the documented total order of the set's snapshot array.
//
// Set mutations record one coarse patch: a set op at the set's own path
// carrying the full sorted snapshot array. Sets are expected to stay small;
// the coarse patch keeps patch application trivially idempotent.
type Set struct {
	elems map[string]Value

	inserted map[string]struct{}
	removed  map[string]struct{}

	// view state injected by the owner on access
	path  string
	rec   *Recorder
	scope Scope
}

// NewSet returns an empty reactive set.
func NewSet() *Set {
	return &Set{
		elems:    make(map[string]Value),
		inserted: make(map[string]struct{}),
		removed:  make(map[string]struct{}),
	}
}

func elemKey(v Value) string {
	return string(v.AppendCanonical(nil))
}

func (s *Set) recordSnapshot() {
	s.rec.Record(Patch{
		Path:  s.path,
		Op:    OpSet,
		Value: s.Snapshot(),
		Scope: s.scope,
	})
}

// Insert adds an element. Inserting a present element is a no-op.
func (s *Set) Insert(raw any) {
	v, err := ToValue(raw)
	if err != nil {
		logger.Warn("snapshot conversion failed, recording null",
			logger.KeyPath, s.path, logger.KeyError, err.Error())
		v = Null()
	}
	key := elemKey(v)
	if _, ok := s.elems[key]; ok {
		return
	}
	s.elems[key] = v
	if _, wasRemoved := s.removed[key]; wasRemoved {
		delete(s.removed, key)
	} else {
		s.inserted[key] = struct{}{}
	}
	s.recordSnapshot()
}

// Remove deletes an element. Removing a missing element is a no-op.
func (s *Set) Remove(raw any) {
	v, err := ToValue(raw)
	if err != nil {
		return
	}
	key := elemKey(v)
	if _, ok := s.elems[key]; !ok {
		return
	}
	delete(s.elems, key)
	if _, wasInserted := s.inserted[key]; wasInserted {
		delete(s.inserted, key)
	} else {
		s.removed[key] = struct{}{}
	}
	s.recordSnapshot()
}

// Has reports whether the element is present.
func (s *Set) Has(raw any) bool {
	v, err := ToValue(raw)
	if err != nil {
		return false
	}
	_, ok := s.elems[elemKey(v)]
	return ok
}

// Len returns the number of elements.
func (s *Set) Len() int { return len(s.elems) }

// HasDirty reports whether any element was inserted or removed.
func (s *Set) HasDirty() bool {
	return len(s.inserted) > 0 || len(s.removed) > 0
}

// CollectDirty appends this set as a dirty root when any element changed.
func (s *Set) CollectDirty(parentPath string, scope Scope, out []DirtyEntry) []DirtyEntry {
	if s.HasDirty() {
		out = append(out, DirtyEntry{Path: parentPath, Scope: scope})
	}
	return out
}

// ClearDirty resets element tracking.
func (s *Set) ClearDirty() {
	clear(s.inserted)
	clear(s.removed)
}

// Snapshot returns the elements as an array sorted by canonical encoding.
func (s *Set) Snapshot() Value {
	keys := make([]string, 0, len(s.elems))
	for k := range s.elems {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	arr := make([]Value, len(keys))
	for i, k := range keys {
		arr[i] = s.elems[k]
	}
	return Array(arr...)
}
