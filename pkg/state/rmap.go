package state

import (
	"fmt"

	"github.com/keeperhq/landkit/internal/logger"
)

// Map is a reactive mapping from string key to value, tracking inserted,
// updated and removed keys. Values are leaf snapshot values or nested
// containers.
//
// A map declared perPlayer in its parent container keys its entries by
// PlayerID: entry K and everything below it is visible only to player K.
type Map struct {
	entries map[string]any

	inserted map[string]struct{}
	updated  map[string]struct{}
	removed  map[string]struct{}

	// view state injected by the owner on access
	path  string
	rec   *Recorder
	scope Scope
}

// NewMap returns an empty reactive map.
func NewMap() *Map {
	return &Map{
		entries:  make(map[string]any),
		inserted: make(map[string]struct{}),
		updated:  make(map[string]struct{}),
		removed:  make(map[string]struct{}),
	}
}

// entryScope derives the scope of the entry under key. A per-player map
// whose player key is not yet bound binds it to the entry key here.
func (m *Map) entryScope(key string) Scope {
	if m.scope.Policy == PolicyPerPlayer && m.scope.PlayerKey == "" {
		return Scope{Policy: PolicyPerPlayer, PlayerKey: key}
	}
	return m.scope
}

func (m *Map) entryPath(key string) string {
	return JoinPath(m.path, key)
}

func (m *Map) markSet(key string, existed bool) {
	if existed {
		if _, wasInserted := m.inserted[key]; !wasInserted {
			m.updated[key] = struct{}{}
		}
	} else {
		if _, wasRemoved := m.removed[key]; wasRemoved {
			delete(m.removed, key)
			m.updated[key] = struct{}{}
		} else {
			m.inserted[key] = struct{}{}
		}
	}
}

// SetKey sets the entry under key to a leaf value: storage, dirty key
// tracking and patch recording happen together. A failed snapshot conversion
// records a null fallback patch.
func (m *Map) SetKey(key string, raw any) {
	v, err := ToValue(raw)
	if err != nil {
		logger.Warn("snapshot conversion failed, recording null",
			logger.KeyPath, m.entryPath(key), logger.KeyError, err.Error())
		v = Null()
	}
	_, existed := m.entries[key]
	m.entries[key] = v
	m.markSet(key, existed)

	op := OpSet
	if !existed {
		op = OpAdd
	}
	m.rec.Record(Patch{
		Path:  m.entryPath(key),
		Op:    op,
		Value: v,
		Scope: m.entryScope(key),
	})
}

// DeleteKey removes the entry under key and records a remove patch.
// Removing a missing key is a no-op.
func (m *Map) DeleteKey(key string) {
	if _, ok := m.entries[key]; !ok {
		return
	}
	delete(m.entries, key)
	if _, wasInserted := m.inserted[key]; wasInserted {
		delete(m.inserted, key)
	} else {
		delete(m.updated, key)
		m.removed[key] = struct{}{}
	}
	m.rec.Record(Patch{
		Path:  m.entryPath(key),
		Op:    OpRemove,
		Scope: m.entryScope(key),
	})
}

// Get returns the leaf value under key.
func (m *Map) Get(key string) (Value, bool) {
	v, ok := m.entries[key].(Value)
	return v, ok
}

// Container returns the nested container under key, creating it on first
// access. Creation marks the key inserted. The returned view carries the
// entry's absolute path, the active recorder and the entry scope, so
// mutations through it record correctly scoped per-player patches.
func (m *Map) Container(key string) *Container {
	node, ok := m.entries[key]
	if !ok {
		node = NewContainer()
		m.entries[key] = node
		m.markSet(key, false)
	}
	child, isContainer := node.(*Container)
	if !isContainer {
		panic(fmt.Sprintf("state: map entry %q is %T, not a container", key, node))
	}
	child.path = m.entryPath(key)
	child.rec = m.rec
	child.scope = m.entryScope(key)
	return child
}

// Has reports whether key is present.
func (m *Map) Has(key string) bool {
	_, ok := m.entries[key]
	return ok
}

// Len returns the number of entries.
func (m *Map) Len() int { return len(m.entries) }

// Keys returns all entry keys in unspecified order.
func (m *Map) Keys() []string {
	keys := make([]string, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	return keys
}

// HasDirty reports whether the map tracked any key change or holds a dirty
// nested container.
func (m *Map) HasDirty() bool {
	if len(m.inserted) > 0 || len(m.updated) > 0 || len(m.removed) > 0 {
		return true
	}
	for _, node := range m.entries {
		if c, ok := node.(*Container); ok && c.HasDirty() {
			return true
		}
	}
	return false
}

// CollectDirty appends the dirty entry roots of this map.
func (m *Map) CollectDirty(parentPath string, scope Scope, out []DirtyEntry) []DirtyEntry {
	dirtyKeys := make(map[string]struct{}, len(m.inserted)+len(m.updated)+len(m.removed))
	for k := range m.inserted {
		dirtyKeys[k] = struct{}{}
	}
	for k := range m.updated {
		dirtyKeys[k] = struct{}{}
	}
	for k := range m.removed {
		dirtyKeys[k] = struct{}{}
	}
	entryScopeAt := func(key string) Scope {
		if scope.Policy == PolicyPerPlayer && scope.PlayerKey == "" {
			return Scope{Policy: PolicyPerPlayer, PlayerKey: key}
		}
		return scope
	}
	for k := range dirtyKeys {
		out = append(out, DirtyEntry{Path: JoinPath(parentPath, k), Scope: entryScopeAt(k)})
	}
	for k, node := range m.entries {
		if _, alreadyDirty := dirtyKeys[k]; alreadyDirty {
			continue
		}
		if c, ok := node.(*Container); ok {
			out = c.CollectDirty(JoinPath(parentPath, k), entryScopeAt(k), out)
		}
	}
	return out
}

// ClearDirty resets the key tracking and recurses into nested containers.
func (m *Map) ClearDirty() {
	clear(m.inserted)
	clear(m.updated)
	clear(m.removed)
	for _, node := range m.entries {
		if c, ok := node.(*Container); ok {
			c.ClearDirty()
		}
	}
}

// Snapshot converts all entries, including ones a filtered view would hide.
func (m *Map) Snapshot() Value {
	out := make(map[string]Value, len(m.entries))
	for k, node := range m.entries {
		switch n := node.(type) {
		case Value:
			out[k] = n
		case *Container:
			out[k] = n.Snapshot()
		}
	}
	return MapValue(out)
}

// SnapshotFor converts the entries a specific player may observe.
func (m *Map) SnapshotFor(playerID string, scope Scope) Value {
	out := make(map[string]Value, len(m.entries))
	for k, node := range m.entries {
		entryScope := scope
		if scope.Policy == PolicyPerPlayer && scope.PlayerKey == "" {
			entryScope = Scope{Policy: PolicyPerPlayer, PlayerKey: k}
		}
		if !entryScope.VisibleTo(playerID) {
			continue
		}
		switch n := node.(type) {
		case Value:
			out[k] = n
		case *Container:
			out[k] = n.SnapshotFor(playerID, entryScope)
		}
	}
	return MapValue(out)
}
