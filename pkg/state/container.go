package state

import (
	"fmt"

	"github.com/keeperhq/landkit/internal/logger"
)

// DirtyEntry names one dirty subtree root: its absolute path and effective
// scope. The sync engine uses dirty entries both as the safety check for the
// incremental mode and as the rebuild roots for dirty-snapshot-diff mode.
type DirtyEntry struct {
	Path  string
	Scope Scope
}

// Container is a product of named fields, each carrying a sync policy.
// Fields hold either a leaf Value, a nested *Container, a reactive *Map, or
// a reactive *Set.
//
// Containers do not keep parent pointers. Every accessor that hands out a
// nested node injects the absolute parent path, the active patch recorder
// and the effective scope into the returned view; mutations made through
// that view therefore produce correct absolute patch paths. Mutating a node
// obtained any other way bypasses patch recording and is a bug.
type Container struct {
	fields   map[string]any
	policies map[string]SyncPolicy
	dirty    map[string]struct{}

	// view state injected by the owner on access
	path  string
	rec   *Recorder
	scope Scope
}

// NewContainer returns an empty container. The zero scope is broadcast,
// which is what a root container wants.
func NewContainer() *Container {
	return &Container{
		fields:   make(map[string]any),
		policies: make(map[string]SyncPolicy),
		dirty:    make(map[string]struct{}),
	}
}

// Bind injects the view state for a root container. The keeper binds its
// state root with an empty parent path once per recording scope.
func (c *Container) Bind(parentPath string, rec *Recorder) {
	c.path = parentPath
	c.rec = rec
}

// DefineField declares a field's sync policy. The policy is immutable once
// the field has materialized: redefining an existing field with a different
// policy returns an error.
func (c *Container) DefineField(name string, policy SyncPolicy) error {
	if existing, ok := c.policies[name]; ok {
		if existing != policy {
			return fmt.Errorf("field %q already declared with policy %s", name, existing)
		}
		return nil
	}
	c.policies[name] = policy
	return nil
}

// policyOf returns the declared policy of a field, defaulting to broadcast.
func (c *Container) policyOf(name string) SyncPolicy {
	if p, ok := c.policies[name]; ok {
		return p
	}
	return PolicyBroadcast
}

func (c *Container) fieldScope(name string) Scope {
	return c.scope.child(c.policyOf(name), "")
}

func (c *Container) fieldPath(name string) string {
	return JoinPath(c.path, name)
}

// SetField sets a leaf field: it stores the value, marks the field dirty and
// records a set patch. A failed snapshot conversion records a null fallback
// patch instead of dropping the mutation.
func (c *Container) SetField(name string, raw any) {
	v, err := ToValue(raw)
	if err != nil {
		logger.Warn("snapshot conversion failed, recording null",
			logger.KeyPath, c.fieldPath(name), logger.KeyError, err.Error())
		v = Null()
	}
	c.fields[name] = v
	c.dirty[name] = struct{}{}
	c.rec.Record(Patch{
		Path:  c.fieldPath(name),
		Op:    OpSet,
		Value: v,
		Scope: c.fieldScope(name),
	})
}

// Field returns the snapshot value of a leaf field.
func (c *Container) Field(name string) (Value, bool) {
	v, ok := c.fields[name].(Value)
	return v, ok
}

// RemoveField deletes a field and records a remove patch.
func (c *Container) RemoveField(name string) {
	if _, ok := c.fields[name]; !ok {
		return
	}
	delete(c.fields, name)
	c.dirty[name] = struct{}{}
	c.rec.Record(Patch{
		Path:  c.fieldPath(name),
		Op:    OpRemove,
		Scope: c.fieldScope(name),
	})
}

// Container returns the nested container under name, creating it on first
// access. The returned view carries this container's path, recorder and the
// field's effective scope. Panics if the field holds a non-container node:
// that is a schema bug, not a runtime condition.
func (c *Container) Container(name string) *Container {
	node, ok := c.fields[name]
	if !ok {
		node = NewContainer()
		c.fields[name] = node
	}
	child, ok := node.(*Container)
	if !ok {
		panic(fmt.Sprintf("state: field %q is %T, not a container", name, node))
	}
	child.path = c.fieldPath(name)
	child.rec = c.rec
	child.scope = c.fieldScope(name)
	return child
}

// Map returns the reactive map under name, creating it on first access.
// Same view-injection contract as Container.
func (c *Container) Map(name string) *Map {
	node, ok := c.fields[name]
	if !ok {
		node = NewMap()
		c.fields[name] = node
	}
	child, ok := node.(*Map)
	if !ok {
		panic(fmt.Sprintf("state: field %q is %T, not a map", name, node))
	}
	child.path = c.fieldPath(name)
	child.rec = c.rec
	child.scope = c.fieldScope(name)
	return child
}

// Set returns the reactive set under name, creating it on first access.
// Same view-injection contract as Container.
func (c *Container) Set(name string) *Set {
	node, ok := c.fields[name]
	if !ok {
		node = NewSet()
		c.fields[name] = node
	}
	child, ok := node.(*Set)
	if !ok {
		panic(fmt.Sprintf("state: field %q is %T, not a set", name, node))
	}
	child.path = c.fieldPath(name)
	child.rec = c.rec
	child.scope = c.fieldScope(name)
	return child
}

// markDirty is used by tests and internal callers to flag a field without
// recording a patch, simulating a mutation that bypassed recording.
func (c *Container) markDirty(name string) {
	c.dirty[name] = struct{}{}
}

// HasDirty reports whether this container or any nested node is dirty.
func (c *Container) HasDirty() bool {
	if len(c.dirty) > 0 {
		return true
	}
	for name, node := range c.fields {
		switch n := node.(type) {
		case *Container:
			_ = name
			if n.HasDirty() {
				return true
			}
		case *Map:
			if n.HasDirty() {
				return true
			}
		case *Set:
			if n.HasDirty() {
				return true
			}
		}
	}
	return false
}

// CollectDirty appends the dirty subtree roots of this container, with
// absolute paths computed from the given parent path and scope.
func (c *Container) CollectDirty(parentPath string, scope Scope, out []DirtyEntry) []DirtyEntry {
	for name := range c.dirty {
		out = append(out, DirtyEntry{
			Path:  JoinPath(parentPath, name),
			Scope: scope.child(c.policyOf(name), ""),
		})
	}
	for name, node := range c.fields {
		if _, alreadyDirty := c.dirty[name]; alreadyDirty {
			continue
		}
		childPath := JoinPath(parentPath, name)
		childScope := scope.child(c.policyOf(name), "")
		switch n := node.(type) {
		case *Container:
			out = n.CollectDirty(childPath, childScope, out)
		case *Map:
			out = n.CollectDirty(childPath, childScope, out)
		case *Set:
			out = n.CollectDirty(childPath, childScope, out)
		}
	}
	return out
}

// ClearDirty recursively resets all dirty bits.
func (c *Container) ClearDirty() {
	clear(c.dirty)
	for _, node := range c.fields {
		switch n := node.(type) {
		case *Container:
			n.ClearDirty()
		case *Map:
			n.ClearDirty()
		case *Set:
			n.ClearDirty()
		}
	}
}

// Snapshot converts the full subtree into a snapshot value, including
// internal fields. This is the input to the canonical state hash.
func (c *Container) Snapshot() Value {
	m := make(map[string]Value, len(c.fields))
	for name, node := range c.fields {
		switch n := node.(type) {
		case Value:
			m[name] = n
		case *Container:
			m[name] = n.Snapshot()
		case *Map:
			m[name] = n.Snapshot()
		case *Set:
			m[name] = n.Snapshot()
		}
	}
	return MapValue(m)
}

// SnapshotFor converts the subtree into the snapshot a specific player is
// allowed to observe: internal fields are dropped, and per-player map
// entries are restricted to the player's own key.
func (c *Container) SnapshotFor(playerID string, scope Scope) Value {
	m := make(map[string]Value, len(c.fields))
	for name, node := range c.fields {
		childScope := scope.child(c.policyOf(name), "")
		if childScope.Policy == PolicyInternal {
			continue
		}
		switch n := node.(type) {
		case Value:
			if childScope.VisibleTo(playerID) {
				m[name] = n
			}
		case *Container:
			m[name] = n.SnapshotFor(playerID, childScope)
		case *Map:
			m[name] = n.SnapshotFor(playerID, childScope)
		case *Set:
			if childScope.VisibleTo(playerID) {
				m[name] = n.Snapshot()
			}
		}
	}
	return MapValue(m)
}
