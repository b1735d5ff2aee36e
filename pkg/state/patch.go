package state

import (
	"strings"
)

// PatchOp is the operation carried by a patch. The numeric values double as
// the wire opcodes and are frozen.
type PatchOp int

const (
	OpSet    PatchOp = 1
	OpRemove PatchOp = 2
	OpAdd    PatchOp = 3
)

func (op PatchOp) String() string {
	switch op {
	case OpSet:
		return "set"
	case OpRemove:
		return "remove"
	case OpAdd:
		return "add"
	default:
		return "unknown"
	}
}

// ParsePatchOp converts the JSON wire name of an op back to its code.
func ParsePatchOp(s string) (PatchOp, bool) {
	switch s {
	case "set":
		return OpSet, true
	case "remove", "delete":
		return OpRemove, true
	case "add":
		return OpAdd, true
	default:
		return 0, false
	}
}

// Patch is one localized state change: a JSON-Pointer style path, an
// operation, and the new snapshot value for set/add. Scope is server-side
// metadata used for visibility filtering; it never goes over the wire.
type Patch struct {
	Path  string
	Op    PatchOp
	Value Value
	Scope Scope
}

// EscapeToken escapes a path token per JSON Pointer: "~" becomes "~0" and
// "/" becomes "~1".
func EscapeToken(token string) string {
	if !strings.ContainsAny(token, "~/") {
		return token
	}
	token = strings.ReplaceAll(token, "~", "~0")
	return strings.ReplaceAll(token, "/", "~1")
}

// UnescapeToken reverses EscapeToken.
func UnescapeToken(token string) string {
	if !strings.Contains(token, "~") {
		return token
	}
	token = strings.ReplaceAll(token, "~1", "/")
	return strings.ReplaceAll(token, "~0", "~")
}

// JoinPath appends an escaped token to a parent path. The root parent is the
// empty string, so the first join yields "/token".
func JoinPath(parent, token string) string {
	return parent + "/" + EscapeToken(token)
}

// SplitPath splits an absolute path into unescaped tokens. The empty path
// (the root) yields nil.
func SplitPath(path string) []string {
	if path == "" || path == "/" {
		return nil
	}
	raw := strings.Split(strings.TrimPrefix(path, "/"), "/")
	tokens := make([]string, len(raw))
	for i := range raw {
		tokens[i] = UnescapeToken(raw[i])
	}
	return tokens
}

// ApplyPatch applies a single patch to a snapshot value and returns the
// updated snapshot. The input is not modified; shared substructure is copied
// along the patch path only. Applying a remove for a missing key is a no-op,
// matching how the sync engine replays patch streams onto stale snapshots.
func ApplyPatch(snapshot Value, p Patch) Value {
	return applyAt(snapshot, SplitPath(p.Path), p)
}

func applyAt(node Value, tokens []string, p Patch) Value {
	if len(tokens) == 0 {
		if p.Op == OpRemove {
			return Null()
		}
		return p.Value
	}

	m := map[string]Value{}
	if node.Kind() == KindMap {
		for k, v := range node.MapVal() {
			m[k] = v
		}
	}

	key := tokens[0]
	if len(tokens) == 1 && p.Op == OpRemove {
		delete(m, key)
		return MapValue(m)
	}
	m[key] = applyAt(m[key], tokens[1:], p)
	return MapValue(m)
}

// ApplyPatches applies a patch list in order.
func ApplyPatches(snapshot Value, patches []Patch) Value {
	for _, p := range patches {
		snapshot = ApplyPatch(snapshot, p)
	}
	return snapshot
}
