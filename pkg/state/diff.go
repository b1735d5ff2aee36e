package state

// DiffValues computes the patch list that transforms prev into next, with
// paths rooted at basePath. Maps are diffed structurally; every other kind,
// including arrays, is replaced wholesale when unequal. The output applied
// to prev via ApplyPatches yields a value canonically equal to next.
func DiffValues(prev, next Value, basePath string) []Patch {
	return diffAt(prev, next, basePath, nil)
}

func diffAt(prev, next Value, path string, out []Patch) []Patch {
	if prev.Equal(next) {
		return out
	}
	if prev.Kind() != KindMap || next.Kind() != KindMap {
		return append(out, Patch{Path: path, Op: OpSet, Value: next})
	}

	prevMap := prev.MapVal()
	for _, k := range next.SortedKeys() {
		nv := next.MapVal()[k]
		pv, existed := prevMap[k]
		childPath := JoinPath(path, k)
		if !existed {
			out = append(out, Patch{Path: childPath, Op: OpAdd, Value: nv})
			continue
		}
		out = diffAt(pv, nv, childPath, out)
	}
	for _, k := range prev.SortedKeys() {
		if _, stillThere := next.MapVal()[k]; !stillThere {
			out = append(out, Patch{Path: JoinPath(path, k), Op: OpRemove})
		}
	}
	return out
}
