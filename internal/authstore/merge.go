package authstore

// MergeKeys applies the incremental key-map merge rule: for every (type,
// id) present in patchKeys, a nil value deletes that id, any other value
// overwrites it; types absent from patchKeys are left untouched entirely.
// current is mutated in place and also returned for convenience.
func MergeKeys(current map[string]KeyMap, patchKeys map[string]map[string]KeyRecord) map[string]KeyMap {
	if current == nil {
		current = make(map[string]KeyMap)
	}
	for typ, ids := range patchKeys {
		cur := current[typ]
		if cur == nil {
			cur = make(KeyMap)
		}
		for id, v := range ids {
			if v == nil {
				delete(cur, id)
			} else {
				cur[id] = v
			}
		}
		current[typ] = cur
	}
	return current
}

// ApplyPatch produces the new snapshot resulting from applying patch on
// top of current. current may be nil (first write for a session).
func ApplyPatch(current *AuthSnapshot, patch *AuthPatch) *AuthSnapshot {
	next := &AuthSnapshot{}
	if current != nil {
		next.Creds = current.Creds
		next.AppState = current.AppState
		if current.Keys != nil {
			next.Keys = make(map[string]KeyMap, len(current.Keys))
			for typ, km := range current.Keys {
				cloned := make(KeyMap, len(km))
				for id, v := range km {
					cloned[id] = v
				}
				next.Keys[typ] = cloned
			}
		}
	}
	if next.Keys == nil {
		next.Keys = make(map[string]KeyMap)
	}

	if patch.CredsSet {
		next.Creds = patch.Creds
	}
	if patch.Keys != nil {
		MergeKeys(next.Keys, patch.Keys)
	}
	if patch.AppStateSet {
		next.AppState = patch.AppState
	}
	return next
}
