package crdt

import "sort"

// TreesDiffOperations compares a snapshot of the currently-loaded tree
// against an incoming snapshot (from a reconnection's INITIAL_STORAGE_STATE)
// and returns a synthetic op stream that transforms current into incoming
// when applied as remote. Node data (LiveObject/LiveRegister) is diffed
// key-by-key; container structure (List/Map) is diffed by presence.
func TreesDiffOperations(current, incoming map[string]SerializedCrdt) []Op {
	var ops []Op

	ids := make([]string, 0, len(current)+len(incoming))
	seen := map[string]struct{}{}
	for id := range current {
		ids = append(ids, id)
		seen[id] = struct{}{}
	}
	for id := range incoming {
		if _, ok := seen[id]; !ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	for _, id := range ids {
		cur, hasCur := current[id]
		inc, hasInc := incoming[id]

		switch {
		case hasCur && !hasInc:
			ops = append(ops, Op{Code: OpDeleteCrdt, ID: id})

		case !hasCur && hasInc:
			ops = append(ops, createOpFor(inc))

		default:
			if cur.Kind != KindObject && cur.Kind != KindRegister {
				continue
			}
			delta := map[string]interface{}{}
			for k, v := range inc.Data {
				if old, ok := cur.Data[k]; !ok || !equalJSON(old, v) {
					delta[k] = v
				}
			}
			var deletedKeys []string
			for k := range cur.Data {
				if _, ok := inc.Data[k]; !ok {
					deletedKeys = append(deletedKeys, k)
				}
			}
			if len(delta) > 0 {
				ops = append(ops, Op{Code: OpUpdateObject, ID: id, Data: delta})
			}
			for _, k := range deletedKeys {
				ops = append(ops, Op{Code: OpDeleteObjectKey, ID: id, Key: k})
			}
		}
	}
	return ops
}

func createOpFor(s SerializedCrdt) Op {
	op := Op{ID: s.ID, ParentID: s.ParentID, ParentKey: s.ParentKey, Data: s.Data}
	switch s.Kind {
	case KindObject:
		op.Code = OpCreateObject
	case KindList:
		op.Code = OpCreateList
	case KindMap:
		op.Code = OpCreateMap
	case KindRegister:
		op.Code = OpCreateRegister
	}
	return op
}

func equalJSON(a, b interface{}) bool {
	switch av := a.(type) {
	case map[string]interface{}:
		bv, ok := b.(map[string]interface{})
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			if !equalJSON(v, bv[k]) {
				return false
			}
		}
		return true
	case []interface{}:
		bv, ok := b.([]interface{})
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !equalJSON(av[i], bv[i]) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}
