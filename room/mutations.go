package room

import "collabtext/roomkit/crdt"

// applyLocalMutation is the single entry point every storage-mutating
// method funnels through: it applies op immediately (so a caller's very
// next read sees the change, batched or not), routes it to the registry's
// dispatch callback (which queues it for the flush scheduler), and either
// folds the result into the open batch or records it as its own history
// entry and fires notifications right away. Callers must already hold
// r.mu (via do) and must have already checked r.reg != nil.
func (r *Room) applyLocalMutation(op crdt.Op) {
	if op.OpID == "" {
		op.OpID = r.reg.GenerateOpID()
	}
	reverse, updates, _ := r.applyEntry(HistoryEntry{{Op: &op}}, true)
	r.reg.Dispatch([]crdt.Op{op})

	if r.batching {
		r.curBatch.absorb(reverse, updates, len(reverse) > 0, false)
		return
	}
	if len(reverse) > 0 {
		r.hist.push(reverse)
		r.hist.clearRedo()
		r.subs.history.emit(HistoryEvent{CanUndo: r.hist.canUndo(), CanRedo: r.hist.canRedo()})
	}
	r.emitStorageNotification(updates)
}

// UpdateObject merges data into the object node identified by id,
// generating an UPDATE_OBJECT op.
func (r *Room) UpdateObject(id string, data map[string]interface{}) error {
	var err error
	r.do(func() {
		if r.reg == nil {
			err = ErrNoConnection
			return
		}
		r.applyLocalMutation(crdt.Op{Code: crdt.OpUpdateObject, ID: id, Data: data})
	})
	return err
}

// DeleteObjectKey removes a single key from the object node identified by
// id, generating a DELETE_OBJECT_KEY op.
func (r *Room) DeleteObjectKey(id, key string) error {
	var err error
	r.do(func() {
		if r.reg == nil {
			err = ErrNoConnection
			return
		}
		r.applyLocalMutation(crdt.Op{Code: crdt.OpDeleteObjectKey, ID: id, Key: key})
	})
	return err
}

// DeleteCrdt deletes the node identified by id (and, transitively, any
// subtree it roots), generating a DELETE_CRDT op.
func (r *Room) DeleteCrdt(id string) error {
	var err error
	r.do(func() {
		if r.reg == nil {
			err = ErrNoConnection
			return
		}
		r.applyLocalMutation(crdt.Op{Code: crdt.OpDeleteCrdt, ID: id})
	})
	return err
}

// SetParentKey reorders the child identified by id to key within its list
// parent, generating a SET_PARENT_KEY op.
func (r *Room) SetParentKey(id, key string) error {
	var err error
	r.do(func() {
		if r.reg == nil {
			err = ErrNoConnection
			return
		}
		r.applyLocalMutation(crdt.Op{Code: crdt.OpSetParentKey, ID: id, ParentKey: key})
	})
	return err
}

// CreateChild attaches a freshly created node of kind under parentID at
// key (for list parents, key selects insertion order; for object/map
// parents it is the attaching key), returning the new node's id.
func (r *Room) CreateChild(parentID, key string, kind crdt.NodeKind, data map[string]interface{}) (string, error) {
	var (
		newID string
		err   error
	)
	r.do(func() {
		if r.reg == nil {
			err = ErrNoConnection
			return
		}
		op := crdt.Op{Code: kindToCreateCode(kind), ParentID: parentID, ParentKey: key, Data: data}
		op.ID = r.reg.GenerateID()
		newID = op.ID
		r.applyLocalMutation(op)
	})
	return newID, err
}

func kindToCreateCode(kind crdt.NodeKind) crdt.OpCode {
	switch kind {
	case crdt.KindList:
		return crdt.OpCreateList
	case crdt.KindMap:
		return crdt.OpCreateMap
	case crdt.KindRegister:
		return crdt.OpCreateRegister
	default:
		return crdt.OpCreateObject
	}
}
