package crdt

// ApplyOp dispatches a single operation to the appropriate node, per the
// op-engine delegation table in the specification: UPDATE_OBJECT,
// DELETE_OBJECT_KEY and DELETE_CRDT target an existing node directly;
// SET_PARENT_KEY targets an existing node's list parent; CREATE_* targets
// an existing parent that is asked to attach a new child.
func ApplyOp(reg *Registry, op Op, source OpSource) ApplyResult {
	switch op.Code {
	case OpUpdateObject, OpDeleteObjectKey, OpDeleteCrdt:
		n, ok := reg.GetItem(op.ID)
		if !ok {
			return noop()
		}
		return n.Apply(op, source)

	case OpSetParentKey:
		n, ok := reg.GetItem(op.ID)
		if !ok {
			return noop()
		}
		parent := n.Parent()
		if parent.IsRoot {
			return noop()
		}
		p, ok := reg.GetItem(parent.ParentID)
		if !ok || p.Kind() != KindList {
			return noop()
		}
		return p.SetChildKey(op.ParentKey, n, source)

	case OpCreateObject, OpCreateList, OpCreateMap, OpCreateRegister:
		if op.ParentID == "" {
			return noop() // root creation happens via INITIAL_STORAGE_STATE, never as an op
		}
		p, ok := reg.GetItem(op.ParentID)
		if !ok {
			return noop()
		}
		return p.AttachChild(op, source)

	default:
		return noop()
	}
}
