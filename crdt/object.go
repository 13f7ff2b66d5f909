package crdt

// LiveObject holds plain JSON-serializable data keyed by string, plus any
// nested CRDT children attached at a key (a child key shadows a data key).
type LiveObject struct {
	id       string
	parent   ParentRef
	owner    Owner
	data     map[string]interface{}
	children map[string]string // key -> child node id
}

func NewLiveObject(owner Owner, parent ParentRef, data map[string]interface{}) *LiveObject {
	if data == nil {
		data = map[string]interface{}{}
	}
	return &LiveObject{owner: owner, parent: parent, data: data, children: map[string]string{}}
}

func (o *LiveObject) ID() string          { return o.id }
func (o *LiveObject) SetID(id string)     { o.id = id }
func (o *LiveObject) Kind() NodeKind      { return KindObject }
func (o *LiveObject) Parent() ParentRef   { return o.parent }
func (o *LiveObject) SetParent(p ParentRef) { o.parent = p }

func (o *LiveObject) ChildIDs() []string {
	ids := make([]string, 0, len(o.children))
	for _, id := range o.children {
		ids = append(ids, id)
	}
	return ids
}

func (o *LiveObject) DetachChild(key, id string) {
	if o.children[key] == id {
		delete(o.children, key)
	}
}

func (o *LiveObject) Get(key string) (interface{}, bool) {
	v, ok := o.data[key]
	return v, ok
}

func (o *LiveObject) Data() map[string]interface{} { return o.data }

func (o *LiveObject) Apply(op Op, source OpSource) ApplyResult {
	switch op.Code {
	case OpUpdateObject:
		reverse := map[string]interface{}{}
		reverseDeletes := []string{}
		keys := map[string]struct{}{}
		for k, v := range op.Data {
			if old, existed := o.data[k]; existed {
				reverse[k] = old
			} else {
				reverseDeletes = append(reverseDeletes, k)
			}
			o.data[k] = v
			keys[k] = struct{}{}
		}
		var reverseOps []Op
		if len(reverse) > 0 {
			reverseOps = append(reverseOps, Op{Code: OpUpdateObject, ID: o.id, Data: reverse})
		}
		for _, k := range reverseDeletes {
			reverseOps = append(reverseOps, Op{Code: OpDeleteObjectKey, ID: o.id, Key: k})
		}
		return ApplyResult{
			Modified: true,
			Node:     o,
			Update:   StorageUpdate{NodeID: o.id, Type: UpdateUpdate, Keys: keys},
			Reverse:  reverseOps,
		}
	case OpDeleteObjectKey:
		if childID, isChild := o.children[op.Key]; isChild {
			reverse := reverseCreateOps(o.owner, childID)
			if reg, ok := o.owner.(*Registry); ok {
				reg.DeleteSubtree(childID)
			} else {
				o.owner.DeleteItem(childID)
			}
			delete(o.children, op.Key)
			return ApplyResult{
				Modified: true,
				Node:     o,
				Update:   StorageUpdate{NodeID: o.id, Type: UpdateUpdate, Keys: map[string]struct{}{op.Key: {}}},
				Reverse:  reverse,
			}
		}
		old, existed := o.data[op.Key]
		if !existed {
			return noop()
		}
		delete(o.data, op.Key)
		return ApplyResult{
			Modified: true,
			Node:     o,
			Update:   StorageUpdate{NodeID: o.id, Type: UpdateUpdate, Keys: map[string]struct{}{op.Key: {}}},
			Reverse:  []Op{{Code: OpUpdateObject, ID: o.id, Data: map[string]interface{}{op.Key: old}}},
		}
	case OpDeleteCrdt:
		return deleteSelf(o.owner, o.id, o.parent)
	default:
		return noop()
	}
}

func (o *LiveObject) AttachChild(op Op, source OpSource) ApplyResult {
	child, err := newNodeFromCreateOp(o.owner, HasParent(o.id, op.ParentKey), op)
	if err != nil {
		return noop()
	}
	if op.ID == "" {
		op.ID = o.owner.GenerateID()
	}
	o.owner.AddItem(op.ID, child)
	o.children[op.ParentKey] = op.ID
	return ApplyResult{
		Modified: true,
		Node:     child,
		Update:   StorageUpdate{NodeID: op.ID, Type: UpdateCreate},
		Reverse:  []Op{{Code: OpDeleteCrdt, ID: op.ID}},
	}
}

func (o *LiveObject) SetChildKey(key string, child Node, source OpSource) ApplyResult {
	return noop() // objects address children by fixed field name, not reorderable
}

func (o *LiveObject) ToSerializedForm() SerializedCrdt {
	data := make(map[string]interface{}, len(o.data))
	for k, v := range o.data {
		data[k] = v
	}
	s := SerializedCrdt{ID: o.id, Kind: KindObject, Data: data}
	if o.parent.IsRoot {
		s.IsRoot = true
	} else {
		s.ParentID = o.parent.ParentID
		s.ParentKey = o.parent.Key
	}
	return s
}

// deleteSelf is shared by every node kind's DELETE_CRDT handling: detach
// from the parent container (best-effort, parent kind dependent), snapshot
// the whole subtree being removed so the deletion can be undone, then
// remove the subtree from the registry.
func deleteSelf(owner Owner, id string, parent ParentRef) ApplyResult {
	reverse := reverseCreateOps(owner, id)
	if !parent.IsRoot {
		if p, ok := owner.GetItem(parent.ParentID); ok {
			if detacher, ok := p.(interface{ DetachChild(key, id string) }); ok {
				detacher.DetachChild(parent.Key, id)
			}
		}
	}
	if reg, ok := owner.(*Registry); ok {
		reg.DeleteSubtree(id)
	} else {
		owner.DeleteItem(id)
	}
	return ApplyResult{
		Modified: true,
		Node:     nil,
		Update:   StorageUpdate{NodeID: id, Type: UpdateDelete},
		Reverse:  reverse,
	}
}

// reverseCreateOps walks id and every descendant reachable through child
// pointers, pre-order, and turns each into the CREATE_* op that recreates
// it verbatim — explicit id, so AttachChild reuses it instead of minting a
// fresh one — making DELETE_CRDT (and a DELETE_OBJECT_KEY that removes a
// child) invertible by undo. Children of the room root reverse like any
// other node (their CREATE_* names the root as parent). The root itself
// has no CREATE_* form (it only ever arrives via INITIAL_STORAGE_STATE),
// so the walk skips it and deleting the root surfaces no reverse.
func reverseCreateOps(owner Owner, id string) []Op {
	n, ok := owner.GetItem(id)
	if !ok {
		return nil
	}
	var ops []Op
	var walk func(Node)
	walk = func(n Node) {
		s := n.ToSerializedForm()
		if s.IsRoot {
			return
		}
		code, ok := createCodeForKind(s.Kind)
		if !ok {
			return
		}
		ops = append(ops, Op{
			Code:      code,
			ID:        s.ID,
			ParentID:  s.ParentID,
			ParentKey: s.ParentKey,
			Data:      s.Data,
		})
		if c, ok := n.(interface{ ChildIDs() []string }); ok {
			for _, childID := range c.ChildIDs() {
				if child, ok := owner.GetItem(childID); ok {
					walk(child)
				}
			}
		}
	}
	walk(n)
	return ops
}

func createCodeForKind(k NodeKind) (OpCode, bool) {
	switch k {
	case KindObject:
		return OpCreateObject, true
	case KindList:
		return OpCreateList, true
	case KindMap:
		return OpCreateMap, true
	case KindRegister:
		return OpCreateRegister, true
	default:
		return 0, false
	}
}
