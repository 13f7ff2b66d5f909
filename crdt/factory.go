package crdt

import "fmt"

// newNodeFromCreateOp builds the node named by a CREATE_* op. It does not
// register the node; callers add it to the owner and to the parent's child
// index themselves so they can generate ids/keys as needed first.
func newNodeFromCreateOp(owner Owner, parent ParentRef, op Op) (Node, error) {
	switch op.Code {
	case OpCreateObject:
		return NewLiveObject(owner, parent, op.Data), nil
	case OpCreateList:
		return NewLiveList(owner, parent), nil
	case OpCreateMap:
		return NewLiveMap(owner, parent), nil
	case OpCreateRegister:
		var val interface{}
		if op.Data != nil {
			val = op.Data["value"]
		}
		return NewLiveRegister(owner, parent, val), nil
	default:
		return nil, fmt.Errorf("crdt: op %s is not a create op", op.Code)
	}
}

// NewRootObject constructs the room's root node: a LiveObject with id
// "{actor}:0" and Root parentage, per invariant 1.
func NewRootObject(owner Owner, actor int64, data map[string]interface{}) *LiveObject {
	root := NewLiveObject(owner, Root, data)
	root.SetID(fmt.Sprintf("%d:0", actor))
	return root
}
