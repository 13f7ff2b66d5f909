package crdt

import "fmt"

// Load builds a fresh tree from a flat list of serialized nodes (as
// delivered in INITIAL_STORAGE_STATE) and returns the constructed root.
// It finds the single item with IsRoot set, then recursively deserializes
// the parentId -> children map below it.
func Load(owner Owner, reg *Registry, items []SerializedCrdt) (Node, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("crdt: cannot load storage from zero items")
	}
	byParent := map[string][]SerializedCrdt{}
	var root *SerializedCrdt
	for i := range items {
		it := items[i]
		if it.IsRoot {
			r := it
			root = &r
			continue
		}
		byParent[it.ParentID] = append(byParent[it.ParentID], it)
	}
	if root == nil {
		return nil, fmt.Errorf("crdt: no root item in storage state")
	}

	rootNode := NewLiveObject(owner, Root, root.Data)
	rootNode.SetID(root.ID)
	reg.SetRoot(rootNode)

	var build func(parentID string)
	build = func(parentID string) {
		for _, child := range byParent[parentID] {
			node := deserialize(owner, child)
			reg.AddItem(child.ID, node)
			attachDeserializedChild(reg, parentID, child.ParentKey, child.ID, child.Kind)
			build(child.ID)
		}
	}
	build(root.ID)
	return rootNode, nil
}

func deserialize(owner Owner, s SerializedCrdt) Node {
	parent := HasParent(s.ParentID, s.ParentKey)
	switch s.Kind {
	case KindObject:
		return NewLiveObject(owner, parent, s.Data)
	case KindList:
		return NewLiveList(owner, parent)
	case KindMap:
		return NewLiveMap(owner, parent)
	case KindRegister:
		var val interface{}
		if s.Data != nil {
			val = s.Data["value"]
		}
		return NewLiveRegister(owner, parent, val)
	default:
		return NewLiveObject(owner, parent, nil)
	}
}

// attachDeserializedChild links a freshly deserialized node into its
// parent's own child index without going through AttachChild (which would
// mint new ids/keys); used only during Load.
func attachDeserializedChild(reg *Registry, parentID, key, childID string, kind NodeKind) {
	p, ok := reg.GetItem(parentID)
	if !ok {
		return
	}
	switch parent := p.(type) {
	case *LiveObject:
		parent.children[key] = childID
	case *LiveMap:
		parent.children[key] = childID
	case *LiveList:
		parent.insert(key, childID)
	}
}

// DefaultStorageRoot applies a caller-supplied default shape to a root
// object: for every key in defaults absent from the root, set it, exactly
// as new rooms are seeded with their initial storage shape.
func DefaultStorageRoot(root *LiveObject, defaults map[string]interface{}) []Op {
	var ops []Op
	for k, v := range defaults {
		if _, exists := root.Get(k); exists {
			continue
		}
		root.data[k] = v
		ops = append(ops, Op{Code: OpUpdateObject, ID: root.ID(), Data: map[string]interface{}{k: v}})
	}
	return ops
}
