package crdt

// LiveMap is a keyed set of CRDT children, distinguished from LiveObject in
// that every value is itself a live node rather than plain data.
type LiveMap struct {
	id       string
	parent   ParentRef
	owner    Owner
	children map[string]string // key -> child id
}

func NewLiveMap(owner Owner, parent ParentRef) *LiveMap {
	return &LiveMap{owner: owner, parent: parent, children: map[string]string{}}
}

func (m *LiveMap) ID() string            { return m.id }
func (m *LiveMap) SetID(id string)       { m.id = id }
func (m *LiveMap) Kind() NodeKind        { return KindMap }
func (m *LiveMap) Parent() ParentRef     { return m.parent }
func (m *LiveMap) SetParent(p ParentRef) { m.parent = p }

func (m *LiveMap) ChildIDs() []string {
	ids := make([]string, 0, len(m.children))
	for _, id := range m.children {
		ids = append(ids, id)
	}
	return ids
}

func (m *LiveMap) Get(key string) (Node, bool) {
	id, ok := m.children[key]
	if !ok {
		return nil, false
	}
	return m.owner.GetItem(id)
}

func (m *LiveMap) DetachChild(key, id string) {
	if m.children[key] == id {
		delete(m.children, key)
	}
}

func (m *LiveMap) Apply(op Op, source OpSource) ApplyResult {
	switch op.Code {
	case OpDeleteCrdt:
		return deleteSelf(m.owner, m.id, m.parent)
	default:
		return noop()
	}
}

func (m *LiveMap) AttachChild(op Op, source OpSource) ApplyResult {
	child, err := newNodeFromCreateOp(m.owner, HasParent(m.id, op.ParentKey), op)
	if err != nil {
		return noop()
	}
	if op.ID == "" {
		op.ID = m.owner.GenerateID()
	}
	if old, existed := m.children[op.ParentKey]; existed && old != op.ID {
		m.owner.DeleteItem(old)
	}
	m.owner.AddItem(op.ID, child)
	m.children[op.ParentKey] = op.ID
	return ApplyResult{
		Modified: true,
		Node:     child,
		Update:   StorageUpdate{NodeID: op.ID, Type: UpdateCreate},
		Reverse:  []Op{{Code: OpDeleteCrdt, ID: op.ID}},
	}
}

func (m *LiveMap) SetChildKey(key string, child Node, source OpSource) ApplyResult {
	return noop() // map entries are addressed by fixed key, not reorderable
}

func (m *LiveMap) ToSerializedForm() SerializedCrdt {
	s := SerializedCrdt{ID: m.id, Kind: KindMap}
	if m.parent.IsRoot {
		s.IsRoot = true
	} else {
		s.ParentID = m.parent.ParentID
		s.ParentKey = m.parent.Key
	}
	return s
}
