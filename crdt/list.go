package crdt

import "sort"

// listItem pairs an ordering key with the id of the child it addresses.
// Keys are strings over a base-36 alphabet so a key can always be minted
// between two neighbors, following the fractional-indexing approach used
// by logoot-family CRDTs in the reference pack.
type listItem struct {
	key string
	id  string
}

// LiveList is an ordered sequence of CRDT children.
type LiveList struct {
	id     string
	parent ParentRef
	owner  Owner
	items  []listItem
}

func NewLiveList(owner Owner, parent ParentRef) *LiveList {
	return &LiveList{owner: owner, parent: parent}
}

func (l *LiveList) ID() string            { return l.id }
func (l *LiveList) SetID(id string)       { l.id = id }
func (l *LiveList) Kind() NodeKind        { return KindList }
func (l *LiveList) Parent() ParentRef     { return l.parent }
func (l *LiveList) SetParent(p ParentRef) { l.parent = p }

func (l *LiveList) ChildIDs() []string {
	ids := make([]string, len(l.items))
	for i, it := range l.items {
		ids[i] = it.id
	}
	return ids
}

// Values returns the current child ids in list order.
func (l *LiveList) Values() []string { return l.ChildIDs() }

func (l *LiveList) indexOfID(id string) int {
	for i, it := range l.items {
		if it.id == id {
			return i
		}
	}
	return -1
}

func (l *LiveList) insert(key, id string) {
	i := sort.Search(len(l.items), func(i int) bool { return l.items[i].key > key })
	l.items = append(l.items, listItem{})
	copy(l.items[i+1:], l.items[i:])
	l.items[i] = listItem{key: key, id: id}
}

func (l *LiveList) DetachChild(_ string, id string) {
	if i := l.indexOfID(id); i >= 0 {
		l.items = append(l.items[:i], l.items[i+1:]...)
	}
}

func (l *LiveList) lastKey() string {
	if len(l.items) == 0 {
		return ""
	}
	return l.items[len(l.items)-1].key
}

func (l *LiveList) Apply(op Op, source OpSource) ApplyResult {
	switch op.Code {
	case OpDeleteCrdt:
		return deleteSelf(l.owner, l.id, l.parent)
	default:
		return noop()
	}
}

func (l *LiveList) AttachChild(op Op, source OpSource) ApplyResult {
	key := op.ParentKey
	if key == "" {
		key = keyAfter(l.lastKey())
	}
	child, err := newNodeFromCreateOp(l.owner, HasParent(l.id, key), op)
	if err != nil {
		return noop()
	}
	if op.ID == "" {
		op.ID = l.owner.GenerateID()
	}
	l.owner.AddItem(op.ID, child)
	l.insert(key, op.ID)
	return ApplyResult{
		Modified: true,
		Node:     child,
		Update:   StorageUpdate{NodeID: op.ID, Type: UpdateCreate},
		Reverse:  []Op{{Code: OpDeleteCrdt, ID: op.ID}},
	}
}

func (l *LiveList) SetChildKey(key string, child Node, source OpSource) ApplyResult {
	id := child.ID()
	i := l.indexOfID(id)
	if i < 0 {
		return noop()
	}
	oldKey := l.items[i].key
	if oldKey == key {
		return noop()
	}
	l.items = append(l.items[:i], l.items[i+1:]...)
	l.insert(key, id)
	child.SetParent(HasParent(l.id, key))
	return ApplyResult{
		Modified: true,
		Node:     child,
		Update:   StorageUpdate{NodeID: id, Type: UpdateUpdate},
		Reverse:  []Op{{Code: OpSetParentKey, ID: id, ParentKey: oldKey}},
	}
}

func (l *LiveList) ToSerializedForm() SerializedCrdt {
	s := SerializedCrdt{ID: l.id, Kind: KindList}
	if l.parent.IsRoot {
		s.IsRoot = true
	} else {
		s.ParentID = l.parent.ParentID
		s.ParentKey = l.parent.Key
	}
	return s
}

// keyAfter mints an ordering key that sorts after k lexicographically,
// using a base-36 digit-increment scheme: the last digit is incremented,
// and once it is already 'z' an "m" is appended instead.
func keyAfter(k string) string {
	if k == "" {
		return "m" // midpoint-ish starting key
	}
	const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	last := k[len(k)-1]
	idx := indexOf(alphabet, last)
	if idx < len(alphabet)-1 {
		return k[:len(k)-1] + string(alphabet[idx+1])
	}
	return k + "m"
}

// keyBetween mints a key strictly between a and b (b may be "" meaning
// "no upper bound"). Nothing in the module calls it.
func keyBetween(a, b string) string {
	if a == "" && b == "" {
		return "m"
	}
	if a == "" {
		return keyBefore(b)
	}
	if b == "" {
		return keyAfter(a)
	}
	if a >= b {
		return a
	}
	return a + "m"
}

func keyBefore(k string) string {
	if k == "" || k[0] == '0' {
		return "0" + k
	}
	const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	idx := indexOf(alphabet, k[0])
	if idx <= 0 {
		return "0" + k
	}
	return string(alphabet[idx-1]) + "m"
}

func indexOf(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}
