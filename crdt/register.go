package crdt

// LiveRegister holds a single immutable-until-replaced value. The op set
// has no UPDATE_REGISTER: a register's value changes only by deleting it
// and creating a new one at the same parent key, so Apply only handles
// DELETE_CRDT.
type LiveRegister struct {
	id     string
	parent ParentRef
	owner  Owner
	data   interface{}
}

func NewLiveRegister(owner Owner, parent ParentRef, data interface{}) *LiveRegister {
	return &LiveRegister{owner: owner, parent: parent, data: data}
}

func (r *LiveRegister) ID() string            { return r.id }
func (r *LiveRegister) SetID(id string)       { r.id = id }
func (r *LiveRegister) Kind() NodeKind        { return KindRegister }
func (r *LiveRegister) Parent() ParentRef     { return r.parent }
func (r *LiveRegister) SetParent(p ParentRef) { r.parent = p }
func (r *LiveRegister) Data() interface{}     { return r.data }

func (r *LiveRegister) Apply(op Op, source OpSource) ApplyResult {
	switch op.Code {
	case OpDeleteCrdt:
		return deleteSelf(r.owner, r.id, r.parent)
	default:
		return noop()
	}
}

func (r *LiveRegister) AttachChild(op Op, source OpSource) ApplyResult {
	return noop() // registers are leaves
}

func (r *LiveRegister) SetChildKey(key string, child Node, source OpSource) ApplyResult {
	return noop()
}

func (r *LiveRegister) ToSerializedForm() SerializedCrdt {
	s := SerializedCrdt{ID: r.id, Kind: KindRegister, Data: map[string]interface{}{"value": r.data}}
	if r.parent.IsRoot {
		s.IsRoot = true
	} else {
		s.ParentID = r.parent.ParentID
		s.ParentKey = r.parent.Key
	}
	return s
}
