package crdt

import (
	"fmt"
	"sync/atomic"
)

// Registry is the id->node table for one room's storage tree. It also owns
// the per-connection clock pair used to mint node ids and op ids, and the
// dispatch callback nodes use to push freshly produced ops out to the flush
// scheduler (wired by the room package; nil dispatch is valid for a
// registry used only to replay/reconcile).
type Registry struct {
	actor   int64
	clock   int64
	opClock int64
	roomID  string
	nodes   map[string]Node
	rootID  string

	dispatch func(ops []Op)
}

func NewRegistry(roomID string, actor int64) *Registry {
	return &Registry{
		actor:  actor,
		roomID: roomID,
		nodes:  make(map[string]Node),
	}
}

// Reset re-seeds the clock pair for a new connection's actor id, per the
// invariant that clocks are local to a connection.
func (r *Registry) Reset(actor int64) {
	r.actor = actor
	atomic.StoreInt64(&r.clock, 0)
	atomic.StoreInt64(&r.opClock, 0)
}

func (r *Registry) SetDispatch(fn func(ops []Op)) { r.dispatch = fn }

func (r *Registry) GetItem(id string) (Node, bool) {
	n, ok := r.nodes[id]
	return n, ok
}

func (r *Registry) AddItem(id string, n Node) {
	n.SetID(id)
	r.nodes[id] = n
}

func (r *Registry) DeleteItem(id string) {
	delete(r.nodes, id)
}

func (r *Registry) GenerateID() string {
	c := atomic.AddInt64(&r.clock, 1)
	return fmt.Sprintf("%d:%d", r.actor, c)
}

func (r *Registry) GenerateOpID() string {
	c := atomic.AddInt64(&r.opClock, 1)
	return fmt.Sprintf("%d:%d", r.actor, c)
}

func (r *Registry) Dispatch(ops []Op) {
	if r.dispatch != nil {
		r.dispatch(ops)
	}
}

func (r *Registry) RoomID() string { return r.roomID }

func (r *Registry) Actor() int64 { return r.actor }

// RootID returns the id of the root node, "" if none has been loaded yet.
func (r *Registry) RootID() string { return r.rootID }

func (r *Registry) Root() (Node, bool) {
	if r.rootID == "" {
		return nil, false
	}
	return r.GetItem(r.rootID)
}

func (r *Registry) SetRoot(n Node) {
	r.rootID = n.ID()
	r.nodes[n.ID()] = n
}

// DeleteSubtree removes id and, recursively, every descendant currently
// reachable through child pointers held by container nodes. Containers are
// responsible for reporting their own children via ChildIDs.
func (r *Registry) DeleteSubtree(id string) {
	n, ok := r.GetItem(id)
	if !ok {
		return
	}
	if c, ok := n.(interface{ ChildIDs() []string }); ok {
		for _, childID := range c.ChildIDs() {
			r.DeleteSubtree(childID)
		}
	}
	r.DeleteItem(id)
}

// Snapshot serializes every node in the registry, used for reconciliation
// diffs and for resending storage state.
func (r *Registry) Snapshot() map[string]SerializedCrdt {
	out := make(map[string]SerializedCrdt, len(r.nodes))
	for id, n := range r.nodes {
		out[id] = n.ToSerializedForm()
	}
	return out
}
