package room

// Presence is a participant's ephemeral, per-connection state: an open
// bag of JSON-serializable keys (cursor, selection, status, ...).
type Presence = map[string]interface{}

func clonePresence(p Presence) Presence {
	out := make(Presence, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// PresenceOptions configures a single UpdatePresence call.
type PresenceOptions struct {
	// AddToHistory makes this presence change contribute a reverse entry
	// to history, so Undo/Redo can walk back through it exactly like a
	// storage mutation. Without it (the zero value), presence changes are
	// live-only and never enter history.
	AddToHistory bool
}

type bufferKind int

const (
	bufferPartial bufferKind = iota
	bufferFull
)

// presenceBuffer accumulates outgoing presence changes between flushes. A
// full buffer declares "my entire presence is this"; a partial buffer
// carries only changed keys. Coalescing rules (§4.6): a pending full
// buffer absorbs later partials without losing its kind; a pending
// partial absorbs later keys from both kinds and stays partial.
type presenceBuffer struct {
	kind bufferKind
	data Presence
}

func (b *presenceBuffer) mergeUpdate(kind bufferKind, data Presence) {
	if b.data == nil {
		b.kind = kind
		b.data = clonePresence(data)
		return
	}
	for k, v := range data {
		b.data[k] = v
	}
}

// userEntry is one row of the room's others map.
type userEntry struct {
	connectionID              int64
	id                        *string
	info                      map[string]interface{}
	presence                  Presence
	hasReceivedInitialPresence bool
}

// User is the externally visible read-only view of one other participant.
type User struct {
	ConnectionID int64
	ID           *string
	Info         map[string]interface{}
	Presence     Presence
}

// Others is an immutable snapshot of the users map, omitting the internal
// hasReceivedInitialPresence bookkeeping flag.
type Others struct {
	users []User
}

func newOthers(entries map[int64]*userEntry) Others {
	out := make([]User, 0, len(entries))
	for _, e := range entries {
		out = append(out, User{
			ConnectionID: e.connectionID,
			ID:           e.id,
			Info:         e.info,
			Presence:     e.presence,
		})
	}
	return Others{users: out}
}

func (o Others) Count() int      { return len(o.users) }
func (o Others) Slice() []User   { return append([]User(nil), o.users...) }

func (o Others) Map() map[int64]User {
	m := make(map[int64]User, len(o.users))
	for _, u := range o.users {
		m[u.ConnectionID] = u
	}
	return m
}
