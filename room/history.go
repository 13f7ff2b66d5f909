package room

// historyLimit bounds the undo stack, per §4.6's "at most 50 entries".
const historyLimit = 50

// history is the room's bounded undo/redo stacks. It has no lock of its
// own; every method here is only ever called from inside Room.do.
type history struct {
	undo   []HistoryEntry
	redo   []HistoryEntry
	paused bool
}

func (h *history) push(entry HistoryEntry) {
	if h.paused || len(entry) == 0 {
		return
	}
	h.undo = append(h.undo, entry)
	if len(h.undo) > historyLimit {
		h.undo = h.undo[len(h.undo)-historyLimit:]
	}
}

func (h *history) clearRedo() { h.redo = nil }

func (h *history) canUndo() bool { return len(h.undo) > 0 }
func (h *history) canRedo() bool { return len(h.redo) > 0 }

func (h *history) popUndo() (HistoryEntry, bool) {
	if len(h.undo) == 0 {
		return nil, false
	}
	n := len(h.undo) - 1
	entry := h.undo[n]
	h.undo = h.undo[:n]
	return entry, true
}

func (h *history) popRedo() (HistoryEntry, bool) {
	if len(h.redo) == 0 {
		return nil, false
	}
	n := len(h.redo) - 1
	entry := h.redo[n]
	h.redo = h.redo[:n]
	return entry, true
}

// PauseHistory stops further local mutations from being recorded, until
// ResumeHistory is called. Mutations made while paused are applied and
// sent but push no undo entry, and ResumeHistory does not add one for them
// afterwards; they are not grouped into a single entry.
func (r *Room) PauseHistory() {
	r.do(func() { r.hist.paused = true })
}

func (r *Room) ResumeHistory() {
	r.do(func() { r.hist.paused = false })
}

func (r *Room) CanUndo() bool {
	return r.doR(func() interface{} { return r.hist.canUndo() }).(bool)
}

func (r *Room) CanRedo() bool {
	return r.doR(func() interface{} { return r.hist.canRedo() }).(bool)
}

// Undo pops the most recent undo entry, applies it as a local mutation,
// and pushes the resulting reverse onto the redo stack. It is a no-op if
// nothing is undoable, and returns ErrUndoRedoDuringBatch if a batch is in
// progress (§4.6 invariant).
func (r *Room) Undo() error {
	var err error
	r.do(func() {
		if r.batching {
			err = ErrUndoRedoDuringBatch
			return
		}
		entry, ok := r.hist.popUndo()
		if !ok {
			return
		}
		reverse, updates, presenceChanged := r.applyEntry(entry, true)
		if len(reverse) > 0 {
			r.hist.redo = append(r.hist.redo, reverse)
		}
		r.dispatchLocalEntry(entry)
		r.emitStorageNotification(updates)
		if presenceChanged {
			r.subs.myPresence.emit(clonePresence(r.me))
		}
		r.subs.history.emit(HistoryEvent{CanUndo: r.hist.canUndo(), CanRedo: r.hist.canRedo()})
	})
	return err
}

// Redo is Undo's mirror: it pops the most recent redo entry, applies it,
// and pushes the resulting reverse onto the undo stack; the remaining redo
// entries are kept.
func (r *Room) Redo() error {
	var err error
	r.do(func() {
		if r.batching {
			err = ErrUndoRedoDuringBatch
			return
		}
		entry, ok := r.hist.popRedo()
		if !ok {
			return
		}
		reverse, updates, presenceChanged := r.applyEntry(entry, true)
		if len(reverse) > 0 {
			r.hist.undo = append(r.hist.undo, reverse)
		}
		r.dispatchLocalEntry(entry)
		r.emitStorageNotification(updates)
		if presenceChanged {
			r.subs.myPresence.emit(clonePresence(r.me))
		}
		r.subs.history.emit(HistoryEvent{CanUndo: r.hist.canUndo(), CanRedo: r.hist.canRedo()})
	})
	return err
}

// dispatchLocalEntry queues the ops half of a replayed history entry for
// the next flush; presence items in undo/redo entries are already folded
// into r.buffer by applyPresenceItem.
func (r *Room) dispatchLocalEntry(entry HistoryEntry) {
	for _, item := range entry {
		if item.Op != nil {
			r.out.storageOps = append(r.out.storageOps, *item.Op)
		}
	}
	r.tryFlushing()
}
