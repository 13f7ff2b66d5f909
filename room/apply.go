package room

import "collabtext/roomkit/crdt"

// HistoryItem is either an Op or a partial presence snapshot; presence
// items only ever appear inside entries synthesized by undo/redo.
type HistoryItem struct {
	Op       *crdt.Op
	Presence Presence
}

// HistoryEntry is one undoable/redoable unit: a batch's worth of ops or a
// single local mutation. Inbound remote frames never become entries.
type HistoryEntry []HistoryItem

// applyContext accumulates state across one call to applyEntry: which
// nodes were freshly created (to suppress redundant child updates), the
// per-node merged storage diff, the composed reverse entry, and whether
// any presence item was applied.
type applyContext struct {
	createdNodeIDs  map[string]struct{}
	updates         map[string]crdt.StorageUpdate
	reverse         HistoryEntry
	presenceChanged bool
}

func newApplyContext() *applyContext {
	return &applyContext{
		createdNodeIDs: map[string]struct{}{},
		updates:        map[string]crdt.StorageUpdate{},
	}
}

// applyEntry iterates entry in order, applying each item to the tree (or
// presence) and accumulating one merged reverse entry and one merged
// per-node diff, per §4.3. isLocal selects UNDOREDO_RECONNECT semantics
// (any first-time local application, an undo/redo replay, or an offline-op
// resend) versus remote/ack resolution for ops arriving off the wire.
func (r *Room) applyEntry(entry HistoryEntry, isLocal bool) (HistoryEntry, map[string]crdt.StorageUpdate, bool) {
	ctx := newApplyContext()
	for _, item := range entry {
		r.applyItem(item, isLocal, ctx)
	}
	return ctx.reverse, ctx.updates, ctx.presenceChanged
}

func (r *Room) applyItem(item HistoryItem, isLocal bool, ctx *applyContext) {
	if item.Presence != nil {
		r.applyPresenceItem(item.Presence, ctx)
		return
	}
	if item.Op == nil {
		return
	}
	op := *item.Op
	if op.OpID == "" {
		// Ops synthesized by undo/redo and by a reconnect's storage diff
		// (freshly authored local mutations get theirs from the mutation
		// helpers before reaching here) lack an id at this point.
		op.OpID = r.reg.GenerateOpID()
	}

	var source crdt.OpSource
	switch {
	case isLocal:
		source = crdt.SourceUndoRedoReconnect
	default:
		if _, acked := r.offlineOps[op.OpID]; acked {
			delete(r.offlineOps, op.OpID)
			source = crdt.SourceAck
		} else {
			source = crdt.SourceRemote
		}
	}

	result := crdt.ApplyOp(r.reg, op, source)
	if !result.Modified {
		return
	}
	if op.Code.IsCreate() {
		ctx.createdNodeIDs[result.Update.NodeID] = struct{}{}
	}

	suppress := false
	if result.Node != nil {
		parent := result.Node.Parent()
		if !parent.IsRoot {
			if _, ok := ctx.createdNodeIDs[parent.ParentID]; ok {
				suppress = true
			}
		}
	}
	if !suppress {
		crdt.MergeStorageUpdates(ctx.updates, result.Update)
	}

	if len(result.Reverse) > 0 {
		newItems := make(HistoryEntry, len(result.Reverse))
		for i, rop := range result.Reverse {
			rop := rop
			newItems[i] = HistoryItem{Op: &rop}
		}
		// Unshift: replaying the reverse entry in order must undo the
		// forward entry's effects in reverse chronological order.
		ctx.reverse = append(newItems, ctx.reverse...)
	}
}

func (r *Room) applyPresenceItem(partial Presence, ctx *applyContext) {
	reverse := Presence{}
	for k, v := range partial {
		if old, existed := r.me[k]; existed {
			reverse[k] = old
		} else {
			reverse[k] = nil
		}
		r.me[k] = v
	}
	ctx.reverse = append(HistoryEntry{{Presence: reverse}}, ctx.reverse...)
	r.buffer.mergeUpdate(bufferPartial, partial)
	ctx.presenceChanged = true
}

// emitStorageNotification converts a merged per-node diff into
// StorageUpdateEvents and fires the global, per-node, and deep-per-node
// listeners exactly once each, per §4.8/§5's "one notification per apply".
func (r *Room) emitStorageNotification(updates map[string]crdt.StorageUpdate) {
	if len(updates) == 0 {
		return
	}
	events := make([]StorageUpdateEvent, 0, len(updates))
	for id, u := range updates {
		keys := make([]string, 0, len(u.Keys))
		for k := range u.Keys {
			keys = append(keys, k)
		}
		events = append(events, StorageUpdateEvent{NodeID: id, Type: u.Type, Keys: keys})
	}
	r.subs.storage.emit(events)

	for id, set := range r.subs.nodeListeners {
		var matched []StorageUpdateEvent
		for _, e := range events {
			if e.NodeID == id {
				matched = append(matched, e)
			}
		}
		if len(matched) > 0 {
			set.emit(matched)
		}
	}
	for id, set := range r.subs.nodeDeepListeners {
		var matched []StorageUpdateEvent
		for _, e := range events {
			if e.NodeID == id || r.isDescendantOf(e.NodeID, id) {
				matched = append(matched, e)
			}
		}
		if len(matched) > 0 {
			set.emit(matched)
		}
	}
}

func (r *Room) isDescendantOf(nodeID, ancestorID string) bool {
	if r.reg == nil {
		return false
	}
	cur, ok := r.reg.GetItem(nodeID)
	if !ok {
		return false
	}
	for {
		p := cur.Parent()
		if p.IsRoot {
			return false
		}
		if p.ParentID == ancestorID {
			return true
		}
		next, ok := r.reg.GetItem(p.ParentID)
		if !ok {
			return false
		}
		cur = next
	}
}
