package room

import "collabtext/roomkit/protocol"

// UpdatePresence merges partial into this connection's presence, buffers
// it for the next flush, and — outside a batch — notifies myPresence
// listeners immediately (batched updates notify once, at commit). Passing
// PresenceOptions{AddToHistory: true} additionally records the prior
// values of every changed key as a reverse entry, so the change becomes
// undoable (§8 Scenario 5's batched-presence-undo case); the default,
// zero-value options leaves presence out of history entirely.
func (r *Room) UpdatePresence(partial Presence, opts ...PresenceOptions) {
	var o PresenceOptions
	if len(opts) > 0 {
		o = opts[0]
	}
	r.do(func() {
		reverse := Presence{}
		for k, v := range partial {
			if old, existed := r.me[k]; existed {
				reverse[k] = old
			} else {
				reverse[k] = nil
			}
			r.me[k] = v
		}
		r.buffer.mergeUpdate(bufferPartial, partial)

		if r.batching {
			r.curBatch.presenceChanged = true
			if o.AddToHistory {
				r.curBatch.absorb(HistoryEntry{{Presence: reverse}}, nil, true, true)
			}
			return
		}

		r.tryFlushing()
		r.subs.myPresence.emit(clonePresence(r.me))
		if o.AddToHistory {
			r.hist.push(HistoryEntry{{Presence: reverse}})
			r.hist.clearRedo()
			r.subs.history.emit(HistoryEvent{CanUndo: r.hist.canUndo(), CanRedo: r.hist.canRedo()})
		}
	})
}

// GetPresence returns a snapshot of this connection's own presence.
func (r *Room) GetPresence() Presence {
	return r.doR(func() interface{} { return clonePresence(r.me) }).(Presence)
}

// GetOthers returns a snapshot of every other participant the room knows
// of, including those announced by USER_JOINED or ROOM_STATE that have not
// sent a presence update yet.
func (r *Room) GetOthers() Others {
	return r.doR(func() interface{} { return newOthers(r.users) }).(Others)
}

// Broadcast sends event to every other participant in the room via a
// BROADCAST_EVENT client message, queued through the normal flush path.
func (r *Room) Broadcast(event interface{}) {
	r.do(func() {
		r.out.messages = append(r.out.messages, protocol.ClientMessage{
			Type:  protocol.ClientBroadcastEvent,
			Event: event,
		})
		r.tryFlushing()
	})
}

func (r *Room) SubscribeMyPresence(fn func(Presence)) (Unsubscribe, error) {
	if fn == nil {
		return nil, ErrSubscribeNoCallback
	}
	return r.doR(func() interface{} { return r.subs.myPresence.add(fn) }).(Unsubscribe), nil
}

func (r *Room) SubscribeOthers(fn func(OthersEvent)) (Unsubscribe, error) {
	if fn == nil {
		return nil, ErrSubscribeNoCallback
	}
	return r.doR(func() interface{} { return r.subs.others.add(fn) }).(Unsubscribe), nil
}

func (r *Room) SubscribeConnection(fn func(ConnectionEvent)) (Unsubscribe, error) {
	if fn == nil {
		return nil, ErrSubscribeNoCallback
	}
	return r.doR(func() interface{} { return r.subs.connection.add(fn) }).(Unsubscribe), nil
}

func (r *Room) SubscribeError(fn func(error)) (Unsubscribe, error) {
	if fn == nil {
		return nil, ErrSubscribeNoCallback
	}
	return r.doR(func() interface{} { return r.subs.errors.add(fn) }).(Unsubscribe), nil
}

func (r *Room) SubscribeHistory(fn func(HistoryEvent)) (Unsubscribe, error) {
	if fn == nil {
		return nil, ErrSubscribeNoCallback
	}
	return r.doR(func() interface{} { return r.subs.history.add(fn) }).(Unsubscribe), nil
}

func (r *Room) SubscribeEvent(fn func(UserBroadcastEvent)) (Unsubscribe, error) {
	if fn == nil {
		return nil, ErrSubscribeNoCallback
	}
	return r.doR(func() interface{} { return r.subs.event.add(fn) }).(Unsubscribe), nil
}

// SubscribeStorage fires on every apply that touches storage, regardless
// of which node changed.
func (r *Room) SubscribeStorage(fn func([]StorageUpdateEvent)) (Unsubscribe, error) {
	if fn == nil {
		return nil, ErrSubscribeNoCallback
	}
	return r.doR(func() interface{} { return r.subs.storage.add(fn) }).(Unsubscribe), nil
}

// SubscribeNode fires only when nodeID itself is directly updated.
func (r *Room) SubscribeNode(nodeID string, fn func([]StorageUpdateEvent)) (Unsubscribe, error) {
	if fn == nil {
		return nil, ErrSubscribeNoCallback
	}
	return r.doR(func() interface{} { return r.subs.subscribeNode(nodeID, fn) }).(Unsubscribe), nil
}

// SubscribeNodeDeep fires when nodeID or any of its descendants is
// updated.
func (r *Room) SubscribeNodeDeep(nodeID string, fn func([]StorageUpdateEvent)) (Unsubscribe, error) {
	if fn == nil {
		return nil, ErrSubscribeNoCallback
	}
	return r.doR(func() interface{} { return r.subs.subscribeNodeDeep(nodeID, fn) }).(Unsubscribe), nil
}
