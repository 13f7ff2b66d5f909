package room

import "collabtext/roomkit/crdt"

// GetStorageSnapshot returns the current storage root, blocking callers
// should call GetStorage instead; ok is false until the first
// INITIAL_STORAGE_STATE has been processed.
func (r *Room) GetStorageSnapshot() (*crdt.LiveObject, bool) {
	var (
		obj    *crdt.LiveObject
		loaded bool
	)
	r.do(func() {
		loaded = r.storageLoaded
		if !loaded || r.reg == nil {
			return
		}
		root, ok := r.reg.Root()
		if !ok {
			return
		}
		obj, _ = root.(*crdt.LiveObject)
	})
	return obj, loaded
}

// GetStorage blocks until the storage tree has been loaded (or its load
// failed) and returns its root.
func (r *Room) GetStorage() (*crdt.LiveObject, error) {
	var wait chan struct{}
	r.do(func() {
		if r.storageLoaded || r.storageErr != nil {
			return
		}
		wait = make(chan struct{})
		r.storageWaiters = append(r.storageWaiters, wait)
	})
	if wait != nil {
		<-wait
	}
	var (
		obj *crdt.LiveObject
		err error
	)
	r.do(func() {
		if r.storageErr != nil {
			err = r.storageErr
			return
		}
		root, ok := r.reg.Root()
		if !ok {
			return
		}
		obj, _ = root.(*crdt.LiveObject)
	})
	return obj, err
}

func (r *Room) resolveStorageWaiters() {
	waiters := r.storageWaiters
	r.storageWaiters = nil
	for _, ch := range waiters {
		close(ch)
	}
}

// createOrUpdateRootFromMessage handles an INITIAL_STORAGE_STATE frame
// (§4.2/§4.3): first load, it builds the tree fresh via crdt.Load and seeds
// any InitialStorage defaults; on reconnection, it diffs the incoming
// snapshot against the currently-loaded tree and applies only the delta,
// so local subscriptions see a minimal, correct set of updates rather than
// a full teardown/rebuild.
func (r *Room) createOrUpdateRootFromMessage(items []crdt.SerializedCrdt) {
	if len(items) == 0 {
		r.storageErr = ErrEmptyStorageState
		r.resolveStorageWaiters()
		return
	}

	if !r.storageLoaded {
		if _, err := crdt.Load(r.reg, r.reg, items); err != nil {
			r.storageErr = err
			r.resolveStorageWaiters()
			return
		}
		root, _ := r.reg.Root()
		if obj, ok := root.(*crdt.LiveObject); ok && len(r.opts.InitialStorage) > 0 {
			if ops := crdt.DefaultStorageRoot(obj, r.opts.InitialStorage); len(ops) > 0 {
				r.out.storageOps = append(r.out.storageOps, ops...)
				r.tryFlushing()
			}
		}
		r.storageLoaded = true
		r.resolveStorageWaiters()
		return
	}

	current := r.reg.Snapshot()
	incoming := make(map[string]crdt.SerializedCrdt, len(items))
	for _, it := range items {
		incoming[it.ID] = it
	}
	diffOps := crdt.TreesDiffOperations(current, incoming)
	entry := make(HistoryEntry, len(diffOps))
	for i, op := range diffOps {
		op := op
		entry[i] = HistoryItem{Op: &op}
	}
	_, updates, _ := r.applyEntry(entry, false)
	r.applyAndSendOfflineOps(updates)
}

// applyAndSendOfflineOps replays every still-unacknowledged local op on top
// of a freshly reconciled tree and re-queues it for the next flush, since a
// server-side reconnect may have discarded the original send, per the
// "offline write survives reconnect" scenario (§8).
func (r *Room) applyAndSendOfflineOps(updates map[string]crdt.StorageUpdate) {
	if len(r.offlineOps) == 0 {
		r.emitStorageNotification(updates)
		return
	}
	pending := make(HistoryEntry, 0, len(r.offlineOps))
	ids := make([]string, 0, len(r.offlineOps))
	for id := range r.offlineOps {
		ids = append(ids, id)
	}
	for _, id := range ids {
		op := r.offlineOps[id]
		pending = append(pending, HistoryItem{Op: &op})
	}
	_, moreUpdates, _ := r.applyEntry(pending, true)
	for _, u := range moreUpdates {
		crdt.MergeStorageUpdates(updates, u)
	}
	for _, id := range ids {
		op := r.offlineOps[id]
		r.out.storageOps = append(r.out.storageOps, op)
	}
	r.emitStorageNotification(updates)
	r.tryFlushing()
}
