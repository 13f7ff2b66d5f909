package room

import "collabtext/roomkit/crdt"

// batchAccumulator collects the effects of every mutation made during one
// Batch(fn) call: the reverse entry (built up in forward-application
// order, unshifted per mutation so replay order stays correct), the
// merged per-node diff, and whether any op or historied presence update
// was produced — which gates the redo-stack clear per §4.6.
type batchAccumulator struct {
	reverse   HistoryEntry
	updates   map[string]crdt.StorageUpdate
	producedOp bool
	presenceChanged bool
}

func (b *batchAccumulator) reset() { *b = batchAccumulator{} }

func (b *batchAccumulator) absorb(reverse HistoryEntry, updates map[string]crdt.StorageUpdate, producedOp, presenceChanged bool) {
	if b.updates == nil {
		b.updates = map[string]crdt.StorageUpdate{}
	}
	b.reverse = append(reverse, b.reverse...)
	for _, u := range updates {
		crdt.MergeStorageUpdates(b.updates, u)
	}
	b.producedOp = b.producedOp || producedOp
	b.presenceChanged = b.presenceChanged || presenceChanged
}

// Batch groups every storage/presence mutation fn performs into a single
// history entry, a single flush, and a single notification, per §4.6.
// Nested batches are rejected with ErrNestedBatch rather than silently
// flattened, matching the specified misuse-error policy.
func (r *Room) Batch(fn func()) error {
	var callErr error
	r.do(func() {
		if r.batching {
			callErr = ErrNestedBatch
			return
		}
		r.batching = true
		r.curBatch.reset()
	})
	if callErr != nil {
		return callErr
	}

	fn()

	r.do(func() {
		batch := r.curBatch
		r.batching = false
		r.curBatch.reset()

		if len(batch.reverse) > 0 {
			r.hist.push(batch.reverse)
		}
		if batch.producedOp {
			r.hist.clearRedo()
		}
		r.tryFlushing()
		r.emitStorageNotification(batch.updates)
		if batch.presenceChanged {
			r.subs.myPresence.emit(clonePresence(r.me))
		}
	})
	return nil
}
