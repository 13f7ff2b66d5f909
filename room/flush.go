package room

import (
	"collabtext/roomkit/crdt"
	"collabtext/roomkit/effects"
	"collabtext/roomkit/protocol"
)

// onNodeDispatch is the registry's dispatch callback (wired in
// authenticationSuccess): every op a local mutation produces routes
// through here on its way to the outbound buffer. While a batch is open,
// flushing is deferred to the batch's own commit so a batch always sends
// as one frame.
func (r *Room) onNodeDispatch(ops []crdt.Op) {
	if len(ops) == 0 {
		return
	}
	r.out.storageOps = append(r.out.storageOps, ops...)
	if !r.batching {
		r.tryFlushing()
	}
}

// tryFlushing implements the throttled flush scheduler of §4.7. Step 1 is
// unconditional: whatever local mutations produced since the last flush is
// recorded in offlineOperations even while disconnected, so a write made
// with no socket open is still tracked as unacked and gets resent once a
// connection (or reconciliation) comes back. Only once that bookkeeping is
// done does it check whether there is a socket to actually flush onto: with
// one open, it drains buffered presence and messages into a single
// outbound frame if a full throttleDelay has elapsed since the last flush;
// otherwise it (re)arms a timer for the remaining delay and returns
// without sending anything.
func (r *Room) tryFlushing() {
	r.recordOfflineOps()
	if r.socket == nil || r.socket.ReadyState() != effects.Open {
		return
	}
	now := r.eff.Now()
	elapsed := now - r.lastFlushTime
	throttleMs := r.opts.ThrottleDelay.Milliseconds()

	if r.lastFlushTime != 0 && elapsed < throttleMs {
		r.clearTimer(&r.flushTimer)
		r.flushTimer = r.eff.DelayFlush(throttleMs-elapsed, func() { r.do(r.tryFlushing) })
		return
	}

	msgs := r.composeOutboundMessages()
	if len(msgs) == 0 {
		return
	}
	if err := r.send(msgs...); err != nil {
		r.log.Printf("roomkit: flush send failed: %v", err)
		return
	}
	r.lastFlushTime = now
	r.out.reset()
	r.buffer = presenceBuffer{}
}

// recordOfflineOps copies r.out.storageOps into r.offlineOps, the ledger
// applyAndSendOfflineOps and applyItem's ack resolution both read from. It
// only records; it never clears r.out.storageOps, since those ops still
// need to go out over the wire once a socket is actually open.
func (r *Room) recordOfflineOps() {
	for i := range r.out.storageOps {
		op := r.out.storageOps[i]
		r.offlineOps[op.OpID] = op
	}
}

// composeOutboundMessages orders one flush's worth of traffic per §5:
// presence update first, then any buffered client messages (broadcasts,
// fetch-storage requests), then a single UPDATE_STORAGE carrying every
// buffered op.
func (r *Room) composeOutboundMessages() []protocol.ClientMessage {
	var msgs []protocol.ClientMessage
	if r.buffer.data != nil {
		msgs = append(msgs, protocol.ClientMessage{Type: protocol.ClientUpdatePresence, Data: r.buffer.data})
	}
	msgs = append(msgs, r.out.messages...)
	if len(r.out.storageOps) > 0 {
		msgs = append(msgs, protocol.ClientMessage{Type: protocol.ClientUpdateStorage, Ops: r.out.storageOps})
	}
	return msgs
}
