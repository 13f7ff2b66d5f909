package room

import (
	"context"
	"time"

	"collabtext/roomkit/auth"
	"collabtext/roomkit/backoff"
	"collabtext/roomkit/crdt"
	"collabtext/roomkit/effects"
	"collabtext/roomkit/protocol"
)

// closeWithoutRetry is the well-known close code meaning "terminal, do not
// retry" (spec.md §6.4).
const closeWithoutRetry = 4999

// Connect is a no-op unless the room is closed or unavailable. It moves to
// authenticating and kicks off the injected authenticate effect. The
// effect's completion is delivered by the Effects implementation (see
// effects.Effects.Authenticate), on another goroutine or, for
// effects.Fake, synchronously once this call releases the room's lock.
func (r *Room) Connect() {
	r.do(func() {
		r.closed = false
		r.connectLocked()
	})
}

// connectLocked is Connect's transition, re-entered directly by
// reconnect() and by backoff timers; callers must already hold r.mu (via
// do/doR). The actual effect call is deferred until after the lock is
// released (queued on r.pendingAuth, drained by do()), since Authenticate
// may complete synchronously and would otherwise re-lock r.mu while it is
// still held.
func (r *Room) connectLocked() {
	if r.conn.Status != StatusClosed && r.conn.Status != StatusUnavailable {
		return
	}
	r.setConnectionStatus(authenticatingState())
	r.authGeneration++
	gen := r.authGeneration
	roomID := r.opts.RoomID
	cached := r.cachedRawToken
	r.pendingAuth = append(r.pendingAuth, func() { r.startAuthenticate(gen, roomID, cached) })
}

// cachingFetcher wraps the configured fetcher so a still-valid token is
// reused instead of re-authenticating, per §4.1: "may reuse a cached token
// if the parsed token is not expired". cached is a snapshot taken under
// the room's lock before the effect call started, so this closure (which
// may run on another goroutine, per Effects.Authenticate) never touches
// Room fields directly.
func cachingFetcher(inner effects.TokenFetcher, cached string) effects.TokenFetcher {
	return func(ctx context.Context, roomID string) (string, error) {
		if cached != "" {
			if parsed, err := auth.ParseUnverified(cached); err == nil && !parsed.Expired(time.Now()) {
				return cached, nil
			}
		}
		return inner(ctx, roomID)
	}
}

func (r *Room) startAuthenticate(gen int, roomID string, cached string) {
	r.eff.Authenticate(
		context.Background(),
		cachingFetcher(r.opts.authFetcher(), cached),
		r.opts.SocketFactory,
		roomID,
		func(tok string) string { return r.opts.BuildURL(roomID, tok) },
		func(sock effects.Socket, token string, err error) {
			r.do(func() {
				if gen != r.authGeneration || r.closed {
					return // superseded by a later Connect/Disconnect
				}
				if err != nil {
					r.authenticationFailure(err)
					return
				}
				r.cachedRawToken = token
				r.authenticationSuccess(token, sock)
			})
		},
	)
}

func (r *Room) authenticationFailure(err error) {
	r.log.Printf("roomkit: authentication failed: %v", err)
	r.setConnectionStatus(unavailableState())
	r.numberOfRetry++
	r.scheduleReconnect(backoff.Fast)
}

func (r *Room) authenticationSuccess(rawToken string, sock effects.Socket) {
	tok, err := auth.ParseUnverified(rawToken)
	if err != nil {
		r.authenticationFailure(err)
		return
	}
	if r.reg == nil {
		r.reg = crdt.NewRegistry(r.opts.RoomID, tok.Actor)
		r.reg.SetDispatch(func(ops []crdt.Op) { r.onNodeDispatch(ops) })
	} else {
		// Clocks are local to a connection (invariant 2); the tree itself
		// survives reconnection so offline ops and undo history stay valid.
		r.reg.Reset(tok.Actor)
	}

	r.socket = sock
	sock.OnOpen(func() { r.do(r.onSocketOpen) })
	sock.OnMessage(func(data string) { r.do(func() { r.onSocketMessage(data) }) })
	sock.OnClose(func(code int, reason string) { r.do(func() { r.onSocketClose(code, reason) }) })
	sock.OnError(func(err error) { r.log.Printf("roomkit: socket error: %v", err) })

	user := UserInfo{ID: tok.UserID, Info: tok.Info}
	r.setConnectionStatus(connectingState(tok.Actor, user))

	if sock.ReadyState() == effects.Open {
		r.onSocketOpen()
	}
}

func (r *Room) onSocketOpen() {
	r.clearTimer(&r.heartbeatTimer)
	r.heartbeatTimer = r.eff.StartHeartbeatInterval(func() { r.do(r.sendHeartbeat) })

	if r.conn.Status == StatusConnecting {
		r.setConnectionStatus(openState(r.conn.ID, r.conn.User))
		r.numberOfRetry = 0
	}

	if r.lastConnectionID != nil {
		// Reconnection: re-broadcast full presence and re-fetch storage.
		// FETCH_STORAGE is queued through the same buffer as everything
		// else so it is ordered by tryFlushing rather than racing ahead
		// of it on the wire.
		r.buffer.mergeUpdate(bufferFull, r.me)
		if r.storageLoaded {
			r.out.messages = append(r.out.messages, protocol.ClientMessage{Type: protocol.ClientFetchStorage})
		}
	}
	id := r.conn.ID
	r.lastConnectionID = &id
	r.tryFlushing()
}

func (r *Room) sendHeartbeat() {
	if r.socket == nil || r.socket.ReadyState() != effects.Open {
		return
	}
	_ = r.eff.Send(r.socket, protocol.PingFrame)
	r.clearTimer(&r.pongTimer)
	r.pongTimer = r.eff.SchedulePongTimeout(func() { r.do(r.onPongTimeout) })
}

func (r *Room) onPongTimeout() {
	r.reconnect()
}

// onPong clears the pending pong timeout; called by the router on
// receiving the literal "pong" control frame.
func (r *Room) onPong() {
	r.clearTimer(&r.pongTimer)
}

func (r *Room) onSocketClose(code int, reason string) {
	r.clearTimer(&r.pongTimer)
	r.clearTimer(&r.heartbeatTimer)
	r.clearTimer(&r.flushTimer)
	r.clearTimer(&r.reconnectTimer)

	r.users = map[int64]*userEntry{}
	r.subs.others.emit(OthersEvent{Kind: OthersReset})

	switch {
	case code >= 4000 && code <= 4100:
		r.setConnectionStatus(failedState())
		r.subs.errors.emit(&LiveblocksError{Code: code, Message: reason})
		r.setConnectionStatus(unavailableState())
		r.numberOfRetry++
		r.scheduleReconnect(backoff.Slow)
	case code == closeWithoutRetry:
		r.setConnectionStatus(closedState())
	default:
		r.setConnectionStatus(unavailableState())
		r.numberOfRetry++
		r.scheduleReconnect(backoff.Fast)
	}
}

func (r *Room) scheduleReconnect(schedule []time.Duration) {
	delay := backoff.Duration(schedule, r.numberOfRetry)
	r.clearTimer(&r.reconnectTimer)
	r.reconnectTimer = r.eff.ScheduleReconnect(delay.Milliseconds(), func() { r.do(r.connectLocked) })
}

// reconnect performs a full socket teardown followed by connectLocked():
// used by the pong-timeout handler and exposed for OnNavigatorOnline.
func (r *Room) reconnect() {
	r.clearAllTimers()
	if r.socket != nil {
		r.socket.Close(1000, "reconnecting")
		r.socket = nil
	}
	r.setConnectionStatus(unavailableState())
	r.connectLocked()
}

// OnNavigatorOnline should be called when the host environment reports the
// network came back; while unavailable it forces an immediate reconnect.
func (r *Room) OnNavigatorOnline() {
	r.do(func() {
		if r.conn.Status == StatusUnavailable {
			r.reconnect()
		}
	})
}

// OnVisibilityChange should be called with the host's visibilityState;
// becoming visible while open forces an immediate heartbeat, to detect a
// dead socket quickly after e.g. laptop wake.
func (r *Room) OnVisibilityChange(visible bool) {
	r.do(func() {
		if visible && r.conn.Status == StatusOpen {
			r.sendHeartbeat()
		}
	})
}

// SimulateClose is a test/ops hook exposing the internal close handler
// directly, per the specification's "simulate-close primitives for
// testing" requirement.
func (r *Room) SimulateClose(code int, reason string) {
	r.do(func() { r.onSocketClose(code, reason) })
}
