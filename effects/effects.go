// Package effects abstracts every side effect the room state machine
// performs, so the machine itself can be driven deterministically in tests
// and swapped onto a real transport (see effects/websocket.go) in
// production, mirroring the "effect injection" design note.
package effects

import "context"

// TimerID is an opaque handle to a scheduled timer or interval. The zero
// value is not a valid handle; Effects implementations mint their own.
type TimerID uint64

// ReadyState mirrors the WebSocket readyState values the connection FSM
// inspects before sending control frames.
type ReadyState int

const (
	Connecting ReadyState = iota
	Open
	Closing
	Closed
)

// Socket is the minimal surface the connection FSM needs from a
// full-duplex text connection.
type Socket interface {
	ReadyState() ReadyState
	Send(data string) error
	Close(code int, reason string)

	// OnOpen/OnMessage/OnClose/OnError register the handlers the FSM
	// wires immediately after a successful authentication.
	OnOpen(func())
	OnMessage(func(data string))
	OnClose(func(code int, reason string))
	OnError(func(err error))
}

// SocketFactory builds a new Socket for a given URL; effects.Authenticate
// receives one and hands it to the room once a token is available.
type SocketFactory func(url string) (Socket, error)

// TokenFetcher performs the HTTP round trip (or custom callback) that
// yields a raw token string for a room. Defined here, not in package auth,
// so Effects has no dependency on the auth package's HTTP concerns.
type TokenFetcher func(ctx context.Context, roomID string) (string, error)

// Effects is the full injected side-effect surface named in the
// specification's design notes.
type Effects interface {
	// Authenticate resolves a token via fetch, builds a socket via
	// makeSocket, and invokes done exactly once with the result. The url
	// passed to makeSocket already carries the resolved token. done is
	// called from whatever goroutine the implementation chooses to
	// finish on (the real implementation uses one it owns; the fake
	// double calls done synchronously so tests stay deterministic) —
	// callers must not assume it fires on the calling goroutine.
	Authenticate(ctx context.Context, fetch TokenFetcher, makeSocket SocketFactory, roomID string, buildURL func(token string) string, done func(sock Socket, token string, err error))

	Send(sock Socket, data string) error

	// DelayFlush arms a one-shot timer; used by the flush scheduler.
	DelayFlush(delay int64, fn func()) TimerID

	// StartHeartbeatInterval arms a repeating timer at a fixed 30s period.
	StartHeartbeatInterval(fn func()) TimerID

	// SchedulePongTimeout arms a one-shot 2s timer.
	SchedulePongTimeout(fn func()) TimerID

	// ScheduleReconnect arms a one-shot timer at the given backoff delay.
	ScheduleReconnect(delay int64, fn func()) TimerID

	// ClearTimer cancels any of the above by handle; a zero/unknown
	// TimerID is a silent no-op.
	ClearTimer(id TimerID)

	// Now returns the current time in unix milliseconds, abstracted so
	// tests can run a virtual clock.
	Now() int64
}
