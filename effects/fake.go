package effects

import (
	"context"
	"sort"
)

// FakeSocket is an in-memory Socket a test can drive directly: Sent
// collects everything the machine tried to send, and SimulateMessage/SimulateClose
// feed synthetic inbound events back into the machine's handlers.
type FakeSocket struct {
	state   ReadyState
	Sent    []string
	onOpen  func()
	onMsg   func(string)
	onClose func(int, string)
	onErr   func(error)
}

func NewFakeSocket() *FakeSocket { return &FakeSocket{state: Connecting} }

func (s *FakeSocket) ReadyState() ReadyState { return s.state }

func (s *FakeSocket) Send(data string) error {
	s.Sent = append(s.Sent, data)
	return nil
}

// Close mirrors the real socket's contract: it is a caller-initiated
// teardown, not an event notification, so it does not itself invoke
// onClose — the same reason websocket.Close returns immediately and lets
// the read pump discover the closed connection asynchronously. Code that
// closes its own socket while holding the room's lock (Disconnect,
// reconnect) would otherwise deadlock re-entering that lock synchronously.
// Use SimulateClose to feed a server-initiated close into the machine.
func (s *FakeSocket) Close(code int, reason string) {
	s.state = Closed
}

func (s *FakeSocket) OnOpen(fn func())                       { s.onOpen = fn }
func (s *FakeSocket) OnMessage(fn func(data string))         { s.onMsg = fn }
func (s *FakeSocket) OnClose(fn func(code int, reason string)) { s.onClose = fn }
func (s *FakeSocket) OnError(fn func(err error))             { s.onErr = fn }

// SimulateOpen transitions the socket to Open and fires onOpen, as the
// FSM expects after a successful connect.
func (s *FakeSocket) SimulateOpen() {
	s.state = Open
	if s.onOpen != nil {
		s.onOpen()
	}
}

func (s *FakeSocket) SimulateMessage(data string) {
	if s.onMsg != nil {
		s.onMsg(data)
	}
}

func (s *FakeSocket) SimulateClose(code int, reason string) {
	s.state = Closed
	if s.onClose != nil {
		s.onClose(code, reason)
	}
}

func (s *FakeSocket) SimulateError(err error) {
	if s.onErr != nil {
		s.onErr(err)
	}
}

// pendingTimer is one entry in the fake's virtual clock queue.
type pendingTimer struct {
	id       TimerID
	fireAt   int64
	fn       func()
	repeat   int64 // 0 = one-shot
	canceled bool
}

// Fake is a deterministic Effects double with a virtual clock: nothing
// fires until the test calls Advance.
type Fake struct {
	now          int64
	nextID       TimerID
	timers       map[TimerID]*pendingTimer
	NextSocket   *FakeSocket
	NextAuthErr  error
	AuthCalls    int
}

func NewFake() *Fake {
	return &Fake{timers: map[TimerID]*pendingTimer{}}
}

// Authenticate calls done synchronously, on the calling goroutine, so
// tests using Fake never need to wait for a background goroutine to
// finish authenticating. Its default socket-acquisition step mirrors
// realEffects.Authenticate: fetch a token, then call makeSocket. NextSocket
// is an override consumed at most once, for a test that wants to hand the
// room a specific pre-built socket for its very first connect; once
// consumed, every later Authenticate call (i.e. every reconnect) goes
// through makeSocket like the real implementation, so a SocketFactory
// closure that always returns the same instance keeps returning that same
// instance across reconnects, as it would for a real dialer reusing a
// fixed test double.
func (f *Fake) Authenticate(ctx context.Context, fetch TokenFetcher, makeSocket SocketFactory, roomID string, buildURL func(token string) string, done func(Socket, string, error)) {
	f.AuthCalls++
	if f.NextAuthErr != nil {
		err := f.NextAuthErr
		f.NextAuthErr = nil
		done(nil, "", err)
		return
	}
	token, err := fetch(ctx, roomID)
	if err != nil {
		done(nil, "", err)
		return
	}
	if f.NextSocket != nil {
		sock := f.NextSocket
		f.NextSocket = nil
		done(sock, token, nil)
		return
	}
	sock, err := makeSocket(buildURL(token))
	if err != nil {
		done(nil, "", err)
		return
	}
	done(sock, token, nil)
}

func (f *Fake) Send(sock Socket, data string) error { return sock.Send(data) }

func (f *Fake) schedule(delayMs int64, fn func(), repeat int64) TimerID {
	f.nextID++
	f.timers[f.nextID] = &pendingTimer{id: f.nextID, fireAt: f.now + delayMs, fn: fn, repeat: repeat}
	return f.nextID
}

func (f *Fake) DelayFlush(delayMs int64, fn func()) TimerID          { return f.schedule(delayMs, fn, 0) }
func (f *Fake) SchedulePongTimeout(fn func()) TimerID                { return f.schedule(2000, fn, 0) }
func (f *Fake) ScheduleReconnect(delayMs int64, fn func()) TimerID   { return f.schedule(delayMs, fn, 0) }
func (f *Fake) StartHeartbeatInterval(fn func()) TimerID             { return f.schedule(30000, fn, 30000) }

func (f *Fake) ClearTimer(id TimerID) {
	if t, ok := f.timers[id]; ok {
		t.canceled = true
	}
}

func (f *Fake) Now() int64 { return f.now }

// Advance moves the virtual clock forward by ms, firing every timer whose
// deadline falls within the new window, in fire-time order, and
// re-arming repeating timers.
func (f *Fake) Advance(ms int64) {
	target := f.now + ms
	for {
		var due []*pendingTimer
		for _, t := range f.timers {
			if !t.canceled && t.fireAt <= target {
				due = append(due, t)
			}
		}
		if len(due) == 0 {
			break
		}
		sort.Slice(due, func(i, j int) bool { return due[i].fireAt < due[j].fireAt })
		next := due[0]
		f.now = next.fireAt
		delete(f.timers, next.id)
		if next.repeat > 0 && !next.canceled {
			f.timers[next.id] = &pendingTimer{id: next.id, fireAt: f.now + next.repeat, fn: next.fn, repeat: next.repeat}
		}
		next.fn()
	}
	f.now = target
}
