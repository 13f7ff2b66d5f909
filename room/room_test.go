package room

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"collabtext/roomkit/auth"
	"collabtext/roomkit/crdt"
	"collabtext/roomkit/effects"
	"collabtext/roomkit/protocol"
)

var testSecret = []byte("test-secret")

func signTestToken(t *testing.T, actor int64) string {
	t.Helper()
	tok, err := auth.Sign(testSecret, actor, nil, nil, time.Hour)
	require.NoError(t, err)
	return tok
}

// newTestRoom builds a Room wired to a Fake effects double and a fresh
// FakeSocket, ready for a test to drive through Connect/Advance/SimulateMessage.
// It does not connect the room; call Connect (or connectAndOpen) itself.
func newTestRoom(t *testing.T) (*Room, *effects.Fake, *effects.FakeSocket) {
	t.Helper()
	fake := effects.NewFake()
	sock := effects.NewFakeSocket()
	fake.NextSocket = sock

	r := New(Options{
		RoomID: "room-1",
		Fetch: func(ctx context.Context, roomID string) (string, error) {
			return signTestToken(t, 1), nil
		},
		SocketFactory: func(url string) (effects.Socket, error) { return sock, nil },
		Effects:       fake,
	})
	return r, fake, sock
}

// connectAndOpen drives a Room all the way to StatusOpen, the shared
// starting point of most scenario tests.
func connectAndOpen(t *testing.T, r *Room, sock *effects.FakeSocket) {
	t.Helper()
	r.Connect()
	sock.SimulateOpen()
	require.Equal(t, StatusOpen, r.ConnectionState().Status)
}

func TestColdConnectReachesOpen(t *testing.T) {
	r, _, sock := newTestRoom(t)
	require.Equal(t, StatusClosed, r.ConnectionState().Status)
	connectAndOpen(t, r, sock)
	id, err := r.ConnectionID()
	require.NoError(t, err)
	require.Equal(t, int64(1), id)
}

func TestServerIndicatedCloseGoesThroughFailedThenUnavailable(t *testing.T) {
	r, fake, sock := newTestRoom(t)
	connectAndOpen(t, r, sock)

	var events []ConnectionStatus
	_, err := r.SubscribeConnection(func(e ConnectionEvent) { events = append(events, e.Current) })
	require.NoError(t, err)

	var gotErr error
	_, err = r.SubscribeError(func(err error) { gotErr = err })
	require.NoError(t, err)

	r.SimulateClose(4001, "room full")

	require.NotNil(t, gotErr)
	lbErr, ok := gotErr.(*LiveblocksError)
	require.True(t, ok)
	require.Equal(t, 4001, lbErr.Code)
	require.Equal(t, []ConnectionStatus{StatusFailed, StatusUnavailable}, events)

	_ = fake // this test does not advance the virtual clock
}

func TestCloseWithoutRetryIsTerminal(t *testing.T) {
	r, _, sock := newTestRoom(t)
	connectAndOpen(t, r, sock)

	r.SimulateClose(closeWithoutRetry, "disconnect")
	require.Equal(t, StatusClosed, r.ConnectionState().Status)
}

func TestPongTimeoutTriggersReconnect(t *testing.T) {
	r, fake, sock := newTestRoom(t)
	connectAndOpen(t, r, sock)

	// StartHeartbeatInterval fires at 30s, arming a 2s pong timeout.
	fake.Advance(30_000)
	require.Equal(t, StatusOpen, r.ConnectionState().Status)

	// No pong arrives before the 2s timeout: the FSM must reconnect.
	fake.Advance(2_000)
	require.NotEqual(t, StatusOpen, r.ConnectionState().Status)
}

func TestPongClearsTimeoutAndStaysOpen(t *testing.T) {
	r, fake, sock := newTestRoom(t)
	connectAndOpen(t, r, sock)

	fake.Advance(30_000)
	sock.SimulateMessage(protocol.PongFrame)
	fake.Advance(2_000)
	require.Equal(t, StatusOpen, r.ConnectionState().Status)
}

func TestUnavailableAfterCloseReconnectsOnFastSchedule(t *testing.T) {
	r, fake, sock := newTestRoom(t)
	connectAndOpen(t, r, sock)

	r.SimulateClose(1006, "abnormal")
	require.Equal(t, StatusUnavailable, r.ConnectionState().Status)

	// numberOfRetry is incremented to 1 before scheduling, so the first
	// reconnect after an unexpected close waits backoff.Fast[1].
	fake.Advance(500)
	require.Equal(t, StatusAuthenticating, r.ConnectionState().Status)
}

func TestDisconnectIsIdempotentAndTerminal(t *testing.T) {
	r, _, sock := newTestRoom(t)
	connectAndOpen(t, r, sock)

	var resets int
	_, err := r.SubscribeOthers(func(e OthersEvent) {
		if e.Kind == OthersReset {
			resets++
		}
	})
	require.NoError(t, err)

	r.Disconnect()
	require.Equal(t, StatusClosed, r.ConnectionState().Status)
	require.Equal(t, 1, resets)

	// Disconnect must not panic or deadlock on a second call, and must
	// not close an already-nil socket.
	r.Disconnect()
	require.Equal(t, StatusClosed, r.ConnectionState().Status)
	require.Equal(t, 1, resets, "a second Disconnect must be a no-op")
}

func TestStorageTreeSurvivesReconnect(t *testing.T) {
	r, fake, sock := newTestRoom(t)
	connectAndOpen(t, r, sock)
	loadInitialStorage(t, r, sock)
	require.NoError(t, r.UpdateObject("1:0", map[string]interface{}{"title": "before drop"}))

	root, ok := r.GetStorageSnapshot()
	require.True(t, ok)
	before := len(sock.Sent)

	r.SimulateClose(1006, "abnormal")
	require.Equal(t, StatusUnavailable, r.ConnectionState().Status)

	fake.Advance(500) // numberOfRetry is 1 after the close, so backoff.Fast[1]
	require.Equal(t, StatusOpen, r.ConnectionState().Status, "the fake socket never actually closed, so reconnecting finds it already open")

	// Reconnection reuses the registry (Reset, not replace) so the tree
	// built before the drop, and the data mutated on it, survive intact.
	after, ok := r.GetStorageSnapshot()
	require.True(t, ok)
	require.Same(t, root, after, "authenticationSuccess must Reset the existing registry, not discard it")
	v, ok := after.Get("title")
	require.True(t, ok)
	require.Equal(t, "before drop", v)

	require.Greater(t, len(sock.Sent), before, "reconnecting with storage already loaded must re-FETCH_STORAGE")
}

func TestLocalWriteWhileDisconnectedIsDrainedAndSentOnceReconnected(t *testing.T) {
	r, fake, sock := newTestRoom(t)
	connectAndOpen(t, r, sock)
	loadInitialStorage(t, r, sock)

	// Close through the fake socket itself, so it really reads as closed.
	sock.SimulateClose(1006, "abnormal")
	require.Equal(t, StatusUnavailable, r.ConnectionState().Status)
	require.NotEqual(t, effects.Open, sock.ReadyState(), "the socket must read as closed while unavailable")

	before := len(sock.Sent)
	require.NoError(t, r.UpdateObject("1:0", map[string]interface{}{"title": "written offline"}))
	require.Equal(t, before, len(sock.Sent), "a write made while disconnected must not attempt to send anything")

	fake.Advance(500) // numberOfRetry is 1 after the close, so backoff.Fast[1]
	sock.SimulateOpen() // the reconnect hands back the same, closed fake socket
	require.Equal(t, StatusOpen, r.ConnectionState().Status)

	require.Greater(t, len(sock.Sent), before, "reconnecting must flush the write that was drained while offline")
	frame := sock.Sent[len(sock.Sent)-1]
	msgs, isControl, err := protocol.DecodeClientFrame(frame)
	require.NoError(t, err)
	require.False(t, isControl)

	var sawFetch, sawStorage bool
	for _, m := range msgs {
		switch m.Type {
		case protocol.ClientFetchStorage:
			sawFetch = true
		case protocol.ClientUpdateStorage:
			sawStorage = true
			require.Len(t, m.Ops, 1)
			require.Equal(t, "written offline", m.Ops[0].Data["title"])
		}
	}
	require.True(t, sawFetch, "reconnecting with storage already loaded must re-FETCH_STORAGE")
	require.True(t, sawStorage, "the op drained while offline must be resent on reconnect")

	root, ok := r.GetStorageSnapshot()
	require.True(t, ok)
	v, ok := root.Get("title")
	require.True(t, ok, "the offline write must already be visible locally, independent of the resend")
	require.Equal(t, "written offline", v)
}

// loadInitialStorage delivers a minimal INITIAL_STORAGE_STATE frame so
// tests that need a live storage tree don't each hand-roll one.
func loadInitialStorage(t *testing.T, r *Room, sock *effects.FakeSocket) {
	t.Helper()
	msg := protocol.ServerMessage{
		Type: protocol.ServerInitialStorageState,
		Items: []crdt.SerializedCrdt{
			{ID: "1:0", Kind: crdt.KindObject, IsRoot: true, Data: map[string]interface{}{}},
		},
	}
	frame, err := protocol.EncodeServerFrame(msg)
	require.NoError(t, err)
	sock.SimulateMessage(frame)
	_, ok := r.GetStorageSnapshot()
	require.True(t, ok)
}
