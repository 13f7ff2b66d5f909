package room

import (
	"testing"

	"github.com/stretchr/testify/require"

	"collabtext/roomkit/crdt"
	"collabtext/roomkit/effects"
	"collabtext/roomkit/protocol"
)

func sendServerMessage(t *testing.T, sock *effects.FakeSocket, msg protocol.ServerMessage) {
	t.Helper()
	frame, err := protocol.EncodeServerFrame(msg)
	require.NoError(t, err)
	sock.SimulateMessage(frame)
}

func TestOthersEnterFiresOnlyOnFirstPresenceNotOnJoin(t *testing.T) {
	r, _, sock := newTestRoom(t)
	connectAndOpen(t, r, sock)

	var events []OthersEvent
	_, err := r.SubscribeOthers(func(e OthersEvent) { events = append(events, e) })
	require.NoError(t, err)

	sendServerMessage(t, sock, protocol.ServerMessage{Type: protocol.ServerUserJoined, Actor: 2})
	require.Empty(t, events, "USER_JOINED alone must not fire OthersEnter")
	require.Equal(t, 1, r.GetOthers().Count(), "the newcomer is tracked internally before their first presence update")

	sendServerMessage(t, sock, protocol.ServerMessage{
		Type: protocol.ServerUpdatePresence, Actor: 2, Data: map[string]interface{}{"cursor": 1},
	})
	require.Len(t, events, 1)
	require.Equal(t, OthersEnter, events[0].Kind)

	sendServerMessage(t, sock, protocol.ServerMessage{
		Type: protocol.ServerUpdatePresence, Actor: 2, Data: map[string]interface{}{"cursor": 2},
	})
	require.Len(t, events, 2)
	require.Equal(t, OthersUpdate, events[1].Kind)
}

func TestUserLeftEmitsOthersLeaveOnlyIfSeen(t *testing.T) {
	r, _, sock := newTestRoom(t)
	connectAndOpen(t, r, sock)

	var events []OthersEvent
	_, err := r.SubscribeOthers(func(e OthersEvent) { events = append(events, e) })
	require.NoError(t, err)

	sendServerMessage(t, sock, protocol.ServerMessage{Type: protocol.ServerUserJoined, Actor: 2})
	sendServerMessage(t, sock, protocol.ServerMessage{Type: protocol.ServerUserLeft, Actor: 2})
	require.Empty(t, events, "a user who never sent presence must not fire OthersLeave")
	require.Equal(t, 0, r.GetOthers().Count())

	sendServerMessage(t, sock, protocol.ServerMessage{Type: protocol.ServerUserJoined, Actor: 3})
	sendServerMessage(t, sock, protocol.ServerMessage{
		Type: protocol.ServerUpdatePresence, Actor: 3, Data: map[string]interface{}{"cursor": 1},
	})
	sendServerMessage(t, sock, protocol.ServerMessage{Type: protocol.ServerUserLeft, Actor: 3})
	require.Len(t, events, 2)
	require.Equal(t, OthersEnter, events[0].Kind)
	require.Equal(t, OthersLeave, events[1].Kind)
}

func TestRoomStateSeedsMembershipExcludingSelf(t *testing.T) {
	r, _, sock := newTestRoom(t)
	connectAndOpen(t, r, sock)

	self := "1"
	other := "2"
	sendServerMessage(t, sock, protocol.ServerMessage{
		Type: protocol.ServerRoomState,
		Users: map[string]protocol.RoomUser{
			self:  {},
			other: {},
		},
	})
	require.Equal(t, 1, r.GetOthers().Count(), "ROOM_STATE must exclude the room's own actor id")
}

func TestBroadcastAndReceiveEvent(t *testing.T) {
	r, _, sock := newTestRoom(t)
	connectAndOpen(t, r, sock)

	var received []UserBroadcastEvent
	_, err := r.SubscribeEvent(func(e UserBroadcastEvent) { received = append(received, e) })
	require.NoError(t, err)

	r.Broadcast(map[string]interface{}{"kind": "ping"})
	require.NotEmpty(t, sock.Sent)

	sendServerMessage(t, sock, protocol.ServerMessage{
		Type: protocol.ServerBroadcastedEvent, Actor: 2, Event: []byte(`{"kind":"pong"}`),
	})
	require.Len(t, received, 1)
	require.Equal(t, int64(2), received[0].ConnectionID)
}

func TestOfflineWriteIsReplayedAfterReconciliation(t *testing.T) {
	r, _, sock := newTestRoom(t)
	connectAndOpen(t, r, sock)
	loadInitialStorage(t, r, sock)

	require.NoError(t, r.UpdateObject("1:0", map[string]interface{}{"title": "offline edit"}))
	require.NotEmpty(t, sock.Sent, "the mutation must have been flushed and recorded as an offline op")
	sentBefore := len(sock.Sent)

	// The server's reconciliation snapshot reflects a different state
	// (as if the frame never reached it), forcing a diff-based catch-up.
	reconcile := protocol.ServerMessage{
		Type: protocol.ServerInitialStorageState,
		Items: []crdt.SerializedCrdt{
			{ID: "1:0", Kind: crdt.KindObject, IsRoot: true, Data: map[string]interface{}{}},
		},
	}
	sendServerMessage(t, sock, reconcile)

	root, ok := r.GetStorageSnapshot()
	require.True(t, ok)
	v, ok := root.Get("title")
	require.True(t, ok, "the offline op must be replayed on top of the reconciled tree")
	require.Equal(t, "offline edit", v)

	require.Greater(t, len(sock.Sent), sentBefore, "the still-unacked op must be resent after reconciliation")
}

func TestUpdateStorageAckClearsOfflineOp(t *testing.T) {
	r, _, sock := newTestRoom(t)
	connectAndOpen(t, r, sock)
	loadInitialStorage(t, r, sock)

	require.NoError(t, r.UpdateObject("1:0", map[string]interface{}{"title": "acked"}))
	frame := sock.Sent[len(sock.Sent)-1]
	msgs, _, err := protocol.DecodeClientFrame(frame)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Len(t, msgs[0].Ops, 1)
	opID := msgs[0].Ops[0].OpID

	// The server rebroadcasts the same op back to every member, including
	// the sender, which resolves it against offlineOps as an ack.
	sendServerMessage(t, sock, protocol.ServerMessage{
		Type: protocol.ServerUpdateStorage, Actor: 1, Ops: msgs[0].Ops,
	})

	sentBefore := len(sock.Sent)
	reconcile := protocol.ServerMessage{
		Type: protocol.ServerInitialStorageState,
		Items: []crdt.SerializedCrdt{
			{ID: "1:0", Kind: crdt.KindObject, IsRoot: true, Data: map[string]interface{}{"title": "acked"}},
		},
	}
	sendServerMessage(t, sock, reconcile)
	require.Equal(t, sentBefore, len(sock.Sent), "an already-acked op must not be replayed again on reconnect")
	_ = opID
}
