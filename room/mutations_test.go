package room

import (
	"testing"

	"github.com/stretchr/testify/require"

	"collabtext/roomkit/crdt"
	"collabtext/roomkit/protocol"
)

func TestUpdateObjectBeforeConnectionReturnsErrNoConnection(t *testing.T) {
	r, _, _ := newTestRoom(t)
	err := r.UpdateObject("1:0", map[string]interface{}{"a": 1})
	require.ErrorIs(t, err, ErrNoConnection)
}

func TestUpdateObjectAppliesImmediatelyAndFlushes(t *testing.T) {
	r, _, sock := newTestRoom(t)
	connectAndOpen(t, r, sock)
	loadInitialStorage(t, r, sock)

	require.NoError(t, r.UpdateObject("1:0", map[string]interface{}{"title": "hi"}))

	root, ok := r.GetStorageSnapshot()
	require.True(t, ok)
	v, ok := root.Get("title")
	require.True(t, ok)
	require.Equal(t, "hi", v)
	require.NotEmpty(t, sock.Sent, "an UPDATE_STORAGE frame must have been flushed")
}

func TestUndoReversesLocalMutationAndRedoReplaysIt(t *testing.T) {
	r, _, sock := newTestRoom(t)
	connectAndOpen(t, r, sock)
	loadInitialStorage(t, r, sock)

	require.NoError(t, r.UpdateObject("1:0", map[string]interface{}{"title": "hi"}))
	require.True(t, r.CanUndo())
	require.False(t, r.CanRedo())

	require.NoError(t, r.Undo())
	root, _ := r.GetStorageSnapshot()
	_, ok := root.Get("title")
	require.False(t, ok, "undo must remove the key that had no prior value")
	require.False(t, r.CanUndo())
	require.True(t, r.CanRedo())

	require.NoError(t, r.Redo())
	v, ok := root.Get("title")
	require.True(t, ok)
	require.Equal(t, "hi", v)
	require.True(t, r.CanUndo())
	require.False(t, r.CanRedo())
}

func TestNewLocalMutationClearsRedoStack(t *testing.T) {
	r, _, sock := newTestRoom(t)
	connectAndOpen(t, r, sock)
	loadInitialStorage(t, r, sock)

	require.NoError(t, r.UpdateObject("1:0", map[string]interface{}{"a": 1}))
	require.NoError(t, r.Undo())
	require.True(t, r.CanRedo())

	require.NoError(t, r.UpdateObject("1:0", map[string]interface{}{"b": 2}))
	require.False(t, r.CanRedo(), "a fresh mutation must invalidate the redo stack")
}

func TestHistoryBoundedAt50Entries(t *testing.T) {
	r, _, sock := newTestRoom(t)
	connectAndOpen(t, r, sock)
	loadInitialStorage(t, r, sock)

	for i := 0; i < 60; i++ {
		require.NoError(t, r.UpdateObject("1:0", map[string]interface{}{"n": i}))
	}
	undone := 0
	for r.CanUndo() {
		require.NoError(t, r.Undo())
		undone++
	}
	require.Equal(t, 50, undone, "the undo stack must never exceed historyLimit entries")
}

func TestBatchCommitsOneHistoryEntryAndOneFlush(t *testing.T) {
	r, _, sock := newTestRoom(t)
	connectAndOpen(t, r, sock)
	loadInitialStorage(t, r, sock)
	// Drain the flush produced by loading storage itself.
	sock.Sent = nil

	err := r.Batch(func() {
		require.NoError(t, r.UpdateObject("1:0", map[string]interface{}{"a": 1}))
		require.NoError(t, r.UpdateObject("1:0", map[string]interface{}{"b": 2}))
	})
	require.NoError(t, err)
	require.Len(t, sock.Sent, 1, "a batch must produce exactly one flushed frame")

	require.True(t, r.CanUndo())
	require.NoError(t, r.Undo())
	root, _ := r.GetStorageSnapshot()
	_, hasA := root.Get("a")
	_, hasB := root.Get("b")
	require.False(t, hasA)
	require.False(t, hasB)
	require.False(t, r.CanUndo(), "a batch's mutations must undo as a single atomic entry")
}

func TestNestedBatchIsRejected(t *testing.T) {
	r, _, sock := newTestRoom(t)
	connectAndOpen(t, r, sock)
	loadInitialStorage(t, r, sock)

	var nestedErr error
	err := r.Batch(func() {
		nestedErr = r.Batch(func() {})
	})
	require.NoError(t, err)
	require.ErrorIs(t, nestedErr, ErrNestedBatch)
}

func TestUndoRedoDuringBatchIsRejected(t *testing.T) {
	r, _, sock := newTestRoom(t)
	connectAndOpen(t, r, sock)
	loadInitialStorage(t, r, sock)

	var undoErr, redoErr error
	err := r.Batch(func() {
		undoErr = r.Undo()
		redoErr = r.Redo()
	})
	require.NoError(t, err)
	require.ErrorIs(t, undoErr, ErrUndoRedoDuringBatch)
	require.ErrorIs(t, redoErr, ErrUndoRedoDuringBatch)
}

func TestCreateChildMintsFreshIDAndAttaches(t *testing.T) {
	r, _, sock := newTestRoom(t)
	connectAndOpen(t, r, sock)
	loadInitialStorage(t, r, sock)

	var events []StorageUpdateEvent
	_, err := r.SubscribeStorage(func(evs []StorageUpdateEvent) { events = append(events, evs...) })
	require.NoError(t, err)

	id, err := r.CreateChild("1:0", "child", crdt.KindObject, map[string]interface{}{"x": 1})
	require.NoError(t, err)
	require.NotEmpty(t, id)
	require.NotEqual(t, "1:0", id)

	root, _ := r.GetStorageSnapshot()
	_, isDataKey := root.Get("child")
	require.False(t, isDataKey, "an attached child lives in the container's child index, not its plain data")

	var sawCreate bool
	for _, e := range events {
		if e.NodeID == id && e.Type == crdt.UpdateCreate {
			sawCreate = true
		}
	}
	require.True(t, sawCreate, "attaching a child must notify storage listeners with an UpdateCreate event")
}

func TestUndoOfDeleteCrdtRecreatesTheNodeAndFiresHistoryChange(t *testing.T) {
	r, _, sock := newTestRoom(t)
	connectAndOpen(t, r, sock)
	loadInitialStorage(t, r, sock)

	id, err := r.CreateChild("1:0", "child", crdt.KindObject, map[string]interface{}{"x": 1})
	require.NoError(t, err)

	var historyEvents []HistoryEvent
	_, err = r.SubscribeHistory(func(e HistoryEvent) { historyEvents = append(historyEvents, e) })
	require.NoError(t, err)

	require.NoError(t, r.DeleteCrdt(id))
	require.True(t, r.CanUndo(), "a local DELETE_CRDT must push a history entry, not be silently dropped")

	require.NoError(t, r.Undo())
	require.NotEmpty(t, historyEvents, "undoing a delete must still fire a history-change notification")

	_, ok := r.reg.GetItem(id)
	require.True(t, ok, "undo of DeleteCrdt must recreate the node under its original id")
}

func TestOpIDsAreUniqueAcrossLocalMutations(t *testing.T) {
	r, _, sock := newTestRoom(t)
	connectAndOpen(t, r, sock)
	loadInitialStorage(t, r, sock)

	seen := map[string]struct{}{}
	for i := 0; i < 20; i++ {
		sock.Sent = nil
		require.NoError(t, r.UpdateObject("1:0", map[string]interface{}{"n": i}))
		require.Len(t, sock.Sent, 1)

		msgs, isControl, err := protocol.DecodeClientFrame(sock.Sent[0])
		require.NoError(t, err)
		require.False(t, isControl)
		require.Len(t, msgs, 1)
		require.Len(t, msgs[0].Ops, 1)

		opID := msgs[0].Ops[0].OpID
		require.NotEmpty(t, opID)
		_, dup := seen[opID]
		require.False(t, dup, "flushed op id %s repeated across mutations", opID)
		seen[opID] = struct{}{}
	}
}
