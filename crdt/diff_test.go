package crdt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTreesDiffOperationsAppliesCleanlyToReachIncoming(t *testing.T) {
	reg, root := newTestRegistry(t)
	root.data["title"] = "old"
	root.data["stale"] = true

	current := reg.Snapshot()

	incoming := map[string]SerializedCrdt{
		root.ID(): {
			ID:     root.ID(),
			Kind:   KindObject,
			IsRoot: true,
			Data:   map[string]interface{}{"title": "new"},
		},
	}

	ops := TreesDiffOperations(current, incoming)
	require.NotEmpty(t, ops)

	for _, op := range ops {
		result := ApplyOp(reg, op, SourceRemote)
		require.True(t, result.Modified, "diff op %+v should apply cleanly", op)
	}

	v, ok := root.Get("title")
	require.True(t, ok)
	assert.Equal(t, "new", v)
	_, ok = root.Get("stale")
	assert.False(t, ok, "keys absent from the incoming snapshot must be deleted")
}

func TestTreesDiffOperationsCreatesMissingNode(t *testing.T) {
	reg, root := newTestRegistry(t)
	current := reg.Snapshot()

	incoming := map[string]SerializedCrdt{
		root.ID(): current[root.ID()],
		"1:1": {
			ID:        "1:1",
			Kind:      KindObject,
			ParentID:  root.ID(),
			ParentKey: "child",
			Data:      map[string]interface{}{"a": 1},
		},
	}

	ops := TreesDiffOperations(current, incoming)
	var sawCreate bool
	for _, op := range ops {
		if op.Code == OpCreateObject {
			sawCreate = true
			result := ApplyOp(reg, op, SourceRemote)
			require.True(t, result.Modified)
		}
	}
	assert.True(t, sawCreate, "diff must synthesize a CREATE op for a node missing locally")
	_, ok := reg.GetItem("1:1")
	assert.True(t, ok)
}

func TestTreesDiffOperationsDeletesRemovedNode(t *testing.T) {
	reg, root := newTestRegistry(t)
	create := ApplyOp(reg, Op{Code: OpCreateObject, ParentID: root.ID(), ParentKey: "child"}, SourceUndoRedoReconnect)
	require.True(t, create.Modified)

	current := reg.Snapshot()
	incoming := map[string]SerializedCrdt{root.ID(): current[root.ID()]}

	ops := TreesDiffOperations(current, incoming)
	require.Len(t, ops, 1)
	assert.Equal(t, OpDeleteCrdt, ops[0].Code)

	result := ApplyOp(reg, ops[0], SourceRemote)
	require.True(t, result.Modified)
	_, ok := reg.GetItem(create.Update.NodeID)
	assert.False(t, ok)
}
