package crdt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadBuildsTreeFromFlatSnapshot(t *testing.T) {
	reg := NewRegistry("room-1", 1)
	items := []SerializedCrdt{
		{ID: "1:0", Kind: KindObject, IsRoot: true, Data: map[string]interface{}{"title": "doc"}},
		{ID: "1:1", Kind: KindList, ParentID: "1:0", ParentKey: "items"},
		{ID: "1:2", Kind: KindRegister, ParentID: "1:1", ParentKey: "m", Data: map[string]interface{}{"value": "first"}},
	}

	root, err := Load(reg, reg, items)
	require.NoError(t, err)
	obj := root.(*LiveObject)
	v, ok := obj.Get("title")
	require.True(t, ok)
	assert.Equal(t, "doc", v)

	list, ok := reg.GetItem("1:1")
	require.True(t, ok)
	assert.Equal(t, []string{"1:2"}, list.(*LiveList).Values())

	reg2, ok := reg.Root()
	require.True(t, ok)
	assert.Equal(t, "1:0", reg2.ID())
}

func TestLoadRejectsEmptyOrRootlessSnapshot(t *testing.T) {
	reg := NewRegistry("room-1", 1)
	_, err := Load(reg, reg, nil)
	assert.Error(t, err)

	_, err = Load(reg, reg, []SerializedCrdt{{ID: "1:1", Kind: KindObject, ParentID: "1:0"}})
	assert.Error(t, err)
}

func TestDefaultStorageRootOnlySeedsMissingKeys(t *testing.T) {
	_, root := newTestRegistry(t)
	root.data["existing"] = "keep-me"

	ops := DefaultStorageRoot(root, map[string]interface{}{
		"existing": "overwritten?",
		"fresh":    "value",
	})

	require.Len(t, ops, 1)
	assert.Equal(t, OpUpdateObject, ops[0].Code)

	v, _ := root.Get("existing")
	assert.Equal(t, "keep-me", v)
	v, _ = root.Get("fresh")
	assert.Equal(t, "value", v)
}
