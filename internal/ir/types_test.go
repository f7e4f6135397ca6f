package ir

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRangeContains(t *testing.T) {
	outer := Range{Left: 1, Right: 10}

	assert.True(t, outer.Contains(Range{Left: 2, Right: 9}))
	assert.False(t, outer.Contains(outer), "containment is strict")
	assert.False(t, outer.Contains(Range{Left: 0, Right: 5}))
	assert.False(t, outer.Contains(Range{Left: 11, Right: 12}))
	assert.Equal(t, int64(10), outer.Size())
}

func TestNodeIsRoot(t *testing.T) {
	root := Node{ID: "r1", RootID: "r1", Left: 1, Right: 2, Kind: KindRoot}
	child := Node{ID: "c1", RootID: "r1", ParentID: NodeIDPtr("r1"), Kind: KindLeaf}

	assert.True(t, root.IsRoot())
	assert.False(t, child.IsRoot())
	assert.Equal(t, Range{Left: 1, Right: 2}, root.Range())
}

func TestNodeJSONShape(t *testing.T) {
	n := Node{ID: "c1", RootID: "r1", ParentID: NodeIDPtr("r1"), Left: 2, Right: 3, Kind: KindLeaf, Payload: "item:1"}
	data, err := json.Marshal(n)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, "r1", m["parent_id"])
	assert.Equal(t, "item:1", m["payload_ref"])
	assert.NotContains(t, m, "detached", "live nodes omit the tombstone flag")
}

func TestNormalizePayload(t *testing.T) {
	ref, err := NormalizePayload("  item:e\u0301 ")
	require.NoError(t, err)
	assert.Equal(t, PayloadRef("item:\u00e9"), ref)
	assert.Equal(t, "item", ref.Kind())

	_, err = NormalizePayload("   ")
	assert.Error(t, err)

	assert.Equal(t, "", PayloadRef("plain").Kind())
}

func TestInstancePtr(t *testing.T) {
	assert.Nil(t, InstancePtr(""))
	require.NotNil(t, InstancePtr("m1"))
	assert.Equal(t, InstanceID("m1"), *InstancePtr("m1"))
}

func TestNewSubtreeSize(t *testing.T) {
	s := Branch("item:A", Leaf("item:B"), Branch("item:C", Leaf("item:D")))
	assert.Equal(t, 4, s.Size())
}

func TestErrorsAs(t *testing.T) {
	err := error(NewCycleError("p1", "item:A", "r1"))
	assert.True(t, IsCycleError(err))
	assert.False(t, IsDuplicatePath(err))
	assert.Contains(t, err.Error(), "CYCLE_DETECTED")

	aborted := NewStorageAborted("r1", assert.AnError)
	assert.True(t, IsStorageAborted(aborted))
	assert.True(t, aborted.Retryable())
	assert.ErrorIs(t, aborted, assert.AnError)

	vc := NewVersionConflict("l1", 1, 2)
	assert.True(t, IsVersionConflict(vc))
	assert.False(t, vc.Retryable())
	assert.Equal(t, ErrCodeVersionConflict, AssignmentCode(vc))
	assert.Equal(t, RelationErrorCode(""), RelationCode(vc))
}
