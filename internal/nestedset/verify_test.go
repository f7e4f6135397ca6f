package nestedset

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isb2026/bomrel/internal/ir"
)

func rules(t *testing.T, err error) []string {
	t.Helper()
	var ve *VerifyError
	require.True(t, errors.As(err, &ve), "expected VerifyError, got %v", err)
	var out []string
	for _, v := range ve.Violations {
		out = append(out, v.Rule)
	}
	return out
}

func TestVerifyAcceptsConsistentTree(t *testing.T) {
	assert.NoError(t, Verify("R", sampleTree()))
}

func TestVerifyIgnoresTombstones(t *testing.T) {
	nodes := append(sampleTree(), ir.Node{ID: "old", RootID: "R", ParentID: ir.NodeIDPtr("R"), Left: 3, Right: 40, Detached: true})
	assert.NoError(t, Verify("R", nodes))
}

func TestVerifyDetectsGap(t *testing.T) {
	nodes := sampleTree()
	nodes[0].Right = 11
	assert.Contains(t, rules(t, Verify("R", nodes)), "contiguous")
}

func TestVerifyDetectsOverlap(t *testing.T) {
	nodes := sampleTree()
	nodes[4].Left, nodes[4].Right = 6, 7
	assert.Contains(t, rules(t, Verify("R", nodes)), "distinct_positions")
}

func TestVerifyDetectsWideLeaf(t *testing.T) {
	nodes := sampleTree()
	nodes[2].Right = 5
	assert.Contains(t, rules(t, Verify("R", nodes)), "leaf_width")
}

func TestVerifyDetectsChildOutsideParent(t *testing.T) {
	nodes := sampleTree()
	nodes[4].ParentID = ir.NodeIDPtr("P")
	assert.Contains(t, rules(t, Verify("R", nodes)), "nested_in_parent")
}

func TestVerifyDetectsSecondRoot(t *testing.T) {
	nodes := sampleTree()
	nodes[4].ParentID = nil
	got := rules(t, Verify("R", nodes))
	assert.Contains(t, got, "single_root")
	assert.Contains(t, got, "root_identity")
}

func TestVerifyEmptyTree(t *testing.T) {
	assert.Equal(t, []string{"root_exists"}, rules(t, Verify("R", nil)))
}
