package nestedset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isb2026/bomrel/internal/ir"
)

func TestLayoutPreOrder(t *testing.T) {
	sub := ir.Branch("item:A",
		ir.Branch("item:B", ir.Leaf("item:C")),
		ir.Leaf("item:D"),
	)

	placed, err := Layout(sub, 7)
	require.NoError(t, err)
	require.Len(t, placed, 4)

	type row struct {
		payload     ir.PayloadRef
		left, right int64
		parent      int
		depth       int
	}
	var got []row
	for _, p := range placed {
		got = append(got, row{p.Payload, p.Left, p.Right, p.ParentIndex, p.Depth})
	}
	assert.Equal(t, []row{
		{"item:A", 7, 14, -1, 0},
		{"item:B", 8, 11, 0, 1},
		{"item:C", 9, 10, 1, 2},
		{"item:D", 12, 13, 0, 1},
	}, got)
	assert.Equal(t, int64(7+2*4-1), placed[0].Right)
}

func TestLayoutDefaultsKinds(t *testing.T) {
	placed, err := Layout(ir.NewSubtree{Payload: "item:A", Children: []ir.NewSubtree{{Payload: "item:B"}}}, 1)
	require.NoError(t, err)
	assert.Equal(t, ir.KindBranch, placed[0].Kind)
	assert.Equal(t, ir.KindLeaf, placed[1].Kind)

	placed, err = Layout(ir.NewSubtree{Payload: "item:E", Kind: ir.KindBranch}, 1)
	require.NoError(t, err)
	assert.Equal(t, ir.KindBranch, placed[0].Kind, "explicit empty branch")
	assert.Equal(t, int64(2), placed[0].Right)
}

func TestLayoutRejects(t *testing.T) {
	tests := []struct {
		name string
		sub  ir.NewSubtree
		code ir.RelationErrorCode
	}{
		{"empty payload", ir.NewSubtree{Payload: "  "}, ir.ErrCodeInvalidSubtree},
		{"leaf with children", ir.NewSubtree{Payload: "item:A", Kind: ir.KindLeaf, Children: []ir.NewSubtree{ir.Leaf("item:B")}}, ir.ErrCodeInvalidSubtree},
		{"unknown kind", ir.NewSubtree{Payload: "item:A", Kind: "WIDGET"}, ir.ErrCodeInvalidSubtree},
		{"nested root", ir.Branch("item:A", ir.NewSubtree{Payload: "item:B", Kind: ir.KindRoot}), ir.ErrCodeInvalidSubtree},
		{"duplicate siblings", ir.Branch("item:A", ir.Leaf("item:B"), ir.Leaf("item:B")), ir.ErrCodeDuplicatePath},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Layout(tt.sub, 1)
			require.Error(t, err)
			assert.Equal(t, tt.code, ir.RelationCode(err))
		})
	}
}

func TestPathPayloads(t *testing.T) {
	placed, err := Layout(ir.Branch("item:A", ir.Branch("item:B", ir.Leaf("item:C"))), 1)
	require.NoError(t, err)

	paths := PathPayloads(placed)
	assert.Empty(t, paths[0])
	assert.Equal(t, []ir.PayloadRef{"item:A"}, paths[1])
	assert.Equal(t, []ir.PayloadRef{"item:A", "item:B"}, paths[2])
}
