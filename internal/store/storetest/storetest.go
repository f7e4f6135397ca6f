// Package storetest is the conformance suite every store.Backend must pass.
package storetest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isb2026/bomrel/internal/ir"
	"github.com/isb2026/bomrel/internal/store"
)

// Opener returns a fresh, empty backend. The suite closes it.
type Opener func(t *testing.T) store.Backend

// Run executes the conformance suite against backends produced by open.
func Run(t *testing.T, open Opener) {
	tests := []struct {
		name string
		fn   func(t *testing.T, b store.Backend)
	}{
		{"GetNodeNotFound", testGetNodeNotFound},
		{"TreeQueriesOrderedByLeft", testTreeQueries},
		{"ApplyShiftMovesLiveRowsOnly", testApplyShift},
		{"MarkDetachedHidesRows", testMarkDetached},
		{"BumpRootConditional", testBumpRoot},
		{"CreateRootTwice", testCreateRootTwice},
		{"PutAssignmentCompareAndSet", testPutAssignmentCAS},
		{"PutAssignmentUniqueInstance", testPutAssignmentUnique},
		{"UpdateRollsBackOnError", testRollback},
		{"ListRoots", testListRoots},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := open(t)
			t.Cleanup(func() { b.Close() })
			tt.fn(t, b)
		})
	}
}

// SeedTree writes R[1,10] with P[2,7] holding L1[3,4] and L2[5,6], and
// S[8,9], all under root "R".
func SeedTree(t *testing.T, b store.Backend) []ir.Node {
	t.Helper()
	nodes := []ir.Node{
		{ID: "R", RootID: "R", Left: 1, Right: 10, Kind: ir.KindRoot, Payload: "item:R"},
		{ID: "P", RootID: "R", ParentID: ir.NodeIDPtr("R"), Left: 2, Right: 7, Kind: ir.KindBranch, Payload: "item:P", Order: 1},
		{ID: "L1", RootID: "R", ParentID: ir.NodeIDPtr("P"), Left: 3, Right: 4, Kind: ir.KindLeaf, Payload: "item:L1", Order: 1},
		{ID: "L2", RootID: "R", ParentID: ir.NodeIDPtr("P"), Left: 5, Right: 6, Kind: ir.KindLeaf, Payload: "item:L2", Order: 2},
		{ID: "S", RootID: "R", ParentID: ir.NodeIDPtr("R"), Left: 8, Right: 9, Kind: ir.KindLeaf, Payload: "item:S", Order: 2},
	}
	err := b.Update(context.Background(), func(w store.Writer) error {
		if err := w.CreateRoot(context.Background(), ir.Root{ID: "R"}); err != nil {
			return err
		}
		return w.InsertNodes(context.Background(), nodes)
	})
	require.NoError(t, err)
	return nodes
}

func ids(nodes []ir.Node) []ir.NodeID {
	out := make([]ir.NodeID, len(nodes))
	for i, n := range nodes {
		out[i] = n.ID
	}
	return out
}

func view(t *testing.T, b store.Backend, fn func(r store.Reader)) {
	t.Helper()
	require.NoError(t, b.View(context.Background(), func(r store.Reader) error {
		fn(r)
		return nil
	}))
}

func testGetNodeNotFound(t *testing.T, b store.Backend) {
	ctx := context.Background()
	view(t, b, func(r store.Reader) {
		_, err := r.GetNode(ctx, "missing")
		assert.ErrorIs(t, err, store.ErrNotFound)
		_, err = r.GetRoot(ctx, "missing")
		assert.ErrorIs(t, err, store.ErrNotFound)
		_, err = r.GetAssignment(ctx, "missing")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}

func testTreeQueries(t *testing.T, b store.Backend) {
	ctx := context.Background()
	SeedTree(t, b)

	view(t, b, func(r store.Reader) {
		all, err := r.TreeNodes(ctx, "R")
		require.NoError(t, err)
		assert.Equal(t, []ir.NodeID{"R", "P", "L1", "L2", "S"}, ids(all))

		sub, err := r.Subtree(ctx, "R", 2, 7)
		require.NoError(t, err)
		assert.Equal(t, []ir.NodeID{"P", "L1", "L2"}, ids(sub))

		anc, err := r.Ancestors(ctx, "R", 5, 6)
		require.NoError(t, err)
		assert.Equal(t, []ir.NodeID{"R", "P"}, ids(anc))

		kids, err := r.Children(ctx, "R")
		require.NoError(t, err)
		assert.Equal(t, []ir.NodeID{"P", "S"}, ids(kids))

		n, err := r.GetNode(ctx, "L2")
		require.NoError(t, err)
		require.NotNil(t, n.ParentID)
		assert.Equal(t, ir.NodeID("P"), *n.ParentID)
		assert.Equal(t, ir.PayloadRef("item:L2"), n.Payload)
		assert.Equal(t, int64(2), n.Order)

		root, err := r.GetNode(ctx, "R")
		require.NoError(t, err)
		assert.Nil(t, root.ParentID)
	})
}

func testApplyShift(t *testing.T, b store.Backend) {
	ctx := context.Background()
	SeedTree(t, b)

	var moved int
	err := b.Update(ctx, func(w store.Writer) error {
		if _, err := w.MarkDetached(ctx, "R", 3, 4); err != nil {
			return err
		}
		var err error
		moved, err = w.ApplyShift(ctx, ir.ShiftPlan{RootID: "R", From: 7, Delta: 2})
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 3, moved, "R, P and S move")

	view(t, b, func(r store.Reader) {
		want := map[ir.NodeID]ir.Range{
			"R":  {Left: 1, Right: 12},
			"P":  {Left: 2, Right: 9},
			"L1": {Left: 3, Right: 4},
			"L2": {Left: 5, Right: 6},
			"S":  {Left: 10, Right: 11},
		}
		for id, rng := range want {
			n, err := r.GetNode(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, rng, n.Range(), "node %s", id)
		}
	})

	err = b.Update(ctx, func(w store.Writer) error {
		var err error
		moved, err = w.ApplyShift(ctx, ir.ShiftPlan{RootID: "R", From: 9, Delta: -2})
		return err
	})
	require.NoError(t, err)
	view(t, b, func(r store.Reader) {
		s, err := r.GetNode(ctx, "S")
		require.NoError(t, err)
		assert.Equal(t, ir.Range{Left: 8, Right: 9}, s.Range())
	})
}

func testMarkDetached(t *testing.T, b store.Backend) {
	ctx := context.Background()
	SeedTree(t, b)

	var marked int
	require.NoError(t, b.Update(ctx, func(w store.Writer) error {
		var err error
		marked, err = w.MarkDetached(ctx, "R", 2, 7)
		return err
	}))
	assert.Equal(t, 3, marked)

	view(t, b, func(r store.Reader) {
		all, err := r.TreeNodes(ctx, "R")
		require.NoError(t, err)
		assert.Equal(t, []ir.NodeID{"R", "S"}, ids(all))

		kids, err := r.Children(ctx, "P")
		require.NoError(t, err)
		assert.Empty(t, kids)

		p, err := r.GetNode(ctx, "P")
		require.NoError(t, err, "tombstones stay readable by id")
		assert.True(t, p.Detached)
		assert.Equal(t, ir.Range{Left: 2, Right: 7}, p.Range())
	})
}

func testBumpRoot(t *testing.T, b store.Backend) {
	ctx := context.Background()
	SeedTree(t, b)

	require.NoError(t, b.Update(ctx, func(w store.Writer) error {
		r, err := w.BumpRoot(ctx, "R", 0, ir.RootDraft)
		if err != nil {
			return err
		}
		assert.Equal(t, int64(1), r.StructVersion)
		return nil
	}))

	err := b.Update(ctx, func(w store.Writer) error {
		_, err := w.BumpRoot(ctx, "R", 0, ir.RootFinalized)
		return err
	})
	assert.ErrorIs(t, err, store.ErrConflict)

	view(t, b, func(r store.Reader) {
		root, err := r.GetRoot(ctx, "R")
		require.NoError(t, err)
		assert.Equal(t, ir.Root{ID: "R", Status: ir.RootDraft, StructVersion: 1}, root)
	})
}

func testCreateRootTwice(t *testing.T, b store.Backend) {
	ctx := context.Background()
	SeedTree(t, b)

	err := b.Update(ctx, func(w store.Writer) error {
		return w.CreateRoot(ctx, ir.Root{ID: "R"})
	})
	assert.Error(t, err)
}

func testPutAssignmentCAS(t *testing.T, b store.Backend) {
	ctx := context.Background()
	SeedTree(t, b)
	m1 := ir.InstanceID("mold-1")

	require.NoError(t, b.Update(ctx, func(w store.Writer) error {
		return w.PutAssignment(ctx, ir.Assignment{LeafID: "L1", RootID: "R", InstanceID: &m1, Version: 1}, 0)
	}))

	err := b.Update(ctx, func(w store.Writer) error {
		return w.PutAssignment(ctx, ir.Assignment{LeafID: "L1", RootID: "R", Version: 1}, 0)
	})
	assert.ErrorIs(t, err, store.ErrConflict, "row already exists")

	err = b.Update(ctx, func(w store.Writer) error {
		return w.PutAssignment(ctx, ir.Assignment{LeafID: "L1", RootID: "R", Version: 3}, 2)
	})
	assert.ErrorIs(t, err, store.ErrConflict, "stale version")

	require.NoError(t, b.Update(ctx, func(w store.Writer) error {
		return w.PutAssignment(ctx, ir.Assignment{LeafID: "L1", RootID: "R", Version: 2}, 1)
	}))

	view(t, b, func(r store.Reader) {
		a, err := r.GetAssignment(ctx, "L1")
		require.NoError(t, err)
		assert.Nil(t, a.InstanceID)
		assert.Equal(t, int64(2), a.Version)

		_, err = r.AssignmentByInstance(ctx, "R", m1)
		assert.ErrorIs(t, err, store.ErrNotFound, "unassign releases the instance")

		all, err := r.AssignmentsForRoot(ctx, "R")
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.Equal(t, ir.NodeID("L1"), all[0].LeafID)
	})
}

func testPutAssignmentUnique(t *testing.T, b store.Backend) {
	ctx := context.Background()
	SeedTree(t, b)
	m1 := ir.InstanceID("mold-1")

	require.NoError(t, b.Update(ctx, func(w store.Writer) error {
		return w.PutAssignment(ctx, ir.Assignment{LeafID: "L1", RootID: "R", InstanceID: &m1, Version: 1}, 0)
	}))

	err := b.Update(ctx, func(w store.Writer) error {
		return w.PutAssignment(ctx, ir.Assignment{LeafID: "L2", RootID: "R", InstanceID: &m1, Version: 1}, 0)
	})
	assert.ErrorIs(t, err, store.ErrUniqueViolation)

	view(t, b, func(r store.Reader) {
		a, err := r.AssignmentByInstance(ctx, "R", m1)
		require.NoError(t, err)
		assert.Equal(t, ir.NodeID("L1"), a.LeafID)

		_, err = r.GetAssignment(ctx, "L2")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}

func testRollback(t *testing.T, b store.Backend) {
	ctx := context.Background()
	SeedTree(t, b)
	boom := errors.New("boom")

	err := b.Update(ctx, func(w store.Writer) error {
		if _, err := w.ApplyShift(ctx, ir.ShiftPlan{RootID: "R", From: 7, Delta: 2}); err != nil {
			return err
		}
		if _, err := w.BumpRoot(ctx, "R", 0, ir.RootDraft); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	view(t, b, func(r store.Reader) {
		p, err := r.GetNode(ctx, "P")
		require.NoError(t, err)
		assert.Equal(t, ir.Range{Left: 2, Right: 7}, p.Range(), "no partial shift")

		root, err := r.GetRoot(ctx, "R")
		require.NoError(t, err)
		assert.Equal(t, int64(0), root.StructVersion)
	})
}

func testListRoots(t *testing.T, b store.Backend) {
	ctx := context.Background()
	SeedTree(t, b)
	require.NoError(t, b.Update(ctx, func(w store.Writer) error {
		if err := w.CreateRoot(ctx, ir.Root{ID: "A"}); err != nil {
			return err
		}
		return w.InsertNodes(ctx, []ir.Node{{ID: "A", RootID: "A", Left: 1, Right: 2, Kind: ir.KindRoot, Payload: "item:A"}})
	}))

	view(t, b, func(r store.Reader) {
		roots, err := r.ListRoots(ctx)
		require.NoError(t, err)
		require.Len(t, roots, 2)
		assert.Equal(t, ir.NodeID("A"), roots[0].ID)
		assert.Equal(t, ir.NodeID("R"), roots[1].ID)
		assert.Equal(t, ir.RootDraft, roots[0].Status)
	})
}
