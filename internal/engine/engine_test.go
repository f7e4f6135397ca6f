package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/isb2026/bomrel/internal/ir"
	"github.com/isb2026/bomrel/internal/metrics"
	"github.com/isb2026/bomrel/internal/store"
	"github.com/isb2026/bomrel/internal/store/kv"
	"github.com/isb2026/bomrel/internal/store/sqlite"
	"github.com/isb2026/bomrel/internal/store/storetest"
)

func openSQLite(t *testing.T) store.Backend {
	t.Helper()
	s, err := sqlite.Open(filepath.Join(t.TempDir(), "engine.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func openKV(t *testing.T) store.Backend {
	t.Helper()
	s, err := kv.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// forEachBackend runs fn once per storage backend.
func forEachBackend(t *testing.T, fn func(t *testing.T, b store.Backend)) {
	t.Run("sqlite", func(t *testing.T) { fn(t, openSQLite(t)) })
	t.Run("badger", func(t *testing.T) { fn(t, openKV(t)) })
}

// seeded returns an engine over b holding the sample tree
// R[1,10] { P[2,7] { L1[3,4], L2[5,6] }, S[8,9] }.
func seeded(t *testing.T, b store.Backend, opts ...Option) *Engine {
	t.Helper()
	storetest.SeedTree(t, b)
	opts = append([]Option{WithIDGenerator(NewSequenceGenerator("n"))}, opts...)
	return New(b, opts...)
}

func ranges(t *testing.T, e *Engine, rootID ir.NodeID) map[ir.NodeID]ir.Range {
	t.Helper()
	views, err := e.Tree(context.Background(), rootID)
	require.NoError(t, err)
	out := make(map[ir.NodeID]ir.Range, len(views))
	for _, v := range views {
		out[v.ID] = v.Range()
	}
	return out
}

func version(v int64) *int64 {
	return &v
}

func instance(id string) *ir.InstanceID {
	return ir.InstancePtr(ir.InstanceID(id))
}

func TestCreateTree(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b store.Backend) {
		ctx := context.Background()
		e := New(b, WithIDGenerator(NewSequenceGenerator("n")))

		receipt, err := e.CreateTree(ctx, ir.Branch("item:A",
			ir.Leaf("item:B"),
			ir.Branch("item:C", ir.Leaf("item:D")),
		))
		require.NoError(t, err)

		assert.Equal(t, ir.OpCreateTree, receipt.Op)
		assert.Equal(t, ir.NodeID("n1"), receipt.RootID)
		assert.Equal(t, ir.Range{Left: 1, Right: 8}, receipt.Range)
		assert.Equal(t, int64(1), receipt.StructVersion)
		assert.Equal(t, []ir.NodeID{"n1", "n2", "n3", "n4"}, receipt.Inserted)
		assert.Len(t, receipt.ID, 64)

		views, err := e.Tree(ctx, "n1")
		require.NoError(t, err)
		require.Len(t, views, 4)
		assert.Equal(t, ir.KindRoot, views[0].Kind)
		assert.Nil(t, views[0].ParentID)
		assert.Equal(t, ir.Range{Left: 4, Right: 7}, views[2].Range())
		assert.Equal(t, ir.KindBranch, views[2].Kind)
		assert.Equal(t, 2, views[3].Depth)
		assert.Equal(t, int64(2), views[2].Order)

		require.NoError(t, e.Verify(ctx, "n1"))

		roots, err := e.Roots(ctx)
		require.NoError(t, err)
		require.Len(t, roots, 1)
		assert.Equal(t, ir.RootDraft, roots[0].Status)
	})
}

func TestCreateTreeRejections(t *testing.T) {
	ctx := context.Background()
	e := seeded(t, openSQLite(t))

	_, err := e.CreateTree(ctx, ir.Branch("item:A", ir.Branch("item:B", ir.Leaf("item:A"))))
	assert.True(t, ir.IsCycleError(err))

	_, err = e.CreateTree(ctx, ir.NewSubtree{ID: "R", Payload: "item:again"})
	assert.Equal(t, ir.ErrCodeInvalidSubtree, ir.RelationCode(err), "id already in use")

	_, err = e.CreateTree(ctx, ir.NewSubtree{Payload: "item:A", Kind: ir.KindLeaf})
	assert.Equal(t, ir.ErrCodeInvalidSubtree, ir.RelationCode(err))

	_, err = e.CreateTree(ctx, ir.Branch("item:A", ir.Leaf("item:B"), ir.Leaf("item:B")))
	assert.True(t, ir.IsDuplicatePath(err))

	_, err = e.CreateTree(ctx, ir.NewSubtree{Payload: "item:A", Children: []ir.NewSubtree{
		{ID: "x", Payload: "item:B"}, {ID: "x", Payload: "item:C"},
	}})
	assert.Equal(t, ir.ErrCodeInvalidSubtree, ir.RelationCode(err), "id repeated inside the subtree")

	roots, err := e.Roots(ctx)
	require.NoError(t, err)
	assert.Len(t, roots, 1, "rejected creations leave nothing behind")
}

func TestCreateTreeTopKind(t *testing.T) {
	tests := []struct {
		name string
		sub  ir.NewSubtree
		code ir.RelationErrorCode
	}{
		{name: "branch", sub: ir.Branch("item:A", ir.Leaf("item:B"))},
		{name: "empty branch", sub: ir.NewSubtree{Payload: "item:A", Kind: ir.KindBranch}},
		{name: "no kind", sub: ir.NewSubtree{Payload: "item:A"}},
		{name: "root", sub: ir.NewSubtree{Payload: "item:A", Kind: ir.KindRoot, Children: []ir.NewSubtree{ir.Leaf("item:B")}}},
		{name: "leaf", sub: ir.Leaf("item:A"), code: ir.ErrCodeInvalidSubtree},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			e := New(openSQLite(t), WithIDGenerator(NewSequenceGenerator("n")))

			receipt, err := e.CreateTree(ctx, tt.sub)
			if tt.code != "" {
				assert.Equal(t, tt.code, ir.RelationCode(err))
				return
			}
			require.NoError(t, err)

			node, err := e.Node(ctx, receipt.RootID)
			require.NoError(t, err)
			assert.Equal(t, ir.KindRoot, node.Kind)
			assert.Nil(t, node.ParentID)
		})
	}
}

func TestScenarioA_InsertLeafShiftsAncestorsAndLaterSiblings(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b store.Backend) {
		ctx := context.Background()
		e := seeded(t, b)

		receipt, err := e.InsertSubtree(ctx, "P", ir.Leaf("item:NEW"))
		require.NoError(t, err)

		assert.Equal(t, ir.Range{Left: 7, Right: 8}, receipt.Range)
		assert.Equal(t, ir.ShiftPlan{RootID: "R", From: 7, Delta: 2}, receipt.Plan)
		assert.Equal(t, 3, receipt.ShiftedNodes, "R, P and S move")
		assert.Equal(t, int64(1), receipt.StructVersion)
		assert.Equal(t, []ir.NodeID{"n1"}, receipt.Inserted)

		got := ranges(t, e, "R")
		assert.Equal(t, map[ir.NodeID]ir.Range{
			"R":  {Left: 1, Right: 12},
			"P":  {Left: 2, Right: 9},
			"L1": {Left: 3, Right: 4},
			"L2": {Left: 5, Right: 6},
			"n1": {Left: 7, Right: 8},
			"S":  {Left: 10, Right: 11},
		}, got)

		n, err := e.Node(ctx, "n1")
		require.NoError(t, err)
		assert.Equal(t, ir.NodeID("P"), *n.ParentID)
		assert.Equal(t, int64(3), n.Order, "placed after the two existing children")
		require.NoError(t, e.Verify(ctx, "R"))
	})
}

func TestInsertMultiNodeSubtree(t *testing.T) {
	ctx := context.Background()
	e := seeded(t, openSQLite(t))

	receipt, err := e.InsertSubtree(ctx, "R", ir.Branch("item:X", ir.Leaf("item:Y"), ir.Leaf("item:Z")))
	require.NoError(t, err)
	assert.Equal(t, ir.Range{Left: 10, Right: 15}, receipt.Range)
	assert.Equal(t, 1, receipt.ShiftedNodes, "only R moves")

	got := ranges(t, e, "R")
	assert.Equal(t, ir.Range{Left: 1, Right: 16}, got["R"])
	assert.Equal(t, ir.Range{Left: 11, Right: 12}, got["n2"])
	assert.Equal(t, ir.Range{Left: 13, Right: 14}, got["n3"])
	require.NoError(t, e.Verify(ctx, "R"))

	views, err := e.DescendantsOf(ctx, "n1")
	require.NoError(t, err)
	require.Len(t, views, 3)
	assert.Equal(t, []int{1, 2, 2}, []int{views[0].Depth, views[1].Depth, views[2].Depth})
}

func TestScenarioB_CycleRejected(t *testing.T) {
	ctx := context.Background()
	e := seeded(t, openSQLite(t))

	d, err := e.CanAttach(ctx, ir.AttachRequest{ParentID: "P", Payload: "item:R"})
	require.NoError(t, err)
	require.False(t, d.Accept)
	assert.Equal(t, ir.ErrCodeCycleDetected, d.Reject.Code)
	assert.Equal(t, ir.NodeID("R"), d.Reject.ConflictID)

	_, err = e.InsertSubtree(ctx, "P", ir.Branch("item:X", ir.Leaf("item:R")))
	assert.True(t, ir.IsCycleError(err))

	roots, err := e.Roots(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), roots[0].StructVersion, "rejections do not touch the root")
}

func TestInsertRejections(t *testing.T) {
	tests := []struct {
		name   string
		root   ir.NodeID
		parent ir.NodeID
		sub    ir.NewSubtree
		opts   []Option
		code   ir.RelationErrorCode
	}{
		{name: "unknown parent", parent: "nope", sub: ir.Leaf("item:X"), code: ir.ErrCodeUnknownParent},
		{name: "leaf parent", parent: "L1", sub: ir.Leaf("item:X"), code: ir.ErrCodeInvalidSubtree},
		{name: "duplicate sibling", parent: "P", sub: ir.Leaf("item:L1"), code: ir.ErrCodeDuplicatePath},
		{name: "parent itself", parent: "P", sub: ir.Leaf("item:P"), code: ir.ErrCodeCycleDetected},
		{name: "wrong root", root: "OTHER", parent: "P", sub: ir.Leaf("item:X"), code: ir.ErrCodeUnknownRoot},
		{name: "root kind", parent: "P", sub: ir.NewSubtree{Payload: "item:X", Kind: ir.KindRoot}, code: ir.ErrCodeInvalidSubtree},
		{name: "empty payload", parent: "P", sub: ir.Leaf("  "), code: ir.ErrCodeInvalidSubtree},
		{name: "id in use", parent: "P", sub: ir.NewSubtree{ID: "S", Payload: "item:X"}, code: ir.ErrCodeInvalidSubtree},
		{
			name:   "quota",
			parent: "P",
			sub:    ir.Branch("item:X", ir.Leaf("item:Y")),
			opts:   []Option{WithMaxSubtreeNodes(1)},
			code:   ir.ErrCodeInvalidSubtree,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			e := seeded(t, openSQLite(t), tt.opts...)
			before := ranges(t, e, "R")

			_, err := e.InsertSubtreeInto(ctx, tt.root, tt.parent, tt.sub)
			require.Error(t, err)
			assert.Equal(t, tt.code, ir.RelationCode(err))

			var re *ir.RelationError
			require.True(t, errors.As(err, &re))
			assert.False(t, re.Retryable())
			assert.Equal(t, before, ranges(t, e, "R"))
		})
	}
}

func TestScenarioC_AlreadyAssignedElsewhere(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b store.Backend) {
		ctx := context.Background()
		e := seeded(t, b)

		_, err := e.Assign(ctx, "L1", "mold-A", nil)
		require.NoError(t, err)

		_, err = e.Assign(ctx, "L2", "mold-A", nil)
		require.True(t, ir.IsAlreadyAssignedElsewhere(err))
		var ae *ir.AssignmentError
		require.True(t, errors.As(err, &ae))
		assert.Equal(t, ir.NodeID("L1"), ae.HeldBy)

		got, err := e.AssignmentsForRoot(ctx, "R")
		require.NoError(t, err)
		assert.Equal(t, map[ir.NodeID]*ir.InstanceID{
			"L1": instance("mold-A"),
			"L2": nil,
			"S":  nil,
		}, got)
	})
}

func TestScenarioD_VersionConflict(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b store.Backend) {
		ctx := context.Background()
		e := seeded(t, b)

		rec, err := e.Assign(ctx, "L1", "mold-A", version(0))
		require.NoError(t, err)
		assert.Equal(t, int64(1), rec.Version)
		assert.Nil(t, rec.Previous)

		_, err = e.Assign(ctx, "L1", "mold-B", version(0))
		require.True(t, ir.IsVersionConflict(err))
		var ae *ir.AssignmentError
		require.True(t, errors.As(err, &ae))
		assert.Equal(t, int64(0), ae.Expected)
		assert.Equal(t, int64(1), ae.Actual)

		rec, err = e.Reassign(ctx, "L1", "mold-B", version(1))
		require.NoError(t, err)
		assert.Equal(t, int64(2), rec.Version)
		assert.Equal(t, instance("mold-A"), rec.Previous)
		assert.Equal(t, instance("mold-B"), rec.Current)
	})
}

func TestUnassignIsIdempotentButVersioned(t *testing.T) {
	ctx := context.Background()
	e := seeded(t, openSQLite(t))

	first, err := e.Unassign(ctx, "L1", nil)
	require.NoError(t, err)
	second, err := e.Unassign(ctx, "L1", nil)
	require.NoError(t, err)

	assert.Nil(t, first.Current)
	assert.Nil(t, second.Current)
	assert.Equal(t, int64(1), first.Version)
	assert.Equal(t, int64(2), second.Version)
}

func TestCommitAssignment(t *testing.T) {
	ctx := context.Background()
	e := seeded(t, openSQLite(t))

	rec, err := e.CommitAssignment(ctx, "S", instance("tool-1"), version(0))
	require.NoError(t, err)
	assert.Equal(t, instance("tool-1"), rec.Current)

	rec, err = e.CommitAssignment(ctx, "S", nil, version(1))
	require.NoError(t, err)
	assert.Nil(t, rec.Current)
	assert.Equal(t, instance("tool-1"), rec.Previous)

	_, err = e.CommitAssignment(ctx, "P", instance("tool-1"), nil)
	assert.Equal(t, ir.ErrCodeNotALeaf, ir.AssignmentCode(err))

	_, err = e.CommitAssignment(ctx, "ghost", instance("tool-1"), nil)
	assert.Equal(t, ir.ErrCodeUnknownLeaf, ir.AssignmentCode(err))
}

func TestScenarioE_DetachCascadesUnassign(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b store.Backend) {
		ctx := context.Background()
		e := seeded(t, b)

		other, err := e.CreateTree(ctx, ir.Branch("item:other", ir.Leaf("item:o1")))
		require.NoError(t, err)
		otherBefore := ranges(t, e, other.RootID)

		_, err = e.Assign(ctx, "L1", "mold-A", nil)
		require.NoError(t, err)

		receipt, err := e.DetachSubtree(ctx, "P")
		require.NoError(t, err)
		assert.Equal(t, ir.Range{Left: 2, Right: 7}, receipt.Range)
		assert.Equal(t, ir.ShiftPlan{RootID: "R", From: 8, Delta: -6}, receipt.Plan)
		assert.Equal(t, 2, receipt.ShiftedNodes, "R and S move")
		require.Len(t, receipt.Unassigned, 1)
		assert.Equal(t, ir.NodeID("L1"), receipt.Unassigned[0].LeafID)
		assert.Equal(t, int64(2), receipt.Unassigned[0].Version)
		assert.Equal(t, instance("mold-A"), receipt.Unassigned[0].Previous)

		assert.Equal(t, map[ir.NodeID]ir.Range{
			"R": {Left: 1, Right: 4},
			"S": {Left: 2, Right: 3},
		}, ranges(t, e, "R"))
		assert.Equal(t, otherBefore, ranges(t, e, other.RootID))

		got, err := e.AssignmentsForRoot(ctx, "R")
		require.NoError(t, err)
		assert.Equal(t, map[ir.NodeID]*ir.InstanceID{"S": nil}, got)

		tomb, err := e.Node(ctx, "L1")
		require.NoError(t, err)
		assert.True(t, tomb.Detached)
		assert.Equal(t, ir.Range{Left: 3, Right: 4}, tomb.Range(), "tombstones keep their range")

		// The instance is free again.
		_, err = e.Assign(ctx, "S", "mold-A", nil)
		require.NoError(t, err)
		require.NoError(t, e.Verify(ctx, "R"))
	})
}

func TestInsertThenDetachRoundTrip(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b store.Backend) {
		ctx := context.Background()
		e := seeded(t, b)
		before := ranges(t, e, "R")

		ins, err := e.InsertSubtree(ctx, "P", ir.Branch("item:X", ir.Leaf("item:Y")))
		require.NoError(t, err)
		_, err = e.DetachSubtree(ctx, ins.NodeID)
		require.NoError(t, err)

		assert.Equal(t, before, ranges(t, e, "R"))
	})
}

func TestDetachRejections(t *testing.T) {
	ctx := context.Background()
	e := seeded(t, openSQLite(t))

	_, err := e.DetachSubtree(ctx, "ghost")
	assert.Equal(t, ir.ErrCodeUnknownNode, ir.RelationCode(err))

	_, err = e.DetachSubtree(ctx, "L2")
	require.NoError(t, err)
	_, err = e.DetachSubtree(ctx, "L2")
	assert.Equal(t, ir.ErrCodeUnknownNode, ir.RelationCode(err), "already detached")

	_, err = e.DescendantsOf(ctx, "L2")
	assert.Equal(t, ir.ErrCodeUnknownNode, ir.RelationCode(err))
}

func TestDetachRoot(t *testing.T) {
	ctx := context.Background()
	e := seeded(t, openSQLite(t))

	receipt, err := e.DetachSubtree(ctx, "R")
	require.NoError(t, err)
	assert.True(t, receipt.Plan.IsNoop())

	roots, err := e.Roots(ctx)
	require.NoError(t, err)
	assert.Equal(t, ir.RootDetached, roots[0].Status)

	views, err := e.Tree(ctx, "R")
	require.NoError(t, err)
	assert.Empty(t, views)

	_, err = e.FinalizeRoot(ctx, "R")
	assert.Equal(t, ir.ErrCodeUnknownRoot, ir.RelationCode(err))
}

func TestFinalizeRoot(t *testing.T) {
	ctx := context.Background()
	e := seeded(t, openSQLite(t))

	receipt, err := e.FinalizeRoot(ctx, "R")
	require.NoError(t, err)
	assert.Equal(t, ir.OpFinalize, receipt.Op)
	assert.Equal(t, int64(1), receipt.StructVersion)

	_, err = e.InsertSubtree(ctx, "P", ir.Leaf("item:X"))
	assert.Equal(t, ir.ErrCodeRootFinalized, ir.RelationCode(err))
	_, err = e.DetachSubtree(ctx, "S")
	assert.Equal(t, ir.ErrCodeRootFinalized, ir.RelationCode(err))
	_, err = e.FinalizeRoot(ctx, "R")
	assert.Equal(t, ir.ErrCodeRootFinalized, ir.RelationCode(err))

	_, err = e.Assign(ctx, "S", "tool-1", nil)
	assert.NoError(t, err, "finalized trees still take assignments")

	_, err = e.FinalizeRoot(ctx, "ghost")
	assert.Equal(t, ir.ErrCodeUnknownRoot, ir.RelationCode(err))
}

func TestAncestorsOf(t *testing.T) {
	ctx := context.Background()
	e := seeded(t, openSQLite(t))

	views, err := e.AncestorsOf(ctx, "L2")
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, ir.NodeID("R"), views[0].ID)
	assert.Equal(t, ir.NodeID("P"), views[1].ID)
	assert.Equal(t, 1, views[1].Depth)

	views, err = e.AncestorsOf(ctx, "R")
	require.NoError(t, err)
	assert.Empty(t, views)
}

func TestSlotsAndUnknownRoot(t *testing.T) {
	ctx := context.Background()
	e := seeded(t, openSQLite(t))

	_, err := e.Assign(ctx, "L2", "mold-A", nil)
	require.NoError(t, err)

	slots, err := e.Slots(ctx, "R")
	require.NoError(t, err)
	require.Len(t, slots, 3)
	assert.Equal(t, ir.NodeID("L2"), slots[1].LeafID)
	assert.Equal(t, int64(1), slots[1].Version)

	_, err = e.Slots(ctx, "ghost")
	assert.Equal(t, ir.ErrCodeUnknownRoot, ir.RelationCode(err))
	_, err = e.AssignmentsForRoot(ctx, "ghost")
	assert.Equal(t, ir.ErrCodeUnknownRoot, ir.RelationCode(err))
	assert.Equal(t, ir.ErrCodeUnknownRoot, ir.RelationCode(e.Verify(ctx, "ghost")))
}

// faultyBackend wraps a backend and fails one writer call after the
// preceding writes of the transaction already went through.
type faultyBackend struct {
	store.Backend
	err error
}

func (f *faultyBackend) Update(ctx context.Context, fn func(w store.Writer) error) error {
	return f.Backend.Update(ctx, func(w store.Writer) error {
		return fn(&faultyWriter{Writer: w, err: f.err})
	})
}

type faultyWriter struct {
	store.Writer
	err error
}

func (w *faultyWriter) BumpRoot(ctx context.Context, rootID ir.NodeID, expected int64, status ir.RootStatus) (ir.Root, error) {
	return ir.Root{}, w.err
}

func TestAbortLeavesStoreUnchanged(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b store.Backend) {
		ctx := context.Background()
		good := seeded(t, b)
		_, err := good.Assign(ctx, "L1", "mold-A", nil)
		require.NoError(t, err)
		before := ranges(t, good, "R")

		for _, cause := range []error{errors.New("disk full"), store.ErrConflict} {
			bad := New(&faultyBackend{Backend: b, err: cause})

			_, err = bad.InsertSubtree(ctx, "P", ir.Branch("item:X", ir.Leaf("item:Y")))
			require.True(t, ir.IsStorageAborted(err), "insert: %v", err)
			var re *ir.RelationError
			require.True(t, errors.As(err, &re))
			assert.True(t, re.Retryable())
			assert.ErrorIs(t, err, cause)

			_, err = bad.DetachSubtree(ctx, "P")
			require.True(t, ir.IsStorageAborted(err), "detach: %v", err)
		}

		assert.Equal(t, before, ranges(t, good, "R"))
		got, err := good.AssignmentsForRoot(ctx, "R")
		require.NoError(t, err)
		assert.Equal(t, instance("mold-A"), got["L1"], "cascade unassign rolled back")
	})
}

func TestConcurrentInsertsKeepInvariants(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b store.Backend) {
		ctx := context.Background()
		e := seeded(t, b)
		const workers = 16

		var g errgroup.Group
		for i := 0; i < workers; i++ {
			parent := ir.NodeID("P")
			if i%2 == 1 {
				parent = "R"
			}
			payload := fmt.Sprintf("item:c%d", i)
			g.Go(func() error {
				_, err := e.InsertSubtree(ctx, parent, ir.Leaf(payload))
				return err
			})
		}
		require.NoError(t, g.Wait())

		require.NoError(t, e.Verify(ctx, "R"))
		assert.Len(t, ranges(t, e, "R"), 5+workers)
		roots, err := e.Roots(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(workers), roots[0].StructVersion)
		assert.Zero(t, e.locks.held())
	})
}

func TestConcurrentAssignIsExclusive(t *testing.T) {
	ctx := context.Background()
	e := New(openSQLite(t), WithIDGenerator(NewSequenceGenerator("n")))

	leaves := make([]ir.NewSubtree, 8)
	for i := range leaves {
		leaves[i] = ir.Leaf(fmt.Sprintf("slot:%d", i))
	}
	tree, err := e.CreateTree(ctx, ir.Branch("mold-bom:1", leaves...))
	require.NoError(t, err)

	var g errgroup.Group
	results := make([]error, len(leaves))
	for i, leafID := range tree.Inserted[1:] {
		g.Go(func() error {
			_, results[i] = e.Assign(ctx, leafID, "mold-A", nil)
			return nil
		})
	}
	require.NoError(t, g.Wait())

	won := 0
	for _, err := range results {
		if err == nil {
			won++
			continue
		}
		assert.True(t, ir.IsAlreadyAssignedElsewhere(err), "unexpected error: %v", err)
	}
	assert.Equal(t, 1, won)

	got, err := e.AssignmentsForRoot(ctx, tree.RootID)
	require.NoError(t, err)
	held := 0
	for _, inst := range got {
		if inst != nil {
			held++
		}
	}
	assert.Equal(t, 1, held)
}

func TestRandomSequenceKeepsInvariants(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b store.Backend) {
		ctx := context.Background()
		e := seeded(t, b)
		rng := rand.New(rand.NewSource(7))

		for step := 0; step < 60; step++ {
			views, err := e.Tree(ctx, "R")
			require.NoError(t, err)

			var branches, detachable []ir.NodeID
			for _, v := range views {
				if v.Kind != ir.KindLeaf {
					branches = append(branches, v.ID)
				}
				if !v.IsRoot() {
					detachable = append(detachable, v.ID)
				}
			}

			if len(detachable) > 0 && rng.Intn(3) == 0 {
				_, err = e.DetachSubtree(ctx, detachable[rng.Intn(len(detachable))])
			} else {
				sub := ir.Leaf(fmt.Sprintf("item:r%d", step))
				if rng.Intn(2) == 0 {
					sub = ir.Branch(fmt.Sprintf("item:r%d", step), ir.Leaf(fmt.Sprintf("item:r%d-leaf", step)))
				}
				_, err = e.InsertSubtree(ctx, branches[rng.Intn(len(branches))], sub)
			}
			require.NoError(t, err, "step %d", step)
			require.NoError(t, e.Verify(ctx, "R"), "step %d", step)
		}
	})
}

func TestMetricsRecorded(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	e := seeded(t, openSQLite(t), WithMetrics(m))

	_, err := e.InsertSubtree(ctx, "P", ir.Leaf("item:X"))
	require.NoError(t, err)
	_, err = e.InsertSubtree(ctx, "P", ir.Leaf("item:X"))
	require.Error(t, err)
	_, err = e.Assign(ctx, "L1", "mold-A", nil)
	require.NoError(t, err)
	_, err = e.CanAttach(ctx, ir.AttachRequest{ParentID: "P", Payload: "item:R"})
	require.NoError(t, err)

	op := string(ir.OpInsert)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.MutationsTotal.WithLabelValues(op, metrics.OutcomeCommitted)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.MutationsTotal.WithLabelValues(op, metrics.OutcomeRejected)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RejectionsTotal.WithLabelValues(string(ir.ErrCodeDuplicatePath))))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.AssignmentsTotal.WithLabelValues(opAssign, metrics.OutcomeCommitted)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ChecksTotal.WithLabelValues("reject")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.ShiftedNodes))
}
