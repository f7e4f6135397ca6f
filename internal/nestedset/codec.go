package nestedset

import (
	"fmt"
	"sort"

	"github.com/isb2026/bomrel/internal/ir"
)

// ComputeInsertionRange returns the range a new subtree of subtreeSize nodes
// occupies when attached as the rightmost child of parent, together with
// the plan that makes room for it.
//
// The new subtree starts at the parent's current Right. Every live node of
// the tree whose Left or Right is at or beyond that position moves by
// 2*subtreeSize, which includes the parent and all of its ancestors.
func ComputeInsertionRange(parent ir.Node, subtreeSize int) (ir.Range, ir.ShiftPlan, error) {
	if subtreeSize < 1 {
		return ir.Range{}, ir.ShiftPlan{}, fmt.Errorf("subtree size must be positive, got %d", subtreeSize)
	}
	if parent.Detached {
		return ir.Range{}, ir.ShiftPlan{}, fmt.Errorf("parent %s is detached", parent.ID)
	}
	width := 2 * int64(subtreeSize)
	rng := ir.Range{Left: parent.Right, Right: parent.Right + width - 1}
	plan := ir.ShiftPlan{RootID: parent.RootID, From: parent.Right, Delta: width}
	return rng, plan, nil
}

// ComputeDetachRange returns the plan that closes the gap left by removing
// node and all of its descendants. Every live node whose Left or Right lies
// beyond node.Right moves left by the width of the removed range.
func ComputeDetachRange(node ir.Node) ir.ShiftPlan {
	return ir.ShiftPlan{
		RootID: node.RootID,
		From:   node.Right + 1,
		Delta:  -node.Range().Size(),
	}
}

// ShiftValue applies plan to one coordinate.
func ShiftValue(plan ir.ShiftPlan, v int64) int64 {
	if v >= plan.From {
		return v + plan.Delta
	}
	return v
}

// Apply returns n with plan applied to both coordinates. Nodes of other
// trees and detached nodes are returned unchanged.
func Apply(plan ir.ShiftPlan, n ir.Node) ir.Node {
	if n.RootID != plan.RootID || n.Detached {
		return n
	}
	n.Left = ShiftValue(plan, n.Left)
	n.Right = ShiftValue(plan, n.Right)
	return n
}

// Materialize expands plan into per-node deltas over the given rows.
// Rows the plan does not move are omitted. The result is ordered by the
// rows' Left so that it is deterministic.
func Materialize(plan ir.ShiftPlan, nodes []ir.Node) []ir.Shift {
	if plan.IsNoop() {
		return nil
	}
	sorted := make([]ir.Node, len(nodes))
	copy(sorted, nodes)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Left < sorted[j].Left })

	var shifts []ir.Shift
	for _, n := range sorted {
		if n.RootID != plan.RootID || n.Detached {
			continue
		}
		s := ir.Shift{NodeID: n.ID}
		if n.Left >= plan.From {
			s.LeftDelta = plan.Delta
		}
		if n.Right >= plan.From {
			s.RightDelta = plan.Delta
		}
		if s.LeftDelta != 0 || s.RightDelta != 0 {
			shifts = append(shifts, s)
		}
	}
	return shifts
}

// IsAncestor reports whether a is a proper ancestor of b.
func IsAncestor(a, b ir.Node) bool {
	return a.RootID == b.RootID && a.Range().Contains(b.Range())
}

// DescendantRange returns the bounds on Left that select a's subtree: a
// node N descends from a iff lo < N.Left < hi, and the closed interval
// [lo, hi] adds a itself. Range scans over the (root, left) index use it.
func DescendantRange(a ir.Node) (lo, hi int64) {
	return a.Left, a.Right
}

// Depths computes the depth of every node, with the shallowest node of the
// slice at depth 0. nodes must belong to one tree and be ordered by Left,
// as returned by a pre-order query. Depth is derived from ranges only.
func Depths(nodes []ir.Node) []int {
	depths := make([]int, len(nodes))
	var stack []int64 // Right values of the open ancestors
	for i, n := range nodes {
		for len(stack) > 0 && stack[len(stack)-1] < n.Left {
			stack = stack[:len(stack)-1]
		}
		depths[i] = len(stack)
		stack = append(stack, n.Right)
	}
	return depths
}

// Views pairs pre-ordered nodes with their depths.
func Views(nodes []ir.Node) []ir.NodeView {
	depths := Depths(nodes)
	views := make([]ir.NodeView, len(nodes))
	for i, n := range nodes {
		views[i] = ir.NodeView{Node: n, Depth: depths[i]}
	}
	return views
}
