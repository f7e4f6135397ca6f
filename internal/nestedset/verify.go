package nestedset

import (
	"fmt"
	"sort"
	"strings"

	"github.com/isb2026/bomrel/internal/ir"
)

// Violation is one broken nested-set invariant.
type Violation struct {
	NodeID ir.NodeID `json:"node_id"`
	Rule   string    `json:"rule"`
	Detail string    `json:"detail"`
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: %s (%s)", v.NodeID, v.Rule, v.Detail)
}

// VerifyError aggregates every violation found in one tree.
type VerifyError struct {
	RootID     ir.NodeID
	Violations []Violation
}

func (e *VerifyError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = v.String()
	}
	return fmt.Sprintf("tree %s: %d nested-set violation(s): %s",
		e.RootID, len(e.Violations), strings.Join(parts, "; "))
}

// Verify checks every structural invariant over the live rows of one tree:
//   - exactly one parentless node, and its id equals the root id
//   - Left < Right for every node
//   - each child lies strictly inside its parent
//   - Right = Left + 1 + sum of child widths (contiguous, no gaps)
//   - no two nodes share a position (siblings are disjoint)
//   - LEAF nodes have Right = Left + 1
//   - the root spans [1, 2n]
//
// Detached rows are ignored. It returns nil when the tree is consistent.
func Verify(rootID ir.NodeID, nodes []ir.Node) error {
	var live []ir.Node
	for _, n := range nodes {
		if !n.Detached && n.RootID == rootID {
			live = append(live, n)
		}
	}
	sort.Slice(live, func(i, j int) bool { return live[i].Left < live[j].Left })

	var vs []Violation
	add := func(id ir.NodeID, rule, detail string, args ...any) {
		vs = append(vs, Violation{NodeID: id, Rule: rule, Detail: fmt.Sprintf(detail, args...)})
	}

	owner := make(map[int64]ir.NodeID, 2*len(live))
	claim := func(n ir.Node, pos int64) {
		if prev, dup := owner[pos]; dup {
			add(n.ID, "distinct_positions", "position %d also used by %s", pos, prev)
			return
		}
		owner[pos] = n.ID
	}

	byID := make(map[ir.NodeID]ir.Node, len(live))
	childWidth := make(map[ir.NodeID]int64, len(live))
	roots := 0
	for _, n := range live {
		byID[n.ID] = n
		claim(n, n.Left)
		claim(n, n.Right)
		if n.ParentID == nil {
			roots++
			if n.ID != rootID {
				add(n.ID, "root_identity", "parentless node is not the root %s", rootID)
			}
		}
		if n.Left >= n.Right {
			add(n.ID, "left_lt_right", "left=%d right=%d", n.Left, n.Right)
		}
		if n.Kind == ir.KindLeaf && n.Right != n.Left+1 {
			add(n.ID, "leaf_width", "leaf spans [%d,%d]", n.Left, n.Right)
		}
	}
	if len(live) == 0 {
		return &VerifyError{RootID: rootID, Violations: []Violation{{NodeID: rootID, Rule: "root_exists", Detail: "no live rows"}}}
	}
	if roots != 1 {
		add(rootID, "single_root", "%d parentless nodes", roots)
	}

	for _, n := range live {
		if n.ParentID == nil {
			continue
		}
		p, ok := byID[*n.ParentID]
		if !ok {
			add(n.ID, "parent_live", "parent %s is not a live node of the tree", *n.ParentID)
			continue
		}
		if !p.Range().Contains(n.Range()) {
			add(n.ID, "nested_in_parent", "[%d,%d] not inside parent [%d,%d]", n.Left, n.Right, p.Left, p.Right)
		}
		childWidth[p.ID] += n.Range().Size()
	}

	for _, n := range live {
		want := n.Left + 1 + childWidth[n.ID]
		if n.Right != want {
			add(n.ID, "contiguous", "right=%d, children imply %d", n.Right, want)
		}
	}

	if root, ok := byID[rootID]; ok {
		if root.Left != 1 || root.Right != 2*int64(len(live)) {
			add(rootID, "root_span", "root spans [%d,%d] for %d live nodes", root.Left, root.Right, len(live))
		}
	} else {
		add(rootID, "root_exists", "root row is missing or detached")
	}

	if len(vs) > 0 {
		return &VerifyError{RootID: rootID, Violations: vs}
	}
	return nil
}
