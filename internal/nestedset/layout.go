package nestedset

import (
	"fmt"

	"github.com/isb2026/bomrel/internal/ir"
)

// Placed is one node of a laid-out subtree.
type Placed struct {
	// Index is the node's pre-order position inside the subtree.
	Index int

	// ParentIndex is the pre-order position of the parent inside the
	// subtree, or -1 for the subtree's top node.
	ParentIndex int

	Left    int64
	Right   int64
	Depth   int
	Spec    ir.NewSubtree
	Kind    ir.NodeKind
	Payload ir.PayloadRef
}

// Layout assigns pre-order ranges to a fresh subtree whose top node starts
// at start. Payload refs are normalized, kinds defaulted, and structural
// mistakes inside the subtree (empty payload, LEAF with children, ROOT
// below the top, two siblings with the same payload) are reported as
// INVALID_SUBTREE or DUPLICATE_PATH.
//
// The result is in pre-order, so result[0] is the top node and
// result[0].Right == start + 2*len(result) - 1.
func Layout(sub ir.NewSubtree, start int64) ([]Placed, error) {
	out := make([]Placed, 0, sub.Size())
	next := start
	if err := layout(sub, -1, 0, &next, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func layout(sub ir.NewSubtree, parent, depth int, next *int64, out *[]Placed) error {
	payload, err := ir.NormalizePayload(sub.Payload)
	if err != nil {
		return invalidSubtree(fmt.Sprintf("node %d: %v", len(*out), err))
	}

	kind := sub.Kind
	switch {
	case kind == "" && len(sub.Children) > 0:
		kind = ir.KindBranch
	case kind == "":
		kind = ir.KindLeaf
	case !ir.ValidKinds[kind]:
		return invalidSubtree(fmt.Sprintf("payload %s: unknown kind %q", payload, kind))
	}
	if kind == ir.KindLeaf && len(sub.Children) > 0 {
		return invalidSubtree(fmt.Sprintf("payload %s: LEAF cannot have children", payload))
	}
	if kind == ir.KindRoot && parent != -1 {
		return invalidSubtree(fmt.Sprintf("payload %s: ROOT only allowed at the top", payload))
	}

	idx := len(*out)
	*out = append(*out, Placed{
		Index:       idx,
		ParentIndex: parent,
		Left:        *next,
		Depth:       depth,
		Spec:        sub,
		Kind:        kind,
		Payload:     payload,
	})
	*next++

	seen := make(map[ir.PayloadRef]bool, len(sub.Children))
	for _, child := range sub.Children {
		childIdx := len(*out)
		if err := layout(child, idx, depth+1, next, out); err != nil {
			return err
		}
		p := (*out)[childIdx].Payload
		if seen[p] {
			return &ir.RelationError{
				Code:    ir.ErrCodeDuplicatePath,
				Message: "two children of the same node carry the same payload",
				Payload: p,
			}
		}
		seen[p] = true
	}

	(*out)[idx].Right = *next
	*next++
	return nil
}

func invalidSubtree(msg string) *ir.RelationError {
	return &ir.RelationError{Code: ir.ErrCodeInvalidSubtree, Message: msg}
}

// PathPayloads returns, for each placed node, the payloads of its ancestors
// inside the subtree (top first). Used to detect a payload repeating on its
// own path within an inserted subtree.
func PathPayloads(placed []Placed) [][]ir.PayloadRef {
	paths := make([][]ir.PayloadRef, len(placed))
	for i, p := range placed {
		if p.ParentIndex < 0 {
			continue
		}
		parentPath := paths[p.ParentIndex]
		path := make([]ir.PayloadRef, len(parentPath)+1)
		copy(path, parentPath)
		path[len(parentPath)] = placed[p.ParentIndex].Payload
		paths[i] = path
	}
	return paths
}
