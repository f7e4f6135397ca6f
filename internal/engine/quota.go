package engine

import (
	"fmt"

	"github.com/isb2026/bomrel/internal/ir"
)

// DefaultMaxSubtreeNodes caps the number of nodes one insert may carry.
// Every insert shifts the rest of the tree once, so the cap bounds the
// size of a single transaction rather than the size of a tree.
const DefaultMaxSubtreeNodes = 10000

// checkQuota rejects a subtree larger than limit. A limit <= 0 disables
// the check.
func checkQuota(sub ir.NewSubtree, limit int) *ir.RelationError {
	if limit <= 0 {
		return nil
	}
	if size := sub.Size(); size > limit {
		return &ir.RelationError{
			Code:    ir.ErrCodeInvalidSubtree,
			Message: fmt.Sprintf("subtree has %d nodes, limit is %d", size, limit),
		}
	}
	return nil
}
