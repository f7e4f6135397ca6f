package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/isb2026/bomrel/internal/ir"
	"github.com/isb2026/bomrel/internal/nestedset"
	"github.com/isb2026/bomrel/internal/store"
)

// DetachSubtree removes nodeID and its descendants from the live tree.
//
// Assignments of the detached leaves are cleared first, then the rows are
// tombstoned with their current ranges, then the live ranges to the right
// close the gap. Detaching a root retires the whole tree.
func (e *Engine) DetachSubtree(ctx context.Context, nodeID ir.NodeID) (ir.MutationReceipt, error) {
	req := e.begin(string(ir.OpDetach), true, func(c zerolog.Context) zerolog.Context {
		return c.Str("node", string(nodeID))
	})
	req.to(StateValidating)

	rootID, err := e.rootOf(ctx, nodeID)
	if err != nil {
		return ir.MutationReceipt{}, req.finish(err)
	}
	req.rootID = rootID
	if rootID != "" {
		release, err := e.locks.acquire(ctx, rootID)
		if err != nil {
			return ir.MutationReceipt{}, req.finish(err)
		}
		defer release()
	}

	var receipt ir.MutationReceipt
	err = e.backend.Update(ctx, func(w store.Writer) error {
		node, err := loadLiveNode(ctx, w, nodeID)
		if err != nil {
			return err
		}
		root, err := loadEditableRoot(ctx, w, node.RootID)
		if err != nil {
			return err
		}
		lo, hi := nestedset.DescendantRange(node)
		members, err := w.Subtree(ctx, node.RootID, lo, hi)
		if err != nil {
			return fmt.Errorf("load subtree of %s: %w", nodeID, err)
		}

		req.to(StateCommitting)
		unassigned, err := e.tracker.UnassignLeaves(ctx, w, members)
		if err != nil {
			return err
		}
		if _, err := w.MarkDetached(ctx, node.RootID, lo, hi); err != nil {
			return fmt.Errorf("mark detached: %w", err)
		}

		plan := ir.ShiftPlan{RootID: node.RootID}
		status := root.Status
		shifted := 0
		if node.IsRoot() {
			status = ir.RootDetached
		} else {
			plan = nestedset.ComputeDetachRange(node)
			if shifted, err = w.ApplyShift(ctx, plan); err != nil {
				return fmt.Errorf("apply shift: %w", err)
			}
		}
		bumped, err := w.BumpRoot(ctx, root.ID, root.StructVersion, status)
		if err != nil {
			return fmt.Errorf("bump root %s: %w", root.ID, err)
		}

		receipt = ir.MutationReceipt{
			Op:            ir.OpDetach,
			RootID:        root.ID,
			NodeID:        node.ID,
			Range:         node.Range(),
			Plan:          plan,
			ShiftedNodes:  shifted,
			StructVersion: bumped.StructVersion,
			Unassigned:    unassigned,
		}
		receipt.ID, err = ir.MutationID(receipt)
		return err
	})
	if err := req.finish(err); err != nil {
		return ir.MutationReceipt{}, err
	}

	e.metrics.ShiftedNodes.Observe(float64(receipt.ShiftedNodes))
	req.log.Info().
		Str("root", string(receipt.RootID)).
		Int64("left", receipt.Range.Left).
		Int64("right", receipt.Range.Right).
		Int("shifted", receipt.ShiftedNodes).
		Int("unassigned", len(receipt.Unassigned)).
		Msg("subtree detached")
	return receipt, nil
}

// FinalizeRoot freezes the structure of rootID. Assignments stay writable.
func (e *Engine) FinalizeRoot(ctx context.Context, rootID ir.NodeID) (ir.MutationReceipt, error) {
	req := e.begin(string(ir.OpFinalize), true, func(c zerolog.Context) zerolog.Context {
		return c.Str("root", string(rootID))
	})
	req.rootID = rootID
	req.to(StateValidating)

	release, err := e.locks.acquire(ctx, rootID)
	if err != nil {
		return ir.MutationReceipt{}, req.finish(err)
	}
	defer release()

	var receipt ir.MutationReceipt
	err = e.backend.Update(ctx, func(w store.Writer) error {
		root, err := loadEditableRoot(ctx, w, rootID)
		if err != nil {
			return err
		}
		node, err := w.GetNode(ctx, rootID)
		if err != nil {
			return fmt.Errorf("load root node %s: %w", rootID, err)
		}

		req.to(StateCommitting)
		bumped, err := w.BumpRoot(ctx, rootID, root.StructVersion, ir.RootFinalized)
		if err != nil {
			return fmt.Errorf("bump root %s: %w", rootID, err)
		}
		receipt = ir.MutationReceipt{
			Op:            ir.OpFinalize,
			RootID:        rootID,
			NodeID:        rootID,
			Range:         node.Range(),
			Plan:          ir.ShiftPlan{RootID: rootID},
			StructVersion: bumped.StructVersion,
		}
		receipt.ID, err = ir.MutationID(receipt)
		return err
	})
	if err := req.finish(err); err != nil {
		return ir.MutationReceipt{}, err
	}
	req.log.Info().Int64("struct_version", receipt.StructVersion).Msg("root finalized")
	return receipt, nil
}

// loadLiveNode returns nodeID or an UNKNOWN_NODE rejection when it does not
// exist or was detached.
func loadLiveNode(ctx context.Context, r store.Reader, nodeID ir.NodeID) (ir.Node, error) {
	n, err := r.GetNode(ctx, nodeID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && n.Detached) {
		return ir.Node{}, &ir.RelationError{
			Code:    ir.ErrCodeUnknownNode,
			Message: "node does not exist or was detached",
			NodeID:  nodeID,
		}
	}
	if err != nil {
		return ir.Node{}, fmt.Errorf("load node %s: %w", nodeID, err)
	}
	return n, nil
}

// loadEditableRoot returns the root row when the tree still accepts
// structural changes.
func loadEditableRoot(ctx context.Context, r store.Reader, rootID ir.NodeID) (ir.Root, error) {
	root, err := r.GetRoot(ctx, rootID)
	if errors.Is(err, store.ErrNotFound) {
		return ir.Root{}, &ir.RelationError{
			Code:    ir.ErrCodeUnknownRoot,
			Message: "tree is not registered",
			RootID:  rootID,
		}
	}
	if err != nil {
		return ir.Root{}, fmt.Errorf("load root %s: %w", rootID, err)
	}
	switch root.Status {
	case ir.RootFinalized:
		return ir.Root{}, &ir.RelationError{
			Code:    ir.ErrCodeRootFinalized,
			Message: "tree is finalized and no longer accepts structural changes",
			RootID:  rootID,
		}
	case ir.RootDetached:
		return ir.Root{}, &ir.RelationError{
			Code:    ir.ErrCodeUnknownRoot,
			Message: "tree was detached",
			RootID:  rootID,
		}
	}
	return root, nil
}
