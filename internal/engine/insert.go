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

// CreateTree stores sub as a new tree. The subtree's top node becomes the
// ROOT and occupies [1, 2n] for a subtree of n nodes. A top node given as
// BRANCH (or without a kind) is promoted; an explicit LEAF is rejected.
func (e *Engine) CreateTree(ctx context.Context, sub ir.NewSubtree) (ir.MutationReceipt, error) {
	req := e.begin(string(ir.OpCreateTree), true, func(c zerolog.Context) zerolog.Context {
		return c.Str("payload", sub.Payload).Int("size", sub.Size())
	})
	req.to(StateValidating)

	if rejection := checkQuota(sub, e.maxSubtreeNodes); rejection != nil {
		return ir.MutationReceipt{}, req.finish(rejection)
	}
	if sub.Kind == ir.KindLeaf {
		return ir.MutationReceipt{}, req.finish(&ir.RelationError{
			Code:    ir.ErrCodeInvalidSubtree,
			Message: fmt.Sprintf("top node of a new tree cannot be %s", sub.Kind),
		})
	}
	placed, err := nestedset.Layout(sub, 1)
	if err != nil {
		return ir.MutationReceipt{}, req.finish(err)
	}
	placed[0].Kind = ir.KindRoot
	if rejection := e.validator.CheckNewTree(placed); rejection != nil {
		return ir.MutationReceipt{}, req.finish(rejection)
	}
	ids, rejection := e.assignIDs(placed)
	if rejection != nil {
		return ir.MutationReceipt{}, req.finish(rejection)
	}
	rootID := ids[0]
	req.rootID = rootID

	release, err := e.locks.acquire(ctx, rootID)
	if err != nil {
		return ir.MutationReceipt{}, req.finish(err)
	}
	defer release()

	var receipt ir.MutationReceipt
	err = e.backend.Update(ctx, func(w store.Writer) error {
		if err := checkUnused(ctx, w, ids); err != nil {
			return err
		}

		req.to(StateCommitting)
		if err := w.CreateRoot(ctx, ir.Root{ID: rootID, Status: ir.RootDraft}); err != nil {
			return fmt.Errorf("create root %s: %w", rootID, err)
		}
		if err := w.InsertNodes(ctx, buildRows(placed, ids, rootID, "", 0)); err != nil {
			return fmt.Errorf("insert nodes: %w", err)
		}
		root, err := w.BumpRoot(ctx, rootID, 0, ir.RootDraft)
		if err != nil {
			return fmt.Errorf("bump root %s: %w", rootID, err)
		}

		receipt = ir.MutationReceipt{
			Op:            ir.OpCreateTree,
			RootID:        rootID,
			NodeID:        rootID,
			Range:         ir.Range{Left: placed[0].Left, Right: placed[0].Right},
			Plan:          ir.ShiftPlan{RootID: rootID},
			StructVersion: root.StructVersion,
			Inserted:      ids,
		}
		receipt.ID, err = ir.MutationID(receipt)
		return err
	})
	if err := req.finish(err); err != nil {
		return ir.MutationReceipt{}, err
	}

	req.log.Info().Str("root", string(rootID)).Int("nodes", len(ids)).Msg("tree created")
	return receipt, nil
}

// InsertSubtree attaches sub as the rightmost child of parentID.
func (e *Engine) InsertSubtree(ctx context.Context, parentID ir.NodeID, sub ir.NewSubtree) (ir.MutationReceipt, error) {
	return e.insert(ctx, "", parentID, sub)
}

// InsertSubtreeInto is InsertSubtree for callers that know which tree they
// are editing. A parent in any other tree is rejected with UNKNOWN_ROOT.
func (e *Engine) InsertSubtreeInto(ctx context.Context, rootID, parentID ir.NodeID, sub ir.NewSubtree) (ir.MutationReceipt, error) {
	return e.insert(ctx, rootID, parentID, sub)
}

func (e *Engine) insert(ctx context.Context, rootHint, parentID ir.NodeID, sub ir.NewSubtree) (ir.MutationReceipt, error) {
	req := e.begin(string(ir.OpInsert), true, func(c zerolog.Context) zerolog.Context {
		return c.Str("parent", string(parentID)).Int("size", sub.Size())
	})
	req.to(StateValidating)

	if rejection := checkQuota(sub, e.maxSubtreeNodes); rejection != nil {
		rejection.ParentID = parentID
		return ir.MutationReceipt{}, req.finish(rejection)
	}
	if sub.Kind == ir.KindRoot {
		return ir.MutationReceipt{}, req.finish(&ir.RelationError{
			Code:     ir.ErrCodeInvalidSubtree,
			Message:  "an inserted subtree cannot be a ROOT",
			ParentID: parentID,
		})
	}

	rootID, err := e.rootOf(ctx, parentID)
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
		target, rejection, err := e.validator.ResolveParent(ctx, w, parentID, rootHint)
		if err != nil {
			return err
		}
		if rejection != nil {
			rejection.Payload = ir.PayloadRef(sub.Payload)
			return rejection
		}

		rng, plan, err := nestedset.ComputeInsertionRange(target.Parent, sub.Size())
		if err != nil {
			return err
		}
		placed, err := nestedset.Layout(sub, rng.Left)
		if err != nil {
			var re *ir.RelationError
			if errors.As(err, &re) {
				re.ParentID = parentID
			}
			return err
		}
		rejection, err = e.validator.CheckSubtree(ctx, w, target, placed)
		if err != nil {
			return err
		}
		if rejection != nil {
			return rejection
		}
		ids, rejection := e.assignIDs(placed)
		if rejection != nil {
			return rejection
		}
		if err := checkUnused(ctx, w, ids); err != nil {
			return err
		}
		siblings, err := w.Children(ctx, parentID)
		if err != nil {
			return fmt.Errorf("load children of %s: %w", parentID, err)
		}

		req.to(StateCommitting)
		shifted, err := w.ApplyShift(ctx, plan)
		if err != nil {
			return fmt.Errorf("apply shift: %w", err)
		}
		rows := buildRows(placed, ids, target.Root.ID, parentID, int64(len(siblings)+1))
		if err := w.InsertNodes(ctx, rows); err != nil {
			return fmt.Errorf("insert nodes: %w", err)
		}
		root, err := w.BumpRoot(ctx, target.Root.ID, target.Root.StructVersion, target.Root.Status)
		if err != nil {
			return fmt.Errorf("bump root %s: %w", target.Root.ID, err)
		}

		receipt = ir.MutationReceipt{
			Op:            ir.OpInsert,
			RootID:        target.Root.ID,
			NodeID:        ids[0],
			Range:         rng,
			Plan:          plan,
			ShiftedNodes:  shifted,
			StructVersion: root.StructVersion,
			Inserted:      ids,
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
		Str("node", string(receipt.NodeID)).
		Int64("left", receipt.Range.Left).
		Int64("right", receipt.Range.Right).
		Int("shifted", receipt.ShiftedNodes).
		Msg("subtree inserted")
	return receipt, nil
}

// rootOf returns the tree nodeID belongs to, or "" when the node is
// unknown. The answer never changes for an existing node, so it is safe to
// use for choosing the lock before the write transaction starts.
func (e *Engine) rootOf(ctx context.Context, nodeID ir.NodeID) (ir.NodeID, error) {
	var rootID ir.NodeID
	err := e.backend.View(ctx, func(r store.Reader) error {
		n, err := r.GetNode(ctx, nodeID)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("load node %s: %w", nodeID, err)
		}
		rootID = n.RootID
		return nil
	})
	return rootID, err
}

// assignIDs returns the node id of every placed node, generating the ones
// the subtree leaves empty. Explicit ids must be unique within the subtree.
func (e *Engine) assignIDs(placed []nestedset.Placed) ([]ir.NodeID, *ir.RelationError) {
	ids := make([]ir.NodeID, len(placed))
	seen := make(map[ir.NodeID]bool, len(placed))
	for i, p := range placed {
		id := p.Spec.ID
		if id == "" {
			id = ir.NodeID(e.ids.Generate())
		}
		if seen[id] {
			return nil, &ir.RelationError{
				Code:    ir.ErrCodeInvalidSubtree,
				Message: "node id appears twice in the subtree",
				NodeID:  id,
			}
		}
		seen[id] = true
		ids[i] = id
	}
	return ids, nil
}

// checkUnused rejects ids that already name a stored node, live or detached.
func checkUnused(ctx context.Context, r store.Reader, ids []ir.NodeID) error {
	for _, id := range ids {
		_, err := r.GetNode(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("load node %s: %w", id, err)
		}
		return &ir.RelationError{
			Code:    ir.ErrCodeInvalidSubtree,
			Message: "node id is already in use",
			NodeID:  id,
		}
	}
	return nil
}

// buildRows turns placed nodes into storage rows. parentID is the stored
// parent of the top node, or "" when the top node is a new root. Nodes
// without an order hint are numbered after their earlier siblings, the top
// node starting at topOrder.
func buildRows(placed []nestedset.Placed, ids []ir.NodeID, rootID, parentID ir.NodeID, topOrder int64) []ir.Node {
	rows := make([]ir.Node, len(placed))
	nextOrder := make(map[int]int64, len(placed))
	for i, p := range placed {
		row := ir.Node{
			ID:      ids[i],
			RootID:  rootID,
			Left:    p.Left,
			Right:   p.Right,
			Kind:    p.Kind,
			Payload: p.Payload,
			Order:   p.Spec.Order,
		}
		if p.ParentIndex < 0 {
			if parentID != "" {
				row.ParentID = ir.NodeIDPtr(parentID)
			}
			if row.Order == 0 {
				row.Order = topOrder
			}
		} else {
			row.ParentID = ir.NodeIDPtr(ids[p.ParentIndex])
			nextOrder[p.ParentIndex]++
			if row.Order == 0 {
				row.Order = nextOrder[p.ParentIndex]
			}
		}
		rows[i] = row
	}
	return rows
}
