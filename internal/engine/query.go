package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/isb2026/bomrel/internal/ir"
	"github.com/isb2026/bomrel/internal/nestedset"
	"github.com/isb2026/bomrel/internal/store"
)

// CanAttach reports whether req would pass validation right now. It never
// writes and takes no lock, so the answer can be stale by the time the
// caller inserts.
func (e *Engine) CanAttach(ctx context.Context, req ir.AttachRequest) (ir.Decision, error) {
	var d ir.Decision
	err := e.backend.View(ctx, func(r store.Reader) error {
		var err error
		d, err = e.validator.CanAttach(ctx, r, req)
		return err
	})
	if err != nil {
		return ir.Decision{}, ir.NewStorageAborted(req.RootID, err)
	}

	decision := "accept"
	if !d.Accept {
		decision = "reject"
	}
	e.metrics.ChecksTotal.WithLabelValues(decision).Inc()
	e.log.Debug().
		Str("parent", string(req.ParentID)).
		Str("payload", string(req.Payload)).
		Str("decision", decision).
		Msg("attach check")
	return d, nil
}

// DescendantsOf returns nodeID and its live descendants in pre-order.
// Depth counts from the tree's root.
func (e *Engine) DescendantsOf(ctx context.Context, nodeID ir.NodeID) ([]ir.NodeView, error) {
	var views []ir.NodeView
	err := e.view(ctx, func(r store.Reader) error {
		node, err := loadLiveNode(ctx, r, nodeID)
		if err != nil {
			return err
		}
		lo, hi := nestedset.DescendantRange(node)
		nodes, err := r.Subtree(ctx, node.RootID, lo, hi)
		if err != nil {
			return fmt.Errorf("load subtree of %s: %w", nodeID, err)
		}
		ancestors, err := r.Ancestors(ctx, node.RootID, node.Left, node.Right)
		if err != nil {
			return fmt.Errorf("load ancestors of %s: %w", nodeID, err)
		}
		views = nestedset.Views(nodes)
		for i := range views {
			views[i].Depth += len(ancestors)
		}
		return nil
	})
	return views, err
}

// AncestorsOf returns the live ancestors of nodeID, root first. The node
// itself is not included.
func (e *Engine) AncestorsOf(ctx context.Context, nodeID ir.NodeID) ([]ir.NodeView, error) {
	var views []ir.NodeView
	err := e.view(ctx, func(r store.Reader) error {
		node, err := loadLiveNode(ctx, r, nodeID)
		if err != nil {
			return err
		}
		nodes, err := r.Ancestors(ctx, node.RootID, node.Left, node.Right)
		if err != nil {
			return fmt.Errorf("load ancestors of %s: %w", nodeID, err)
		}
		views = nestedset.Views(nodes)
		return nil
	})
	return views, err
}

// Tree returns every live node of rootID in pre-order.
func (e *Engine) Tree(ctx context.Context, rootID ir.NodeID) ([]ir.NodeView, error) {
	var views []ir.NodeView
	err := e.view(ctx, func(r store.Reader) error {
		if _, err := loadRoot(ctx, r, rootID); err != nil {
			return err
		}
		nodes, err := r.TreeNodes(ctx, rootID)
		if err != nil {
			return fmt.Errorf("load tree %s: %w", rootID, err)
		}
		views = nestedset.Views(nodes)
		return nil
	})
	return views, err
}

// AssignmentsForRoot maps every live leaf of rootID to its instance, nil
// for an empty slot.
func (e *Engine) AssignmentsForRoot(ctx context.Context, rootID ir.NodeID) (map[ir.NodeID]*ir.InstanceID, error) {
	var out map[ir.NodeID]*ir.InstanceID
	err := e.view(ctx, func(r store.Reader) error {
		if _, err := loadRoot(ctx, r, rootID); err != nil {
			return err
		}
		var err error
		out, err = e.tracker.AssignmentsForRoot(ctx, r, rootID)
		return err
	})
	return out, err
}

// Slots lists the live leaves of rootID with instance and version, in
// pre-order.
func (e *Engine) Slots(ctx context.Context, rootID ir.NodeID) ([]ir.Slot, error) {
	var slots []ir.Slot
	err := e.view(ctx, func(r store.Reader) error {
		if _, err := loadRoot(ctx, r, rootID); err != nil {
			return err
		}
		var err error
		slots, err = e.tracker.Slots(ctx, r, rootID)
		return err
	})
	return slots, err
}

// Verify checks every nested-set invariant of rootID's live rows. A
// violation comes back as *nestedset.VerifyError.
func (e *Engine) Verify(ctx context.Context, rootID ir.NodeID) error {
	var nodes []ir.Node
	err := e.view(ctx, func(r store.Reader) error {
		if _, err := loadRoot(ctx, r, rootID); err != nil {
			return err
		}
		var err error
		nodes, err = r.TreeNodes(ctx, rootID)
		return err
	})
	if err != nil {
		return err
	}
	return nestedset.Verify(rootID, nodes)
}

// Roots lists every registered tree.
func (e *Engine) Roots(ctx context.Context) ([]ir.Root, error) {
	var roots []ir.Root
	err := e.view(ctx, func(r store.Reader) error {
		var err error
		roots, err = r.ListRoots(ctx)
		return err
	})
	return roots, err
}

// Node returns nodeID, including a detached one.
func (e *Engine) Node(ctx context.Context, nodeID ir.NodeID) (ir.Node, error) {
	var n ir.Node
	err := e.view(ctx, func(r store.Reader) error {
		var err error
		n, err = r.GetNode(ctx, nodeID)
		if errors.Is(err, store.ErrNotFound) {
			return &ir.RelationError{
				Code:    ir.ErrCodeUnknownNode,
				Message: "node does not exist",
				NodeID:  nodeID,
			}
		}
		return err
	})
	return n, err
}

// view runs fn in a snapshot. Typed rejections pass through; storage
// failures are wrapped as STORAGE_ABORTED.
func (e *Engine) view(ctx context.Context, fn func(r store.Reader) error) error {
	err := e.backend.View(ctx, fn)
	if err == nil {
		return nil
	}
	var re *ir.RelationError
	if errors.As(err, &re) {
		return err
	}
	return ir.NewStorageAborted("", err)
}

// loadRoot returns rootID's row in any status, or UNKNOWN_ROOT.
func loadRoot(ctx context.Context, r store.Reader, rootID ir.NodeID) (ir.Root, error) {
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
	return root, nil
}
