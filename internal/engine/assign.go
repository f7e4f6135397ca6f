package engine

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/isb2026/bomrel/internal/ir"
	"github.com/isb2026/bomrel/internal/store"
)

// Assignment op labels used in logs and metrics.
const (
	opAssign   = "assign"
	opUnassign = "unassign"
	opReassign = "reassign"
)

// Assign binds instanceID to leafID. expected, when non-nil, must equal
// the slot's stored version (0 for a slot never written).
func (e *Engine) Assign(ctx context.Context, leafID ir.NodeID, instanceID ir.InstanceID, expected *int64) (ir.AssignmentReceipt, error) {
	return e.assignment(ctx, opAssign, leafID, instanceID, expected, func(w store.Writer) (ir.AssignmentReceipt, error) {
		return e.tracker.Assign(ctx, w, leafID, instanceID, expected)
	})
}

// Reassign replaces the instance held by leafID in one version step.
func (e *Engine) Reassign(ctx context.Context, leafID ir.NodeID, instanceID ir.InstanceID, expected *int64) (ir.AssignmentReceipt, error) {
	return e.assignment(ctx, opReassign, leafID, instanceID, expected, func(w store.Writer) (ir.AssignmentReceipt, error) {
		return e.tracker.Reassign(ctx, w, leafID, instanceID, expected)
	})
}

// Unassign clears leafID. The version advances even when the slot was
// already empty.
func (e *Engine) Unassign(ctx context.Context, leafID ir.NodeID, expected *int64) (ir.AssignmentReceipt, error) {
	return e.assignment(ctx, opUnassign, leafID, "", expected, func(w store.Writer) (ir.AssignmentReceipt, error) {
		return e.tracker.Unassign(ctx, w, leafID, expected)
	})
}

// CommitAssignment sets leafID to instanceID, or clears it when instanceID
// is nil.
func (e *Engine) CommitAssignment(ctx context.Context, leafID ir.NodeID, instanceID *ir.InstanceID, expected *int64) (ir.AssignmentReceipt, error) {
	if instanceID == nil {
		return e.Unassign(ctx, leafID, expected)
	}
	return e.Assign(ctx, leafID, *instanceID, expected)
}

func (e *Engine) assignment(
	ctx context.Context,
	op string,
	leafID ir.NodeID,
	instanceID ir.InstanceID,
	expected *int64,
	apply func(w store.Writer) (ir.AssignmentReceipt, error),
) (ir.AssignmentReceipt, error) {
	req := e.begin(op, false, func(c zerolog.Context) zerolog.Context {
		c = c.Str("leaf", string(leafID))
		if instanceID != "" {
			c = c.Str("instance", string(instanceID))
		}
		if expected != nil {
			c = c.Int64("expected_version", *expected)
		}
		return c
	})
	req.to(StateValidating)

	var receipt ir.AssignmentReceipt
	err := e.backend.Update(ctx, func(w store.Writer) error {
		var err error
		receipt, err = apply(w)
		if err == nil {
			req.rootID = receipt.RootID
			req.to(StateCommitting)
		}
		return err
	})
	if err := req.finish(err); err != nil {
		return ir.AssignmentReceipt{}, err
	}

	req.log.Info().
		Str("root", string(receipt.RootID)).
		Int64("version", receipt.Version).
		Msg("assignment committed")
	return receipt, nil
}
