// Package assign binds leaf slots to concrete instances.
//
// Each LEAF holds at most one instance, and an instance fills at most one
// leaf of a given tree. Every change bumps the slot's version, which callers
// pass back as expectedVersion for optimistic concurrency. Assignment rows
// are created lazily and never deleted; "unassigned" is a nil instance.
package assign

import (
	"context"
	"errors"
	"fmt"

	"github.com/isb2026/bomrel/internal/ir"
	"github.com/isb2026/bomrel/internal/store"
)

// Tracker applies assignment changes through a store.Writer. It holds no
// state; all conflicts are settled by the stored version and the per-root
// instance uniqueness rule.
type Tracker struct{}

// New returns a Tracker.
func New() *Tracker {
	return &Tracker{}
}

// Assign binds instanceID to leafID and returns the prior state.
//
// When expected is non-nil it must equal the stored version (0 for a leaf
// that was never assigned). Assigning to an occupied slot replaces the
// instance in one version step.
func (t *Tracker) Assign(ctx context.Context, w store.Writer, leafID ir.NodeID, instanceID ir.InstanceID, expected *int64) (ir.AssignmentReceipt, error) {
	if instanceID == "" {
		return ir.AssignmentReceipt{}, &ir.AssignmentError{
			Code:    ir.ErrCodeInvalidInstance,
			Message: "instance id is empty",
			LeafID:  leafID,
		}
	}

	leaf, current, err := t.load(ctx, w, leafID)
	if err != nil {
		return ir.AssignmentReceipt{}, err
	}
	if err := checkVersion(leafID, current.Version, expected); err != nil {
		return ir.AssignmentReceipt{}, err
	}

	held, err := w.AssignmentByInstance(ctx, leaf.RootID, instanceID)
	switch {
	case err == nil && held.LeafID != leafID:
		return ir.AssignmentReceipt{}, ir.NewAlreadyAssignedElsewhere(leafID, leaf.RootID, instanceID, held.LeafID)
	case err != nil && !errors.Is(err, store.ErrNotFound):
		return ir.AssignmentReceipt{}, fmt.Errorf("check instance %s: %w", instanceID, err)
	}

	return t.write(ctx, w, leaf, current, ir.InstancePtr(instanceID))
}

// Reassign replaces whatever instance leafID holds with instanceID. It is
// the unassign-then-assign pair collapsed into a single write, so no
// reader ever observes the empty intermediate state.
func (t *Tracker) Reassign(ctx context.Context, w store.Writer, leafID ir.NodeID, instanceID ir.InstanceID, expected *int64) (ir.AssignmentReceipt, error) {
	return t.Assign(ctx, w, leafID, instanceID, expected)
}

// Unassign clears leafID. Clearing an empty slot still bumps the version.
func (t *Tracker) Unassign(ctx context.Context, w store.Writer, leafID ir.NodeID, expected *int64) (ir.AssignmentReceipt, error) {
	leaf, current, err := t.load(ctx, w, leafID)
	if err != nil {
		return ir.AssignmentReceipt{}, err
	}
	if err := checkVersion(leafID, current.Version, expected); err != nil {
		return ir.AssignmentReceipt{}, err
	}
	return t.write(ctx, w, leaf, current, nil)
}

// UnassignLeaves clears every listed leaf that currently holds an instance.
// Used when a subtree is detached. The cascade covers "every LEAF in the
// detached range whose instance was bound", so an empty slot keeps its
// version; only an occupied slot gets a new version.
func (t *Tracker) UnassignLeaves(ctx context.Context, w store.Writer, leaves []ir.Node) ([]ir.AssignmentReceipt, error) {
	var receipts []ir.AssignmentReceipt
	for _, leaf := range leaves {
		if leaf.Kind != ir.KindLeaf {
			continue
		}
		current, err := w.GetAssignment(ctx, leaf.ID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load assignment %s: %w", leaf.ID, err)
		}
		if current.InstanceID == nil {
			continue
		}
		rec, err := t.write(ctx, w, leaf, current, nil)
		if err != nil {
			return nil, err
		}
		receipts = append(receipts, rec)
	}
	return receipts, nil
}

// Slots lists every live leaf of rootID with its assignment state, in
// pre-order.
func (t *Tracker) Slots(ctx context.Context, r store.Reader, rootID ir.NodeID) ([]ir.Slot, error) {
	nodes, err := r.TreeNodes(ctx, rootID)
	if err != nil {
		return nil, fmt.Errorf("load tree %s: %w", rootID, err)
	}
	rows, err := r.AssignmentsForRoot(ctx, rootID)
	if err != nil {
		return nil, fmt.Errorf("load assignments %s: %w", rootID, err)
	}
	byLeaf := make(map[ir.NodeID]ir.Assignment, len(rows))
	for _, a := range rows {
		byLeaf[a.LeafID] = a
	}

	var slots []ir.Slot
	for _, n := range nodes {
		if n.Kind != ir.KindLeaf {
			continue
		}
		a := byLeaf[n.ID]
		slots = append(slots, ir.Slot{
			LeafID:     n.ID,
			Payload:    n.Payload,
			InstanceID: a.InstanceID,
			Version:    a.Version,
		})
	}
	return slots, nil
}

// AssignmentsForRoot maps every live leaf of rootID to its instance, or
// nil for an empty slot.
func (t *Tracker) AssignmentsForRoot(ctx context.Context, r store.Reader, rootID ir.NodeID) (map[ir.NodeID]*ir.InstanceID, error) {
	slots, err := t.Slots(ctx, r, rootID)
	if err != nil {
		return nil, err
	}
	out := make(map[ir.NodeID]*ir.InstanceID, len(slots))
	for _, s := range slots {
		out[s.LeafID] = s.InstanceID
	}
	return out, nil
}

// load returns the live leaf and its assignment row. A leaf never assigned
// yields a zero Assignment with Version 0.
func (t *Tracker) load(ctx context.Context, r store.Reader, leafID ir.NodeID) (ir.Node, ir.Assignment, error) {
	leaf, err := r.GetNode(ctx, leafID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && leaf.Detached) {
		return ir.Node{}, ir.Assignment{}, &ir.AssignmentError{
			Code:    ir.ErrCodeUnknownLeaf,
			Message: "leaf does not exist or was detached",
			LeafID:  leafID,
		}
	}
	if err != nil {
		return ir.Node{}, ir.Assignment{}, fmt.Errorf("load leaf %s: %w", leafID, err)
	}
	if leaf.Kind != ir.KindLeaf {
		return ir.Node{}, ir.Assignment{}, &ir.AssignmentError{
			Code:    ir.ErrCodeNotALeaf,
			Message: fmt.Sprintf("node is a %s", leaf.Kind),
			LeafID:  leafID,
			RootID:  leaf.RootID,
		}
	}

	current, err := r.GetAssignment(ctx, leafID)
	if errors.Is(err, store.ErrNotFound) {
		return leaf, ir.Assignment{LeafID: leafID, RootID: leaf.RootID}, nil
	}
	if err != nil {
		return ir.Node{}, ir.Assignment{}, fmt.Errorf("load assignment %s: %w", leafID, err)
	}
	return leaf, current, nil
}

func checkVersion(leafID ir.NodeID, stored int64, expected *int64) error {
	if expected != nil && *expected != stored {
		return ir.NewVersionConflict(leafID, *expected, stored)
	}
	return nil
}

func (t *Tracker) write(ctx context.Context, w store.Writer, leaf ir.Node, current ir.Assignment, next *ir.InstanceID) (ir.AssignmentReceipt, error) {
	row := ir.Assignment{
		LeafID:     leaf.ID,
		RootID:     leaf.RootID,
		InstanceID: next,
		Version:    current.Version + 1,
	}
	err := w.PutAssignment(ctx, row, current.Version)
	switch {
	case errors.Is(err, store.ErrUniqueViolation):
		return ir.AssignmentReceipt{}, &ir.AssignmentError{
			Code:       ir.ErrCodeAlreadyAssignedElsewhere,
			Message:    "instance was assigned to another leaf concurrently",
			LeafID:     leaf.ID,
			RootID:     leaf.RootID,
			InstanceID: derefInstance(next),
			Err:        err,
		}
	case errors.Is(err, store.ErrConflict):
		conflict := ir.NewVersionConflict(leaf.ID, current.Version, current.Version+1)
		conflict.Message = "slot changed concurrently"
		conflict.Err = err
		return ir.AssignmentReceipt{}, conflict
	case err != nil:
		return ir.AssignmentReceipt{}, err
	}

	return ir.AssignmentReceipt{
		LeafID:   leaf.ID,
		RootID:   leaf.RootID,
		Previous: current.InstanceID,
		Current:  next,
		Version:  row.Version,
	}, nil
}

func derefInstance(id *ir.InstanceID) ir.InstanceID {
	if id == nil {
		return ""
	}
	return *id
}
