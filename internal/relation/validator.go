// Package relation decides whether a candidate edge may be added to a tree.
//
// The validator is read-only. It is the single gate every structural write
// passes through, and it is also exposed on its own so callers can ask
// "would this be legal?" before building a request.
package relation

import (
	"context"
	"errors"
	"fmt"

	"github.com/isb2026/bomrel/internal/ir"
	"github.com/isb2026/bomrel/internal/nestedset"
	"github.com/isb2026/bomrel/internal/store"
)

// Validator checks the relation rules against one storage snapshot.
type Validator struct{}

// New returns a Validator.
func New() *Validator {
	return &Validator{}
}

// Target is a parent that passed the existence and root checks.
type Target struct {
	Parent ir.Node
	Root   ir.Root

	// Path holds the payloads on the parent's ancestor path, root first,
	// ending with the parent itself. Conflicts maps each payload to the
	// node carrying it.
	Path      []ir.PayloadRef
	Conflicts map[ir.PayloadRef]ir.NodeID
}

// CanAttach decides whether req.Payload may become a new child of
// req.ParentID. Rule violations come back as a rejected Decision; the
// error return is reserved for storage failures.
func (v *Validator) CanAttach(ctx context.Context, r store.Reader, req ir.AttachRequest) (ir.Decision, error) {
	payload, err := ir.NormalizePayload(string(req.Payload))
	if err != nil {
		return ir.Rejected(&ir.RelationError{
			Code:     ir.ErrCodeInvalidSubtree,
			Message:  err.Error(),
			ParentID: req.ParentID,
		}), nil
	}

	target, rejection, err := v.ResolveParent(ctx, r, req.ParentID, req.RootID)
	if err != nil {
		return ir.Decision{}, err
	}
	if rejection != nil {
		rejection.Payload = payload
		return ir.Rejected(rejection), nil
	}

	if rejection := checkCycle(target, payload, nil); rejection != nil {
		return ir.Rejected(rejection), nil
	}

	rejection, err = v.checkDuplicate(ctx, r, target.Parent, payload)
	if err != nil {
		return ir.Decision{}, err
	}
	if rejection != nil {
		return ir.Rejected(rejection), nil
	}
	return ir.Accepted(), nil
}

// CheckSubtree validates a laid-out subtree about to be attached under
// target.Parent. The top node must pass the same rules as CanAttach, and
// no node inside the subtree may carry a payload already present on its
// own ancestor path, whether that ancestor is stored or part of the
// subtree.
func (v *Validator) CheckSubtree(ctx context.Context, r store.Reader, target *Target, placed []nestedset.Placed) (*ir.RelationError, error) {
	if len(placed) == 0 {
		return &ir.RelationError{Code: ir.ErrCodeInvalidSubtree, Message: "empty subtree", ParentID: target.Parent.ID}, nil
	}

	paths := nestedset.PathPayloads(placed)
	for i, p := range placed {
		if rejection := checkCycle(target, p.Payload, paths[i]); rejection != nil {
			return rejection, nil
		}
	}

	return v.checkDuplicate(ctx, r, target.Parent, placed[0].Payload)
}

// ResolveParent loads the parent and its tree and applies the existence
// and root rules. rootHint, when set, is the tree the caller believes it
// is editing.
func (v *Validator) ResolveParent(ctx context.Context, r store.Reader, parentID, rootHint ir.NodeID) (*Target, *ir.RelationError, error) {
	parent, err := r.GetNode(ctx, parentID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && parent.Detached) {
		return nil, &ir.RelationError{
			Code:     ir.ErrCodeUnknownParent,
			Message:  "parent does not exist or was detached",
			ParentID: parentID,
		}, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load parent %s: %w", parentID, err)
	}

	if rootHint != "" && parent.RootID != rootHint {
		return nil, &ir.RelationError{
			Code:     ir.ErrCodeUnknownRoot,
			Message:  fmt.Sprintf("parent belongs to tree %s", parent.RootID),
			ParentID: parentID,
			RootID:   rootHint,
		}, nil
	}

	root, err := r.GetRoot(ctx, parent.RootID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &ir.RelationError{
			Code:     ir.ErrCodeUnknownRoot,
			Message:  "tree is not registered",
			ParentID: parentID,
			RootID:   parent.RootID,
		}, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load root %s: %w", parent.RootID, err)
	}

	switch root.Status {
	case ir.RootFinalized:
		return nil, &ir.RelationError{
			Code:     ir.ErrCodeRootFinalized,
			Message:  "tree is finalized and no longer accepts structural changes",
			ParentID: parentID,
			RootID:   root.ID,
		}, nil
	case ir.RootDetached:
		return nil, &ir.RelationError{
			Code:     ir.ErrCodeUnknownRoot,
			Message:  "tree was detached",
			ParentID: parentID,
			RootID:   root.ID,
		}, nil
	}

	if parent.Kind == ir.KindLeaf {
		return nil, &ir.RelationError{
			Code:     ir.ErrCodeInvalidSubtree,
			Message:  "a LEAF cannot have children",
			ParentID: parentID,
			RootID:   root.ID,
		}, nil
	}

	ancestors, err := r.Ancestors(ctx, parent.RootID, parent.Left, parent.Right)
	if err != nil {
		return nil, nil, fmt.Errorf("load ancestors of %s: %w", parentID, err)
	}

	t := &Target{
		Parent:    parent,
		Root:      root,
		Path:      make([]ir.PayloadRef, 0, len(ancestors)+1),
		Conflicts: make(map[ir.PayloadRef]ir.NodeID, len(ancestors)+1),
	}
	for _, a := range append(ancestors, parent) {
		t.Path = append(t.Path, a.Payload)
		t.Conflicts[a.Payload] = a.ID
	}
	return t, nil, nil
}

// checkCycle rejects payload when it already denotes the parent, one of
// the parent's stored ancestors, or one of the in-subtree ancestors listed
// in inner.
func checkCycle(target *Target, payload ir.PayloadRef, inner []ir.PayloadRef) *ir.RelationError {
	if id, ok := target.Conflicts[payload]; ok {
		return ir.NewCycleError(target.Parent.ID, payload, id)
	}
	for _, p := range inner {
		if p == payload {
			err := ir.NewCycleError(target.Parent.ID, payload, "")
			err.Message = "payload repeats on its own path inside the subtree"
			return err
		}
	}
	return nil
}

func (v *Validator) checkDuplicate(ctx context.Context, r store.Reader, parent ir.Node, payload ir.PayloadRef) (*ir.RelationError, error) {
	children, err := r.Children(ctx, parent.ID)
	if err != nil {
		return nil, fmt.Errorf("load children of %s: %w", parent.ID, err)
	}
	for _, c := range children {
		if c.Payload == payload {
			return ir.NewDuplicatePathError(parent.ID, payload, c.ID), nil
		}
	}
	return nil, nil
}

// CheckNewTree validates a laid-out subtree that will become a new tree.
// There is no stored parent, so only the in-subtree path rule applies.
func (v *Validator) CheckNewTree(placed []nestedset.Placed) *ir.RelationError {
	if len(placed) == 0 {
		return &ir.RelationError{Code: ir.ErrCodeInvalidSubtree, Message: "empty subtree"}
	}
	paths := nestedset.PathPayloads(placed)
	for i, p := range placed {
		for _, anc := range paths[i] {
			if anc == p.Payload {
				parent := placed[p.ParentIndex]
				return &ir.RelationError{
					Code:     ir.ErrCodeCycleDetected,
					Message:  "payload repeats on its own path inside the subtree",
					ParentID: parent.Spec.ID,
					Payload:  p.Payload,
				}
			}
		}
	}
	return nil
}
