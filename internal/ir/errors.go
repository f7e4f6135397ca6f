package ir

import (
	"errors"
	"fmt"
)

// RelationErrorCode categorizes structural rejections.
type RelationErrorCode string

const (
	// ErrCodeCycleDetected: the attach would make a node its own ancestor.
	ErrCodeCycleDetected RelationErrorCode = "CYCLE_DETECTED"

	// ErrCodeDuplicatePath: the same payload is already attached under the parent.
	ErrCodeDuplicatePath RelationErrorCode = "DUPLICATE_PATH"

	// ErrCodeUnknownParent: the parent does not exist or was detached.
	ErrCodeUnknownParent RelationErrorCode = "UNKNOWN_PARENT"

	// ErrCodeUnknownRoot: the tree does not exist or is not the intended one.
	ErrCodeUnknownRoot RelationErrorCode = "UNKNOWN_ROOT"

	// ErrCodeUnknownNode: the node to detach or inspect does not exist.
	ErrCodeUnknownNode RelationErrorCode = "UNKNOWN_NODE"

	// ErrCodeInvalidSubtree: the submitted subtree is malformed or too large.
	ErrCodeInvalidSubtree RelationErrorCode = "INVALID_SUBTREE"

	// ErrCodeRootFinalized: the tree was finalized and is structurally frozen.
	ErrCodeRootFinalized RelationErrorCode = "ROOT_FINALIZED"

	// ErrCodeStorageAborted: the commit failed after validation passed.
	// No partial write is durable, so the same request can be retried.
	ErrCodeStorageAborted RelationErrorCode = "STORAGE_ABORTED"
)

// RelationError is a typed structural rejection or abort.
//
// Rule rejections (cycle, duplicate, unknown parent) are expected,
// user-correctable outcomes. STORAGE_ABORTED is a transport/storage failure
// and is the only retryable code.
type RelationError struct {
	Code     RelationErrorCode `json:"code"`
	Message  string            `json:"message"`
	NodeID   NodeID            `json:"node_id,omitempty"`
	ParentID NodeID            `json:"parent_id,omitempty"`
	RootID   NodeID            `json:"root_id,omitempty"`
	Payload  PayloadRef        `json:"payload_ref,omitempty"`

	// ConflictID names the existing node that caused the rejection
	// (the ancestor carrying the payload, or the duplicate sibling).
	ConflictID NodeID `json:"conflict_id,omitempty"`

	Err error `json:"-"`
}

// Error implements the error interface.
func (e *RelationError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	switch {
	case e.ParentID != "" && e.Payload != "":
		msg = fmt.Sprintf("%s (parent=%s, payload=%s)", msg, e.ParentID, e.Payload)
	case e.NodeID != "":
		msg = fmt.Sprintf("%s (node=%s)", msg, e.NodeID)
	case e.RootID != "":
		msg = fmt.Sprintf("%s (root=%s)", msg, e.RootID)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap exposes the underlying storage error for STORAGE_ABORTED.
func (e *RelationError) Unwrap() error {
	return e.Err
}

// Retryable reports whether repeating the same request may succeed.
func (e *RelationError) Retryable() bool {
	return e.Code == ErrCodeStorageAborted
}

// AssignmentErrorCode categorizes assignment rejections.
type AssignmentErrorCode string

const (
	// ErrCodeAlreadyAssignedElsewhere: the instance fills another leaf of the same root.
	ErrCodeAlreadyAssignedElsewhere AssignmentErrorCode = "ALREADY_ASSIGNED_ELSEWHERE"

	// ErrCodeVersionConflict: expectedVersion does not match the stored version.
	ErrCodeVersionConflict AssignmentErrorCode = "VERSION_CONFLICT"

	// ErrCodeNotALeaf: only LEAF nodes carry assignments.
	ErrCodeNotALeaf AssignmentErrorCode = "NOT_A_LEAF"

	// ErrCodeUnknownLeaf: the leaf does not exist or was detached.
	ErrCodeUnknownLeaf AssignmentErrorCode = "UNKNOWN_LEAF"

	// ErrCodeInvalidInstance: the instance id is empty.
	ErrCodeInvalidInstance AssignmentErrorCode = "INVALID_INSTANCE"

	// ErrCodeAssignmentAborted: the commit failed; nothing was written.
	ErrCodeAssignmentAborted AssignmentErrorCode = "STORAGE_ABORTED"
)

// AssignmentError is a typed assignment rejection or abort.
type AssignmentError struct {
	Code       AssignmentErrorCode `json:"code"`
	Message    string              `json:"message"`
	LeafID     NodeID              `json:"leaf_id,omitempty"`
	RootID     NodeID              `json:"root_id,omitempty"`
	InstanceID InstanceID          `json:"instance_id,omitempty"`

	// HeldBy is the leaf currently holding the instance (ALREADY_ASSIGNED_ELSEWHERE).
	HeldBy NodeID `json:"held_by,omitempty"`

	// Expected and Actual are the versions involved in VERSION_CONFLICT.
	Expected int64 `json:"expected,omitempty"`
	Actual   int64 `json:"actual,omitempty"`

	Err error `json:"-"`
}

// Error implements the error interface.
func (e *AssignmentError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.LeafID != "" {
		msg = fmt.Sprintf("%s (leaf=%s)", msg, e.LeafID)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap exposes the underlying storage error.
func (e *AssignmentError) Unwrap() error {
	return e.Err
}

// Retryable reports whether repeating the same request may succeed.
// A version conflict is retryable only after re-reading the version.
func (e *AssignmentError) Retryable() bool {
	return e.Code == ErrCodeAssignmentAborted
}

// NewCycleError reports that payload already denotes conflictID, which is
// the parent itself or one of its ancestors.
func NewCycleError(parentID NodeID, payload PayloadRef, conflictID NodeID) *RelationError {
	return &RelationError{
		Code:       ErrCodeCycleDetected,
		Message:    fmt.Sprintf("payload already denotes ancestor %s", conflictID),
		ParentID:   parentID,
		Payload:    payload,
		ConflictID: conflictID,
	}
}

// NewDuplicatePathError reports that payload is already a direct child of parentID.
func NewDuplicatePathError(parentID NodeID, payload PayloadRef, existingID NodeID) *RelationError {
	return &RelationError{
		Code:       ErrCodeDuplicatePath,
		Message:    fmt.Sprintf("payload already attached under parent as %s", existingID),
		ParentID:   parentID,
		Payload:    payload,
		ConflictID: existingID,
	}
}

// NewStorageAborted wraps a storage failure that happened after validation.
func NewStorageAborted(rootID NodeID, err error) *RelationError {
	return &RelationError{
		Code:    ErrCodeStorageAborted,
		Message: "commit aborted, no changes were applied",
		RootID:  rootID,
		Err:     err,
	}
}

// NewVersionConflict reports a stale expectedVersion.
func NewVersionConflict(leafID NodeID, expected, actual int64) *AssignmentError {
	return &AssignmentError{
		Code:     ErrCodeVersionConflict,
		Message:  fmt.Sprintf("expected version %d, stored version is %d", expected, actual),
		LeafID:   leafID,
		Expected: expected,
		Actual:   actual,
	}
}

// NewAlreadyAssignedElsewhere reports that instanceID is held by another leaf.
func NewAlreadyAssignedElsewhere(leafID, rootID NodeID, instanceID InstanceID, heldBy NodeID) *AssignmentError {
	return &AssignmentError{
		Code:       ErrCodeAlreadyAssignedElsewhere,
		Message:    fmt.Sprintf("instance %s is assigned to leaf %s", instanceID, heldBy),
		LeafID:     leafID,
		RootID:     rootID,
		InstanceID: instanceID,
		HeldBy:     heldBy,
	}
}

// RelationCode returns the code of a wrapped RelationError, or "".
// Uses errors.As to handle wrapped errors.
func RelationCode(err error) RelationErrorCode {
	var re *RelationError
	if errors.As(err, &re) {
		return re.Code
	}
	return ""
}

// AssignmentCode returns the code of a wrapped AssignmentError, or "".
func AssignmentCode(err error) AssignmentErrorCode {
	var ae *AssignmentError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}

// IsCycleError returns true if the error is a cycle rejection.
func IsCycleError(err error) bool {
	return RelationCode(err) == ErrCodeCycleDetected
}

// IsDuplicatePath returns true if the error is a duplicate-path rejection.
func IsDuplicatePath(err error) bool {
	return RelationCode(err) == ErrCodeDuplicatePath
}

// IsStorageAborted returns true for a storage abort of either taxonomy.
func IsStorageAborted(err error) bool {
	return RelationCode(err) == ErrCodeStorageAborted ||
		AssignmentCode(err) == ErrCodeAssignmentAborted
}

// IsVersionConflict returns true if the error is an optimistic-concurrency conflict.
func IsVersionConflict(err error) bool {
	return AssignmentCode(err) == ErrCodeVersionConflict
}

// IsAlreadyAssignedElsewhere returns true if the instance is double-booked.
func IsAlreadyAssignedElsewhere(err error) bool {
	return AssignmentCode(err) == ErrCodeAlreadyAssignedElsewhere
}
