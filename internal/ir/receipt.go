package ir

// MutationOp names a structural mutation.
type MutationOp string

const (
	OpCreateTree MutationOp = "create_tree"
	OpInsert     MutationOp = "insert_subtree"
	OpDetach     MutationOp = "detach_subtree"
	OpFinalize   MutationOp = "finalize_root"
)

// MutationReceipt describes a committed structural mutation.
type MutationReceipt struct {
	// ID is content-addressed over the committed mutation (see hash.go).
	ID string `json:"id"`

	Op     MutationOp `json:"op"`
	RootID NodeID     `json:"root_id"`

	// NodeID is the top node of the inserted or detached subtree.
	NodeID NodeID `json:"node_id"`

	// Range is the interval the subtree occupies (insert) or occupied
	// before removal (detach).
	Range Range `json:"range"`

	Plan ShiftPlan `json:"plan"`

	// ShiftedNodes is the number of pre-existing live nodes the plan moved.
	ShiftedNodes int `json:"shifted_nodes"`

	// StructVersion is the root's structural version after the commit.
	StructVersion int64 `json:"struct_version"`

	// Inserted lists every new node id in pre-order (insert only).
	Inserted []NodeID `json:"inserted,omitempty"`

	// Unassigned lists the leaves whose assignment was reset by a detach.
	Unassigned []AssignmentReceipt `json:"unassigned,omitempty"`
}

// AssignmentReceipt describes a committed assign, reassign or unassign.
// Previous lets callers render "was X, now Y".
type AssignmentReceipt struct {
	LeafID   NodeID      `json:"leaf_id"`
	RootID   NodeID      `json:"root_id"`
	Previous *InstanceID `json:"previous,omitempty"`
	Current  *InstanceID `json:"current,omitempty"`
	Version  int64       `json:"version"`
}

// AttachRequest is the input of a read-only attach check.
type AttachRequest struct {
	ParentID NodeID `json:"parent_id"`

	// Payload is the ref of the node that would be attached.
	Payload PayloadRef `json:"payload_ref"`

	// RootID, when set, is the tree the caller intends to edit. A parent
	// in any other tree is rejected.
	RootID NodeID `json:"root_id,omitempty"`
}

// Decision is the outcome of a read-only attach check.
// Reject is nil exactly when Accept is true.
type Decision struct {
	Accept bool           `json:"accept"`
	Reject *RelationError `json:"reject,omitempty"`
}

// Accepted is the positive decision.
func Accepted() Decision {
	return Decision{Accept: true}
}

// Rejected wraps a rule violation into a decision.
func Rejected(err *RelationError) Decision {
	return Decision{Reject: err}
}
