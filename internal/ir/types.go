package ir

// NodeID identifies a node. Root nodes use their own id as RootID.
type NodeID string

// InstanceID identifies a concrete physical instance (a specific mold,
// a specific tool) that can fill a leaf slot.
type InstanceID string

// NodeKind discriminates the role of a node inside its tree.
type NodeKind string

const (
	KindRoot   NodeKind = "ROOT"
	KindBranch NodeKind = "BRANCH"
	KindLeaf   NodeKind = "LEAF"
)

// ValidKinds defines allowed node kinds.
var ValidKinds = map[NodeKind]bool{
	KindRoot:   true,
	KindBranch: true,
	KindLeaf:   true,
}

// Range is a nested-set interval. Left < Right always holds for a stored node.
type Range struct {
	Left  int64 `json:"left"`
	Right int64 `json:"right"`
}

// Size returns the number of sequence positions the range occupies.
func (r Range) Size() int64 {
	return r.Right - r.Left + 1
}

// Contains reports whether other lies strictly inside r.
func (r Range) Contains(other Range) bool {
	return r.Left < other.Left && other.Right < r.Right
}

// Node is a vertex in exactly one composition tree, stored as a flat row.
type Node struct {
	ID       NodeID     `json:"id"`
	RootID   NodeID     `json:"root_id"`
	ParentID *NodeID    `json:"parent_id,omitempty"` // nil only for a root
	Left     int64      `json:"left"`
	Right    int64      `json:"right"`
	Kind     NodeKind   `json:"kind"`
	Payload  PayloadRef `json:"payload_ref"`
	Order    int64      `json:"order"` // display hint only

	// Detached marks a tombstoned node. Detached rows keep the range they had
	// when they were removed and are ignored by every structural query.
	Detached bool `json:"detached,omitempty"`
}

// Range returns the node's nested-set interval.
func (n Node) Range() Range {
	return Range{Left: n.Left, Right: n.Right}
}

// IsRoot reports whether the node is the top of its tree.
func (n Node) IsRoot() bool {
	return n.ParentID == nil
}

// RootStatus is the lifecycle state of a tree.
type RootStatus string

const (
	// RootDraft trees accept structural mutations.
	RootDraft RootStatus = "draft"
	// RootFinalized trees reject structural mutations but still accept
	// instance assignments.
	RootFinalized RootStatus = "finalized"
	// RootDetached trees had their root node detached.
	RootDetached RootStatus = "detached"
)

// Root is the per-tree bookkeeping row.
//
// StructVersion is bumped by every committed structural mutation and is used
// as the storage-level conditional write that serialises structural changes
// across processes.
type Root struct {
	ID            NodeID     `json:"root_id"`
	Status        RootStatus `json:"status"`
	StructVersion int64      `json:"struct_version"`
}

// Assignment binds one LEAF node to at most one instance.
// A nil InstanceID means the slot is unassigned.
type Assignment struct {
	LeafID     NodeID      `json:"leaf_id"`
	RootID     NodeID      `json:"root_id"`
	InstanceID *InstanceID `json:"instance_id,omitempty"`
	Version    int64       `json:"version"`
}

// Slot is a live leaf together with its current assignment state.
// Version is 0 when no assignment row has been written yet.
type Slot struct {
	LeafID     NodeID      `json:"leaf_id"`
	Payload    PayloadRef  `json:"payload_ref"`
	InstanceID *InstanceID `json:"instance_id,omitempty"`
	Version    int64       `json:"version"`
}

// NodeView is a read-only presentation of a node. Depth is computed from
// ranges, never from parent pointers.
type NodeView struct {
	Node
	Depth int `json:"depth"`
}
