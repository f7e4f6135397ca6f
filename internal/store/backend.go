package store

import (
	"context"
	"errors"

	"github.com/isb2026/bomrel/internal/ir"
)

// Sentinel errors shared by every backend. Backends wrap them with
// fmt.Errorf("...: %w", ...) so callers match with errors.Is.
var (
	// ErrNotFound is returned when a keyed row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a conditional write lost a race: a
	// version compare-and-set failed or the backend detected a concurrent
	// transaction touching the same keys.
	ErrConflict = errors.New("conflicting write")

	// ErrUniqueViolation is returned when an instance is already assigned
	// to another leaf of the same root.
	ErrUniqueViolation = errors.New("unique constraint violated")
)

// Reader answers structural and assignment queries inside one snapshot.
//
// Structural queries only return live rows. GetNode is the exception: it
// also returns detached rows so callers can tell "unknown" from "detached".
type Reader interface {
	GetNode(ctx context.Context, id ir.NodeID) (ir.Node, error)
	GetRoot(ctx context.Context, rootID ir.NodeID) (ir.Root, error)
	ListRoots(ctx context.Context) ([]ir.Root, error)

	// TreeNodes returns every live node of the tree ordered by Left.
	TreeNodes(ctx context.Context, rootID ir.NodeID) ([]ir.Node, error)

	// Subtree returns the live nodes with left <= Left <= right, ordered by
	// Left. Passing a node's own range yields the node and its descendants.
	Subtree(ctx context.Context, rootID ir.NodeID, left, right int64) ([]ir.Node, error)

	// Ancestors returns the live nodes whose range strictly contains
	// [left, right], ordered by Left (root first).
	Ancestors(ctx context.Context, rootID ir.NodeID, left, right int64) ([]ir.Node, error)

	// Children returns the live direct children of parentID ordered by Left.
	Children(ctx context.Context, parentID ir.NodeID) ([]ir.Node, error)

	GetAssignment(ctx context.Context, leafID ir.NodeID) (ir.Assignment, error)

	// AssignmentByInstance finds the leaf of rootID currently holding instanceID.
	AssignmentByInstance(ctx context.Context, rootID ir.NodeID, instanceID ir.InstanceID) (ir.Assignment, error)

	// AssignmentsForRoot returns every assignment row of the tree, ordered
	// by leaf id.
	AssignmentsForRoot(ctx context.Context, rootID ir.NodeID) ([]ir.Assignment, error)
}

// Writer extends Reader with the mutations a single transaction may apply.
type Writer interface {
	Reader

	// InsertNodes stores new rows. Ids must be unused.
	InsertNodes(ctx context.Context, nodes []ir.Node) error

	// ApplyShift moves the live nodes of plan.RootID per the plan and
	// returns how many nodes changed.
	ApplyShift(ctx context.Context, plan ir.ShiftPlan) (int, error)

	// MarkDetached tombstones the live nodes with left <= Left <= right.
	// Ranges are kept as they are. Returns the number of rows marked.
	MarkDetached(ctx context.Context, rootID ir.NodeID, left, right int64) (int, error)

	// CreateRoot registers a new tree with StructVersion 0.
	CreateRoot(ctx context.Context, root ir.Root) error

	// BumpRoot sets the root's status and increments StructVersion, but only
	// if the stored version equals expected. Otherwise ErrConflict.
	BumpRoot(ctx context.Context, rootID ir.NodeID, expected int64, status ir.RootStatus) (ir.Root, error)

	// PutAssignment writes a with a compare-and-set on the stored version:
	// expected 0 means the row must not exist yet. A lost race returns
	// ErrConflict; a second holder of the same instance in the root
	// returns ErrUniqueViolation.
	PutAssignment(ctx context.Context, a ir.Assignment, expected int64) error
}

// Backend runs functions inside storage transactions.
//
// Update commits when fn returns nil and rolls back otherwise, so a failed
// mutation leaves storage exactly as it was.
type Backend interface {
	View(ctx context.Context, fn func(r Reader) error) error
	Update(ctx context.Context, fn func(w Writer) error) error
	Close() error
}
