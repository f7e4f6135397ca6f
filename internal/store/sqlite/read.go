package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/isb2026/bomrel/internal/ir"
	"github.com/isb2026/bomrel/internal/store"
)

// tx implements store.Writer over one SQL transaction. Every query of a
// mutation must go through it: the pool has a single connection.
type tx struct {
	tx *sql.Tx
}

var _ store.Writer = (*tx)(nil)

const nodeColumns = `id, root_id, parent_id, lft, rgt, kind, payload_ref, sort_order, detached`

// GetNode returns a node by id, including detached rows.
func (t *tx) GetNode(ctx context.Context, id ir.NodeID) (ir.Node, error) {
	row := t.tx.QueryRowContext(ctx, `
		SELECT `+nodeColumns+`
		FROM nodes
		WHERE id = ?
	`, string(id))

	n, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.Node{}, fmt.Errorf("node %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return ir.Node{}, fmt.Errorf("get node %s: %w", id, err)
	}
	return n, nil
}

// GetRoot returns the bookkeeping row of a tree.
func (t *tx) GetRoot(ctx context.Context, rootID ir.NodeID) (ir.Root, error) {
	var r ir.Root
	var id, status string
	err := t.tx.QueryRowContext(ctx, `
		SELECT root_id, status, struct_version
		FROM roots
		WHERE root_id = ?
	`, string(rootID)).Scan(&id, &status, &r.StructVersion)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.Root{}, fmt.Errorf("root %s: %w", rootID, store.ErrNotFound)
	}
	if err != nil {
		return ir.Root{}, fmt.Errorf("get root %s: %w", rootID, err)
	}
	r.ID = ir.NodeID(id)
	r.Status = ir.RootStatus(status)
	return r, nil
}

// ListRoots returns every tree ordered by id.
func (t *tx) ListRoots(ctx context.Context) ([]ir.Root, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT root_id, status, struct_version
		FROM roots
		ORDER BY root_id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list roots: %w", err)
	}
	defer rows.Close()

	var roots []ir.Root
	for rows.Next() {
		var r ir.Root
		var id, status string
		if err := rows.Scan(&id, &status, &r.StructVersion); err != nil {
			return nil, fmt.Errorf("scan root: %w", err)
		}
		r.ID = ir.NodeID(id)
		r.Status = ir.RootStatus(status)
		roots = append(roots, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate roots: %w", err)
	}
	return roots, nil
}

// TreeNodes returns every live node of a tree ordered by lft.
func (t *tx) TreeNodes(ctx context.Context, rootID ir.NodeID) ([]ir.Node, error) {
	return t.queryNodes(ctx, "tree nodes", `
		SELECT `+nodeColumns+`
		FROM nodes
		WHERE root_id = ? AND detached = 0
		ORDER BY lft ASC
	`, string(rootID))
}

// Subtree returns live nodes whose lft falls inside [left, right].
func (t *tx) Subtree(ctx context.Context, rootID ir.NodeID, left, right int64) ([]ir.Node, error) {
	return t.queryNodes(ctx, "subtree", `
		SELECT `+nodeColumns+`
		FROM nodes
		WHERE root_id = ? AND detached = 0 AND lft BETWEEN ? AND ?
		ORDER BY lft ASC
	`, string(rootID), left, right)
}

// Ancestors returns live nodes whose range strictly contains [left, right].
func (t *tx) Ancestors(ctx context.Context, rootID ir.NodeID, left, right int64) ([]ir.Node, error) {
	return t.queryNodes(ctx, "ancestors", `
		SELECT `+nodeColumns+`
		FROM nodes
		WHERE root_id = ? AND detached = 0 AND lft < ? AND rgt > ?
		ORDER BY lft ASC
	`, string(rootID), left, right)
}

// Children returns live direct children ordered by lft.
func (t *tx) Children(ctx context.Context, parentID ir.NodeID) ([]ir.Node, error) {
	return t.queryNodes(ctx, "children", `
		SELECT `+nodeColumns+`
		FROM nodes
		WHERE parent_id = ? AND detached = 0
		ORDER BY lft ASC
	`, string(parentID))
}

// GetAssignment returns the assignment row of a leaf.
func (t *tx) GetAssignment(ctx context.Context, leafID ir.NodeID) (ir.Assignment, error) {
	row := t.tx.QueryRowContext(ctx, `
		SELECT leaf_id, root_id, instance_id, version
		FROM assignments
		WHERE leaf_id = ?
	`, string(leafID))

	a, err := scanAssignment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.Assignment{}, fmt.Errorf("assignment %s: %w", leafID, store.ErrNotFound)
	}
	if err != nil {
		return ir.Assignment{}, fmt.Errorf("get assignment %s: %w", leafID, err)
	}
	return a, nil
}

// AssignmentByInstance finds the leaf of a root holding an instance.
func (t *tx) AssignmentByInstance(ctx context.Context, rootID ir.NodeID, instanceID ir.InstanceID) (ir.Assignment, error) {
	row := t.tx.QueryRowContext(ctx, `
		SELECT leaf_id, root_id, instance_id, version
		FROM assignments
		WHERE root_id = ? AND instance_id = ?
	`, string(rootID), string(instanceID))

	a, err := scanAssignment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.Assignment{}, fmt.Errorf("instance %s in root %s: %w", instanceID, rootID, store.ErrNotFound)
	}
	if err != nil {
		return ir.Assignment{}, fmt.Errorf("find instance %s: %w", instanceID, err)
	}
	return a, nil
}

// AssignmentsForRoot returns every assignment row of a tree.
func (t *tx) AssignmentsForRoot(ctx context.Context, rootID ir.NodeID) ([]ir.Assignment, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT leaf_id, root_id, instance_id, version
		FROM assignments
		WHERE root_id = ?
		ORDER BY leaf_id COLLATE BINARY ASC
	`, string(rootID))
	if err != nil {
		return nil, fmt.Errorf("assignments for root %s: %w", rootID, err)
	}
	defer rows.Close()

	var out []ir.Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate assignments: %w", err)
	}
	return out, nil
}

func (t *tx) queryNodes(ctx context.Context, what, query string, args ...any) ([]ir.Node, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", what, err)
	}
	defer rows.Close()

	var nodes []ir.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", what, err)
		}
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", what, err)
	}
	return nodes, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanNode(s scanner) (ir.Node, error) {
	var n ir.Node
	var id, rootID, kind, payload string
	var parentID sql.NullString
	var detached int
	if err := s.Scan(&id, &rootID, &parentID, &n.Left, &n.Right, &kind, &payload, &n.Order, &detached); err != nil {
		return ir.Node{}, err
	}
	n.ID = ir.NodeID(id)
	n.RootID = ir.NodeID(rootID)
	if parentID.Valid {
		n.ParentID = ir.NodeIDPtr(ir.NodeID(parentID.String))
	}
	n.Kind = ir.NodeKind(kind)
	n.Payload = ir.PayloadRef(payload)
	n.Detached = detached != 0
	return n, nil
}

func scanAssignment(s scanner) (ir.Assignment, error) {
	var a ir.Assignment
	var leafID, rootID string
	var instanceID sql.NullString
	if err := s.Scan(&leafID, &rootID, &instanceID, &a.Version); err != nil {
		return ir.Assignment{}, err
	}
	a.LeafID = ir.NodeID(leafID)
	a.RootID = ir.NodeID(rootID)
	if instanceID.Valid {
		a.InstanceID = ir.InstancePtr(ir.InstanceID(instanceID.String))
	}
	return a, nil
}
