package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"github.com/isb2026/bomrel/internal/ir"
	"github.com/isb2026/bomrel/internal/store"
)

// InsertNodes stores new node rows in the given order.
func (t *tx) InsertNodes(ctx context.Context, nodes []ir.Node) error {
	stmt, err := t.tx.PrepareContext(ctx, `
		INSERT INTO nodes
		(id, root_id, parent_id, lft, rgt, kind, payload_ref, sort_order, detached)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0)
	`)
	if err != nil {
		return fmt.Errorf("prepare insert nodes: %w", err)
	}
	defer stmt.Close()

	for _, n := range nodes {
		var parent sql.NullString
		if n.ParentID != nil {
			parent = sql.NullString{String: string(*n.ParentID), Valid: true}
		}
		_, err := stmt.ExecContext(ctx,
			string(n.ID),
			string(n.RootID),
			parent,
			n.Left,
			n.Right,
			string(n.Kind),
			string(n.Payload),
			n.Order,
		)
		if err != nil {
			return fmt.Errorf("insert node %s: %w", n.ID, mapError(err))
		}
	}
	return nil
}

// ApplyShift moves live nodes of the plan's tree.
//
// For a positive delta rgt is moved before lft, for a negative delta lft
// before rgt, so the lft < rgt check holds on every intermediate row.
func (t *tx) ApplyShift(ctx context.Context, plan ir.ShiftPlan) (int, error) {
	if plan.IsNoop() {
		return 0, nil
	}

	var moved int
	err := t.tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM nodes
		WHERE root_id = ? AND detached = 0 AND rgt >= ?
	`, string(plan.RootID), plan.From).Scan(&moved)
	if err != nil {
		return 0, fmt.Errorf("count shifted nodes: %w", err)
	}

	shiftRight := `UPDATE nodes SET rgt = rgt + ? WHERE root_id = ? AND detached = 0 AND rgt >= ?`
	shiftLeft := `UPDATE nodes SET lft = lft + ? WHERE root_id = ? AND detached = 0 AND lft >= ?`
	order := []string{shiftRight, shiftLeft}
	if plan.Delta < 0 {
		order = []string{shiftLeft, shiftRight}
	}

	for _, q := range order {
		if _, err := t.tx.ExecContext(ctx, q, plan.Delta, string(plan.RootID), plan.From); err != nil {
			return 0, fmt.Errorf("apply shift: %w", mapError(err))
		}
	}
	return moved, nil
}

// MarkDetached tombstones live nodes with lft inside [left, right].
func (t *tx) MarkDetached(ctx context.Context, rootID ir.NodeID, left, right int64) (int, error) {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE nodes SET detached = 1
		WHERE root_id = ? AND detached = 0 AND lft BETWEEN ? AND ?
	`, string(rootID), left, right)
	if err != nil {
		return 0, fmt.Errorf("mark detached: %w", mapError(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mark detached: %w", err)
	}
	return int(n), nil
}

// CreateRoot registers a new tree.
func (t *tx) CreateRoot(ctx context.Context, root ir.Root) error {
	status := root.Status
	if status == "" {
		status = ir.RootDraft
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO roots (root_id, status, struct_version)
		VALUES (?, ?, 0)
	`, string(root.ID), string(status))
	if err != nil {
		return fmt.Errorf("create root %s: %w", root.ID, mapError(err))
	}
	return nil
}

// BumpRoot is the storage-level conditional write on the structural version.
func (t *tx) BumpRoot(ctx context.Context, rootID ir.NodeID, expected int64, status ir.RootStatus) (ir.Root, error) {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE roots SET struct_version = struct_version + 1, status = ?
		WHERE root_id = ? AND struct_version = ?
	`, string(status), string(rootID), expected)
	if err != nil {
		return ir.Root{}, fmt.Errorf("bump root %s: %w", rootID, mapError(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return ir.Root{}, fmt.Errorf("bump root %s: %w", rootID, err)
	}
	if n == 0 {
		return ir.Root{}, fmt.Errorf("root %s at version %d: %w", rootID, expected, store.ErrConflict)
	}
	return ir.Root{ID: rootID, Status: status, StructVersion: expected + 1}, nil
}

// PutAssignment writes an assignment with a version compare-and-set.
func (t *tx) PutAssignment(ctx context.Context, a ir.Assignment, expected int64) error {
	var instance sql.NullString
	if a.InstanceID != nil {
		instance = sql.NullString{String: string(*a.InstanceID), Valid: true}
	}

	if expected == 0 {
		_, err := t.tx.ExecContext(ctx, `
			INSERT INTO assignments (leaf_id, root_id, instance_id, version)
			VALUES (?, ?, ?, ?)
		`, string(a.LeafID), string(a.RootID), instance, a.Version)
		if err != nil {
			return fmt.Errorf("insert assignment %s: %w", a.LeafID, mapError(err))
		}
		return nil
	}

	res, err := t.tx.ExecContext(ctx, `
		UPDATE assignments SET instance_id = ?, version = ?
		WHERE leaf_id = ? AND version = ?
	`, instance, a.Version, string(a.LeafID), expected)
	if err != nil {
		return fmt.Errorf("update assignment %s: %w", a.LeafID, mapError(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update assignment %s: %w", a.LeafID, err)
	}
	if n == 0 {
		return fmt.Errorf("assignment %s at version %d: %w", a.LeafID, expected, store.ErrConflict)
	}
	return nil
}

// mapError translates driver errors into store sentinels. The driver error
// stays in the chain for diagnostics.
func mapError(err error) error {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return err
	}
	switch {
	case se.ExtendedCode == sqlite3.ErrConstraintUnique:
		return fmt.Errorf("%w: %w", store.ErrUniqueViolation, err)
	case se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey:
		return fmt.Errorf("%w: %w", store.ErrConflict, err)
	case se.Code == sqlite3.ErrBusy, se.Code == sqlite3.ErrLocked:
		return fmt.Errorf("%w: %w", store.ErrConflict, err)
	default:
		return err
	}
}
