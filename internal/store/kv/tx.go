package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/isb2026/bomrel/internal/ir"
	"github.com/isb2026/bomrel/internal/nestedset"
	"github.com/isb2026/bomrel/internal/store"
)

func rootKey(id ir.NodeID) []byte { return []byte("root/" + string(id)) }
func nodeKey(id ir.NodeID) []byte { return []byte("node/" + string(id)) }
func asgKey(id ir.NodeID) []byte { return []byte("asg/" + string(id)) }
func treePrefix(root ir.NodeID) []byte {
	return []byte("tree/" + string(root) + "/")
}
func childPrefix(parent ir.NodeID) []byte {
	return []byte("child/" + string(parent) + "/")
}
func instKey(root ir.NodeID, inst ir.InstanceID) []byte {
	return []byte("inst/" + string(root) + "/" + string(inst))
}

// The left index holds one key per live node, lft/<root>/<left>/<id>, with
// left zero-padded so key order is Left order. Tombstones are not indexed.
const leftWidth = 20

func leftPrefix(root ir.NodeID) []byte {
	return []byte("lft/" + string(root) + "/")
}
func leftKey(root ir.NodeID, left int64, id ir.NodeID) []byte {
	return []byte(fmt.Sprintf("lft/%s/%0*d/%s", root, leftWidth, left, id))
}
func leftSeek(root ir.NodeID, left int64) []byte {
	return []byte(fmt.Sprintf("lft/%s/%0*d", root, leftWidth, left))
}

// tx implements store.Writer over one Badger transaction.
type tx struct {
	txn *badger.Txn
}

var _ store.Writer = (*tx)(nil)

func (t *tx) getJSON(key []byte, v any) error {
	item, err := t.txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return store.ErrNotFound
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func (t *tx) putJSON(key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return t.txn.Set(key, data)
}

// suffixes returns the key suffixes under prefix in key order.
func (t *tx) suffixes(prefix []byte) []string {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := t.txn.NewIterator(opts)
	defer it.Close()

	var out []string
	for it.Rewind(); it.Valid(); it.Next() {
		out = append(out, strings.TrimPrefix(string(it.Item().Key()), string(prefix)))
	}
	return out
}

// GetNode returns a node by id, including detached rows.
func (t *tx) GetNode(ctx context.Context, id ir.NodeID) (ir.Node, error) {
	var n ir.Node
	if err := t.getJSON(nodeKey(id), &n); err != nil {
		return ir.Node{}, fmt.Errorf("node %s: %w", id, err)
	}
	return n, nil
}

// GetRoot returns the bookkeeping row of a tree.
func (t *tx) GetRoot(ctx context.Context, rootID ir.NodeID) (ir.Root, error) {
	var r ir.Root
	if err := t.getJSON(rootKey(rootID), &r); err != nil {
		return ir.Root{}, fmt.Errorf("root %s: %w", rootID, err)
	}
	return r, nil
}

// ListRoots returns every tree ordered by id.
func (t *tx) ListRoots(ctx context.Context) ([]ir.Root, error) {
	var roots []ir.Root
	for _, id := range t.suffixes([]byte("root/")) {
		r, err := t.GetRoot(ctx, ir.NodeID(id))
		if err != nil {
			return nil, err
		}
		roots = append(roots, r)
	}
	return roots, nil
}

// allNodes loads every row of a tree, live or detached.
func (t *tx) allNodes(ctx context.Context, rootID ir.NodeID) ([]ir.Node, error) {
	var nodes []ir.Node
	for _, id := range t.suffixes(treePrefix(rootID)) {
		n, err := t.GetNode(ctx, ir.NodeID(id))
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

// liveIDs walks the left index of rootID from Left = from up to and
// including Left = to, in Left order. to < 0 means no upper bound.
func (t *tx) liveIDs(rootID ir.NodeID, from, to int64) ([]ir.NodeID, error) {
	prefix := leftPrefix(rootID)
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := t.txn.NewIterator(opts)
	defer it.Close()

	var ids []ir.NodeID
	for it.Seek(leftSeek(rootID, from)); it.Valid(); it.Next() {
		rest := strings.TrimPrefix(string(it.Item().Key()), string(prefix))
		if len(rest) <= leftWidth || rest[leftWidth] != '/' {
			return nil, fmt.Errorf("malformed left index key %q", it.Item().Key())
		}
		left, err := strconv.ParseInt(rest[:leftWidth], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed left index key %q: %w", it.Item().Key(), err)
		}
		if to >= 0 && left > to {
			break
		}
		ids = append(ids, ir.NodeID(rest[leftWidth+1:]))
	}
	return ids, nil
}

// liveNodes loads the live nodes with Left in [from, to] that keep accepts.
func (t *tx) liveNodes(ctx context.Context, rootID ir.NodeID, from, to int64, keep func(ir.Node) bool) ([]ir.Node, error) {
	ids, err := t.liveIDs(rootID, from, to)
	if err != nil {
		return nil, err
	}
	var out []ir.Node
	for _, id := range ids {
		n, err := t.GetNode(ctx, id)
		if err != nil {
			return nil, err
		}
		if keep == nil || keep(n) {
			out = append(out, n)
		}
	}
	return out, nil
}

// TreeNodes returns every live node of a tree ordered by Left.
func (t *tx) TreeNodes(ctx context.Context, rootID ir.NodeID) ([]ir.Node, error) {
	return t.liveNodes(ctx, rootID, 0, -1, nil)
}

// Subtree returns live nodes whose Left falls inside [left, right].
func (t *tx) Subtree(ctx context.Context, rootID ir.NodeID, left, right int64) ([]ir.Node, error) {
	return t.liveNodes(ctx, rootID, left, right, nil)
}

// Ancestors returns live nodes whose range strictly contains [left, right].
// Only nodes left of the range are read.
func (t *tx) Ancestors(ctx context.Context, rootID ir.NodeID, left, right int64) ([]ir.Node, error) {
	return t.liveNodes(ctx, rootID, 0, left-1, func(n ir.Node) bool {
		return n.Right > right
	})
}

// Children returns live direct children ordered by Left.
func (t *tx) Children(ctx context.Context, parentID ir.NodeID) ([]ir.Node, error) {
	var out []ir.Node
	for _, id := range t.suffixes(childPrefix(parentID)) {
		n, err := t.GetNode(ctx, ir.NodeID(id))
		if err != nil {
			return nil, err
		}
		if !n.Detached {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Left < out[j].Left })
	return out, nil
}

// GetAssignment returns the assignment row of a leaf.
func (t *tx) GetAssignment(ctx context.Context, leafID ir.NodeID) (ir.Assignment, error) {
	var a ir.Assignment
	if err := t.getJSON(asgKey(leafID), &a); err != nil {
		return ir.Assignment{}, fmt.Errorf("assignment %s: %w", leafID, err)
	}
	return a, nil
}

// AssignmentByInstance finds the leaf of a root holding an instance.
func (t *tx) AssignmentByInstance(ctx context.Context, rootID ir.NodeID, instanceID ir.InstanceID) (ir.Assignment, error) {
	item, err := t.txn.Get(instKey(rootID, instanceID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ir.Assignment{}, fmt.Errorf("instance %s in root %s: %w", instanceID, rootID, store.ErrNotFound)
	}
	if err != nil {
		return ir.Assignment{}, fmt.Errorf("find instance %s: %w", instanceID, err)
	}
	leaf, err := item.ValueCopy(nil)
	if err != nil {
		return ir.Assignment{}, fmt.Errorf("find instance %s: %w", instanceID, err)
	}
	return t.GetAssignment(ctx, ir.NodeID(leaf))
}

// AssignmentsForRoot returns every assignment row of a tree ordered by leaf id.
func (t *tx) AssignmentsForRoot(ctx context.Context, rootID ir.NodeID) ([]ir.Assignment, error) {
	all, err := t.allNodes(ctx, rootID)
	if err != nil {
		return nil, err
	}
	var out []ir.Assignment
	for _, n := range all {
		if n.Kind != ir.KindLeaf {
			continue
		}
		a, err := t.GetAssignment(ctx, n.ID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LeafID < out[j].LeafID })
	return out, nil
}

// InsertNodes stores new rows and their index entries.
func (t *tx) InsertNodes(ctx context.Context, nodes []ir.Node) error {
	for _, n := range nodes {
		if _, err := t.txn.Get(nodeKey(n.ID)); err == nil {
			return fmt.Errorf("insert node %s: %w", n.ID, store.ErrConflict)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("insert node %s: %w", n.ID, err)
		}
		if err := t.putJSON(nodeKey(n.ID), n); err != nil {
			return fmt.Errorf("insert node %s: %w", n.ID, err)
		}
		if err := t.txn.Set(append(treePrefix(n.RootID), string(n.ID)...), nil); err != nil {
			return fmt.Errorf("index node %s: %w", n.ID, err)
		}
		if !n.Detached {
			if err := t.txn.Set(leftKey(n.RootID, n.Left, n.ID), nil); err != nil {
				return fmt.Errorf("index node %s: %w", n.ID, err)
			}
		}
		if n.ParentID != nil {
			if err := t.txn.Set(append(childPrefix(*n.ParentID), string(n.ID)...), nil); err != nil {
				return fmt.Errorf("index node %s: %w", n.ID, err)
			}
		}
	}
	return nil
}

// ApplyShift rewrites every live row the plan moves and re-keys the left
// index of rows whose Left changes.
func (t *tx) ApplyShift(ctx context.Context, plan ir.ShiftPlan) (int, error) {
	if plan.IsNoop() {
		return 0, nil
	}
	nodes, err := t.liveNodes(ctx, plan.RootID, 0, -1, func(n ir.Node) bool { return n.Right >= plan.From })
	if err != nil {
		return 0, fmt.Errorf("apply shift: %w", err)
	}
	byID := make(map[ir.NodeID]ir.Node, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}

	shifts := nestedset.Materialize(plan, nodes)
	for _, s := range shifts {
		old := byID[s.NodeID]
		n := nestedset.Apply(plan, old)
		if s.LeftDelta != 0 {
			if err := t.txn.Delete(leftKey(old.RootID, old.Left, old.ID)); err != nil {
				return 0, fmt.Errorf("unindex %s: %w", n.ID, err)
			}
			if err := t.txn.Set(leftKey(n.RootID, n.Left, n.ID), nil); err != nil {
				return 0, fmt.Errorf("index %s: %w", n.ID, err)
			}
		}
		if err := t.putJSON(nodeKey(n.ID), n); err != nil {
			return 0, fmt.Errorf("apply shift to %s: %w", n.ID, err)
		}
	}
	return len(shifts), nil
}

// MarkDetached tombstones live nodes with Left inside [left, right].
func (t *tx) MarkDetached(ctx context.Context, rootID ir.NodeID, left, right int64) (int, error) {
	nodes, err := t.Subtree(ctx, rootID, left, right)
	if err != nil {
		return 0, fmt.Errorf("mark detached: %w", err)
	}
	for _, n := range nodes {
		if err := t.txn.Delete(leftKey(n.RootID, n.Left, n.ID)); err != nil {
			return 0, fmt.Errorf("unindex %s: %w", n.ID, err)
		}
		n.Detached = true
		if err := t.putJSON(nodeKey(n.ID), n); err != nil {
			return 0, fmt.Errorf("mark detached %s: %w", n.ID, err)
		}
	}
	return len(nodes), nil
}

// CreateRoot registers a new tree.
func (t *tx) CreateRoot(ctx context.Context, root ir.Root) error {
	if _, err := t.txn.Get(rootKey(root.ID)); err == nil {
		return fmt.Errorf("create root %s: %w", root.ID, store.ErrConflict)
	}
	if root.Status == "" {
		root.Status = ir.RootDraft
	}
	root.StructVersion = 0
	if err := t.putJSON(rootKey(root.ID), root); err != nil {
		return fmt.Errorf("create root %s: %w", root.ID, err)
	}
	return nil
}

// BumpRoot is the conditional write on the structural version. Badger's
// conflict detection covers writers in other transactions; the compare
// covers stale callers.
func (t *tx) BumpRoot(ctx context.Context, rootID ir.NodeID, expected int64, status ir.RootStatus) (ir.Root, error) {
	r, err := t.GetRoot(ctx, rootID)
	if err != nil {
		return ir.Root{}, fmt.Errorf("bump root: %w", err)
	}
	if r.StructVersion != expected {
		return ir.Root{}, fmt.Errorf("root %s at version %d: %w", rootID, expected, store.ErrConflict)
	}
	r.StructVersion++
	r.Status = status
	if err := t.putJSON(rootKey(rootID), r); err != nil {
		return ir.Root{}, fmt.Errorf("bump root %s: %w", rootID, err)
	}
	return r, nil
}

// PutAssignment writes an assignment with a version compare-and-set and
// maintains the per-root instance index.
func (t *tx) PutAssignment(ctx context.Context, a ir.Assignment, expected int64) error {
	prev, err := t.GetAssignment(ctx, a.LeafID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		if expected != 0 {
			return fmt.Errorf("assignment %s missing at version %d: %w", a.LeafID, expected, store.ErrConflict)
		}
	case err != nil:
		return err
	case prev.Version != expected:
		return fmt.Errorf("assignment %s at version %d: %w", a.LeafID, expected, store.ErrConflict)
	}

	if a.InstanceID != nil {
		held, err := t.AssignmentByInstance(ctx, a.RootID, *a.InstanceID)
		if err == nil && held.LeafID != a.LeafID {
			return fmt.Errorf("instance %s held by %s: %w", *a.InstanceID, held.LeafID, store.ErrUniqueViolation)
		}
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
	}

	if prev.InstanceID != nil && (a.InstanceID == nil || *prev.InstanceID != *a.InstanceID) {
		if err := t.txn.Delete(instKey(prev.RootID, *prev.InstanceID)); err != nil {
			return fmt.Errorf("unindex instance %s: %w", *prev.InstanceID, err)
		}
	}
	if a.InstanceID != nil {
		if err := t.txn.Set(instKey(a.RootID, *a.InstanceID), []byte(a.LeafID)); err != nil {
			return fmt.Errorf("index instance %s: %w", *a.InstanceID, err)
		}
	}
	if err := t.putJSON(asgKey(a.LeafID), a); err != nil {
		return fmt.Errorf("put assignment %s: %w", a.LeafID, err)
	}
	return nil
}
