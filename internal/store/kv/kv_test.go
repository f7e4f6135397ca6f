package kv

import (
	"context"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isb2026/bomrel/internal/ir"
	"github.com/isb2026/bomrel/internal/store"
	"github.com/isb2026/bomrel/internal/store/storetest"
)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Backend {
		s, err := OpenInMemory()
		require.NoError(t, err)
		return s
	})
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}

func TestPersistentReopen(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.GCInterval = 0

	s, err := Open(cfg)
	require.NoError(t, err)
	storetest.SeedTree(t, s)
	require.NoError(t, s.Close())

	s, err = Open(cfg)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.View(context.Background(), func(r store.Reader) error {
		nodes, err := r.TreeNodes(context.Background(), "R")
		require.NoError(t, err)
		assert.Len(t, nodes, 5)
		return nil
	}))
}

func TestConcurrentBumpConflicts(t *testing.T) {
	s, err := OpenInMemory()
	require.NoError(t, err)
	defer s.Close()
	storetest.SeedTree(t, s)
	ctx := context.Background()

	// Interleave two transactions by hand: both read version 0, the
	// second commit must lose.
	txn1 := s.db.NewTransaction(true)
	defer txn1.Discard()
	txn2 := s.db.NewTransaction(true)
	defer txn2.Discard()

	_, err = (&tx{txn: txn1}).BumpRoot(ctx, "R", 0, ir.RootDraft)
	require.NoError(t, err)
	_, err = (&tx{txn: txn2}).BumpRoot(ctx, "R", 0, ir.RootDraft)
	require.NoError(t, err)

	require.NoError(t, txn1.Commit())
	assert.Error(t, txn2.Commit())
}

func leftIndex(t *testing.T, s *Store, root ir.NodeID) []string {
	t.Helper()
	var keys []string
	require.NoError(t, s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = leftPrefix(root)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, string(it.Item().KeyCopy(nil)))
		}
		return nil
	}))
	return keys
}

func TestLeftIndexFollowsShiftAndDetach(t *testing.T) {
	s, err := OpenInMemory()
	require.NoError(t, err)
	defer s.Close()
	storetest.SeedTree(t, s)
	ctx := context.Background()

	assert.Equal(t, []string{
		string(leftKey("R", 1, "R")),
		string(leftKey("R", 2, "P")),
		string(leftKey("R", 3, "L1")),
		string(leftKey("R", 5, "L2")),
		string(leftKey("R", 8, "S")),
	}, leftIndex(t, s, "R"))

	// Detach P [2,7]: its rows leave the index, S moves from 8 to 2.
	require.NoError(t, s.Update(ctx, func(w store.Writer) error {
		n, err := w.MarkDetached(ctx, "R", 2, 7)
		require.NoError(t, err)
		assert.Equal(t, 3, n)
		moved, err := w.ApplyShift(ctx, ir.ShiftPlan{RootID: "R", From: 8, Delta: -6})
		require.NoError(t, err)
		assert.Equal(t, 2, moved)
		return nil
	}))

	assert.Equal(t, []string{
		string(leftKey("R", 1, "R")),
		string(leftKey("R", 2, "S")),
	}, leftIndex(t, s, "R"))

	require.NoError(t, s.View(ctx, func(r store.Reader) error {
		sub, err := r.Subtree(ctx, "R", 2, 3)
		require.NoError(t, err)
		require.Len(t, sub, 1)
		assert.Equal(t, ir.NodeID("S"), sub[0].ID)
		assert.Equal(t, ir.Range{Left: 2, Right: 3}, sub[0].Range())

		anc, err := r.Ancestors(ctx, "R", 2, 3)
		require.NoError(t, err)
		require.Len(t, anc, 1)
		assert.Equal(t, ir.Range{Left: 1, Right: 4}, anc[0].Range())

		p, err := r.GetNode(ctx, "P")
		require.NoError(t, err)
		assert.True(t, p.Detached)
		assert.Equal(t, ir.Range{Left: 2, Right: 7}, p.Range(), "tombstones keep their range")
		return nil
	}))
}
