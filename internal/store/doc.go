// Package store defines the storage contract of the relation engine.
//
// A tree is persisted as flat rows:
//   - nodes: one row per node with its nested-set range, parent pointer,
//     kind, payload ref and a tombstone flag
//   - roots: one row per tree with its lifecycle status and structural
//     version
//   - assignments: one row per leaf that was ever assigned, carrying the
//     current instance (or none) and a monotonic version
//
// # Critical Patterns
//
// Single transaction per mutation: every structural change (shift, insert,
// tombstone, cascading unassign, root version bump) is applied through one
// Writer inside Backend.Update. Returning an error from the callback rolls
// the whole change back.
//
// Conditional writes: BumpRoot and PutAssignment compare the stored version
// before writing and report ErrConflict when another writer got there
// first. This is what serialises writers living in different processes.
//
// Deterministic reads: structural queries are ordered by Left, assignment
// queries by leaf id.
//
// Two backends implement the contract: store/sqlite (relational, the
// default) and store/kv (embedded Badger key-value store). The shared
// conformance suite lives in store/storetest.
package store
