// Package harness runs scripted engine scenarios as executable contract tests.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	backend: sqlite            # or badger
//	setup:
//	  - op: create_tree
//	    subtree: { id: R, payload: "item:R", children: [...] }
//	flow:
//	  - op: insert
//	    parent: P
//	    subtree: { payload: "item:NEW" }
//	    expect: { code: ok, range: [7, 8], version: 2 }
//	  - op: check
//	    parent: P
//	    payload: "item:R"
//	    expect: { code: CYCLE_DETECTED }
//	assertions:
//	  - type: node_range
//	    node: P
//	    range: [2, 9]
//	  - type: verify
//	    root: R
//
// # Operations
//
// create_tree, insert, detach, finalize, assign, reassign, unassign and
// check map one to one onto engine operations. A step's outcome code is
// "ok" for a commit, "accept" for a passing check, and the rejection code
// otherwise.
//
// # Assertion Types
//
//   - node_range: a live node sits at the given [left, right]
//   - detached: a node is tombstoned
//   - assignment: a leaf holds the given instance (empty means no instance)
//   - root_status: a root's status and, optionally, struct version
//   - verify: a root passes every nested-set check
//   - tree_size: a root has exactly count live nodes
//   - trace_count: count steps with the given op (and code) ran
//
// # Deterministic Testing
//
// Each run uses a fresh in-memory backend, generated ids "n1", "n2", ...
// and a step sequence counter, so snapshots are stable and can be compared
// against golden files with RunWithGolden.
package harness
