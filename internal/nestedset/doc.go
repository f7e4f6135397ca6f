// Package nestedset implements the interval encoding of composition trees.
//
// Every live node of a tree owns a range [Left, Right]. A node's descendants
// are exactly the nodes whose ranges lie strictly inside its own, so ancestor
// and descendant questions are answered by comparing integers instead of
// walking parent pointers.
//
// All functions in this package are pure: they compute ranges and shift
// plans, and never touch storage. Callers apply plans inside one storage
// transaction.
//
// Inserting a subtree of k nodes reserves 2k positions at the right edge of
// the parent. Detaching a subtree closes its gap. The tree is never
// renumbered as a whole.
package nestedset
