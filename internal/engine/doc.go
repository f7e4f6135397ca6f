// Package engine is the relation engine facade.
//
// Every request runs through the same state machine:
//
//	Received -> Validating -> Rejected
//	                       -> Committing -> Committed
//	                                     -> Aborted
//
// Validation and the write happen inside one storage transaction, so a
// rejected or aborted request never leaves a partial change behind.
//
// Structural mutations (create, insert, detach, finalize) on one tree are
// serialised by an in-process lock per root plus a conditional bump of the
// root's structural version in storage, which also catches writers in
// other processes. Assignment changes take no lock; the slot version and
// the per-root instance uniqueness rule settle their conflicts.
//
// Reads never lock. Each read runs in its own storage snapshot.
package engine
