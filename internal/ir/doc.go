// Package ir provides the shared vocabulary of the relation engine.
//
// This package contains type definitions only: nodes, ranges, shift plans,
// assignments, receipts and the typed rejection errors. All other internal
// packages import ir; ir imports nothing internal.
//
// Key design constraints:
//   - Sequence numbers (left/right) are int64 and only ever compared, never
//     derived from parent pointers
//   - Payload references are NFC-normalised before they are compared or stored
//   - All JSON tags use snake_case
//   - Receipt identities are content-addressed (see hash.go)
package ir
