package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// The version suffix leaves room for a future algorithm migration.
const (
	DomainMutation   = "bomrel/mutation/v1"
	DomainAssignment = "bomrel/assignment/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
// The null byte keeps the domain/data boundary unambiguous.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// MutationID computes the content-addressed id of a committed structural
// mutation. The struct version makes ids unique per tree even when the same
// edit is repeated after being undone.
func MutationID(r MutationReceipt) (string, error) {
	inserted := make([]any, len(r.Inserted))
	for i, id := range r.Inserted {
		inserted[i] = string(id)
	}
	obj := map[string]any{
		"op":             r.Op,
		"root_id":        r.RootID,
		"node_id":        r.NodeID,
		"left":           r.Range.Left,
		"right":          r.Range.Right,
		"shift_from":     r.Plan.From,
		"shift_delta":    r.Plan.Delta,
		"struct_version": r.StructVersion,
		"inserted":       inserted,
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("MutationID: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainMutation, canonical), nil
}

// AssignmentID computes the content-addressed id of a committed assignment change.
func AssignmentID(r AssignmentReceipt) (string, error) {
	obj := map[string]any{
		"leaf_id":  r.LeafID,
		"root_id":  r.RootID,
		"previous": instanceOrEmpty(r.Previous),
		"current":  instanceOrEmpty(r.Current),
		"version":  r.Version,
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("AssignmentID: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainAssignment, canonical), nil
}

// MustMutationID is like MutationID but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustMutationID(r MutationReceipt) string {
	id, err := MutationID(r)
	if err != nil {
		panic(err)
	}
	return id
}

func instanceOrEmpty(id *InstanceID) string {
	if id == nil {
		return ""
	}
	return string(*id)
}
