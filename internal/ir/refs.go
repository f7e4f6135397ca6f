package ir

import (
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// PayloadRef is an opaque reference to the domain object a node denotes
// (a product, a process, a material line, a mold BOM slot).
//
// Conventional format is "<kind>:<id>" such as "item:1042" or "process:7",
// but the engine only ever compares refs for equality.
type PayloadRef string

// NormalizePayload trims surrounding space and applies NFC normalisation so
// that visually identical refs compare equal. An empty ref is an error.
func NormalizePayload(raw string) (PayloadRef, error) {
	s := norm.NFC.String(strings.TrimSpace(raw))
	if s == "" {
		return "", fmt.Errorf("payload ref is empty")
	}
	return PayloadRef(s), nil
}

// Kind returns the part before the first colon, or "" when the ref has no
// kind prefix.
func (p PayloadRef) Kind() string {
	k, _, ok := strings.Cut(string(p), ":")
	if !ok {
		return ""
	}
	return k
}

// String implements fmt.Stringer.
func (p PayloadRef) String() string {
	return string(p)
}

// NodeIDPtr returns a pointer to id. Used for parent references.
func NodeIDPtr(id NodeID) *NodeID {
	return &id
}

// InstancePtr returns a pointer to id, or nil when id is empty.
func InstancePtr(id InstanceID) *InstanceID {
	if id == "" {
		return nil
	}
	return &id
}
