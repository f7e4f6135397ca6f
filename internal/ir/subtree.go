package ir

// NewSubtree describes a fresh subtree to insert in one operation.
//
// It is a transient input shape only: the engine flattens it into rows with
// nested-set ranges and never keeps the pointer form around.
type NewSubtree struct {
	// ID optionally fixes the node id. Empty means the engine generates one.
	ID NodeID `json:"id,omitempty" yaml:"id,omitempty"`

	// Payload is the domain reference the node denotes.
	Payload string `json:"payload" yaml:"payload"`

	// Kind is optional. Nodes with children default to BRANCH, nodes
	// without children to LEAF. Set BRANCH explicitly for an empty branch.
	Kind NodeKind `json:"kind,omitempty" yaml:"kind,omitempty"`

	// Order is the display ordering hint among siblings. Zero means
	// "after the existing siblings".
	Order int64 `json:"order,omitempty" yaml:"order,omitempty"`

	Children []NewSubtree `json:"children,omitempty" yaml:"children,omitempty"`
}

// Size returns the number of nodes in the subtree, including its root.
func (s NewSubtree) Size() int {
	n := 1
	for _, c := range s.Children {
		n += c.Size()
	}
	return n
}

// Leaf is a convenience constructor for a childless subtree node.
func Leaf(payload string) NewSubtree {
	return NewSubtree{Payload: payload, Kind: KindLeaf}
}

// Branch is a convenience constructor for a subtree node with children.
func Branch(payload string, children ...NewSubtree) NewSubtree {
	return NewSubtree{Payload: payload, Kind: KindBranch, Children: children}
}
