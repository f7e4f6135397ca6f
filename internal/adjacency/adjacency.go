// Package adjacency converts legacy parent/child BOM rows into a subtree
// the engine can store as a new tree.
//
// Legacy rows are edges "parent item -> item" with an optional sibling
// order. The edge list must describe exactly one rooted hierarchy: a
// single finished product with no parent and no cycles.
// An item used under several parents is expanded once per use.
package adjacency

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/isb2026/bomrel/internal/ir"
)

// DefaultPayloadKind prefixes item ids when turning them into payload refs.
const DefaultPayloadKind = "item"

// Edge is one legacy BOM row. Parent is empty for the finished product.
type Edge struct {
	Parent string      `yaml:"parent,omitempty" json:"parent,omitempty"`
	Item   string      `yaml:"item" json:"item"`
	Kind   ir.NodeKind `yaml:"kind,omitempty" json:"kind,omitempty"`
	Order  int64       `yaml:"order,omitempty" json:"order,omitempty"`
}

// File is the on-disk import format.
type File struct {
	// PayloadKind is the prefix of every payload ref, "item" when empty.
	PayloadKind string `yaml:"payload_kind,omitempty"`
	Edges       []Edge `yaml:"edges"`
}

// Parse decodes an import file. Unknown fields are rejected.
func Parse(r io.Reader) (File, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return File{}, fmt.Errorf("parse import file: %w", err)
	}
	if len(f.Edges) == 0 {
		return File{}, fmt.Errorf("parse import file: no edges")
	}
	return f, nil
}

// graph maps an item to its child edges, in sibling order.
type graph map[string][]Edge

// Build turns edges into a subtree rooted at the single parentless item.
// Payload refs are "<payloadKind>:<item>".
//
// Problems come back as *ir.RelationError: CYCLE_DETECTED for a cycle,
// DUPLICATE_PATH for a repeated edge, INVALID_SUBTREE for malformed rows
// or several roots. A parent that never appears as an item of its own
// counts as a root, so a dangling row surfaces as a second root.
//
// Shared items are copied once per use, so a few rows can describe a very
// large tree. Expansion stops with INVALID_SUBTREE as soon as it passes
// maxNodes; maxNodes <= 0 disables the limit.
func Build(edges []Edge, payloadKind string, maxNodes int) (ir.NewSubtree, error) {
	if payloadKind == "" {
		payloadKind = DefaultPayloadKind
	}

	g, roots, err := buildGraph(edges)
	if err != nil {
		return ir.NewSubtree{}, err
	}
	if cycle := findCycle(g); cycle != nil {
		return ir.NewSubtree{}, &ir.RelationError{
			Code:    ir.ErrCodeCycleDetected,
			Message: fmt.Sprintf("items form a cycle: %s", strings.Join(cycle, " -> ")),
			Payload: payloadRef(payloadKind, cycle[0]),
		}
	}

	switch len(roots) {
	case 0:
		return ir.NewSubtree{}, invalid("every item has a parent")
	case 1:
	default:
		return ir.NewSubtree{}, invalid(fmt.Sprintf("several items without a parent: %s", strings.Join(roots, ", ")))
	}
	root := roots[0]

	x := &expander{g: g, payloadKind: payloadKind, max: maxNodes}
	top, err := x.expand(Edge{Item: root})
	if err != nil {
		return ir.NewSubtree{}, err
	}
	top.Kind = ir.KindRoot
	return top, nil
}

func buildGraph(edges []Edge) (graph, []string, error) {
	g := make(graph)
	seen := make(map[[2]string]bool, len(edges))
	hasParent := make(map[string]bool, len(edges))

	for i, e := range edges {
		e.Item = strings.TrimSpace(e.Item)
		e.Parent = strings.TrimSpace(e.Parent)
		if e.Item == "" {
			return nil, nil, invalid(fmt.Sprintf("row %d: item is empty", i+1))
		}
		if _, ok := g[e.Item]; !ok {
			g[e.Item] = nil
		}
		if e.Parent == "" {
			continue
		}
		if e.Parent == e.Item {
			return nil, nil, &ir.RelationError{
				Code:    ir.ErrCodeCycleDetected,
				Message: fmt.Sprintf("row %d: %s is listed under itself", i+1, e.Item),
			}
		}
		key := [2]string{e.Parent, e.Item}
		if seen[key] {
			return nil, nil, &ir.RelationError{
				Code:    ir.ErrCodeDuplicatePath,
				Message: fmt.Sprintf("row %d: %s is listed twice under %s", i+1, e.Item, e.Parent),
			}
		}
		seen[key] = true
		hasParent[e.Item] = true
		g[e.Parent] = append(g[e.Parent], e)
	}

	// Roots are the items nothing points at, whether or not they have a
	// row of their own.
	var roots []string
	for item := range g {
		if !hasParent[item] {
			roots = append(roots, item)
		}
	}

	for item := range g {
		children := g[item]
		sort.SliceStable(children, func(a, b int) bool {
			if children[a].Order != children[b].Order {
				return children[a].Order < children[b].Order
			}
			return children[a].Item < children[b].Item
		})
	}
	sort.Strings(roots)
	return g, roots, nil
}

// expander builds subtrees from the graph, counting every node it emits.
type expander struct {
	g           graph
	payloadKind string
	max         int
	emitted     int
}

// expand builds the subtree below e. Shared items are copied per use.
func (x *expander) expand(e Edge) (ir.NewSubtree, error) {
	x.emitted++
	if x.max > 0 && x.emitted > x.max {
		return ir.NewSubtree{}, &ir.RelationError{
			Code:    ir.ErrCodeInvalidSubtree,
			Message: fmt.Sprintf("expanded tree exceeds %d nodes", x.max),
			Payload: payloadRef(x.payloadKind, e.Item),
		}
	}

	sub := ir.NewSubtree{
		Payload: string(payloadRef(x.payloadKind, e.Item)),
		Kind:    e.Kind,
		Order:   e.Order,
	}
	for _, child := range x.g[e.Item] {
		c, err := x.expand(child)
		if err != nil {
			return ir.NewSubtree{}, err
		}
		sub.Children = append(sub.Children, c)
	}
	if sub.Kind == ir.KindLeaf && len(sub.Children) > 0 {
		// A row marked LEAF that has children of its own is a BRANCH.
		sub.Kind = ir.KindBranch
	}
	return sub, nil
}

func payloadRef(kind, item string) ir.PayloadRef {
	return ir.PayloadRef(kind + ":" + item)
}

func invalid(msg string) *ir.RelationError {
	return &ir.RelationError{Code: ir.ErrCodeInvalidSubtree, Message: msg}
}
