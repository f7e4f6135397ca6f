package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/isb2026/bomrel/internal/ir"
)

// Scenario is a scripted sequence of engine operations with expected
// outcomes and final-state assertions.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Backend selects the storage engine: "sqlite" (default) or "badger".
	Backend string `yaml:"backend,omitempty"`

	// Setup steps establish initial trees. Every setup step must succeed.
	Setup []Step `yaml:"setup,omitempty"`

	// Flow is the main sequence. Steps may carry an expect clause.
	Flow []Step `yaml:"flow"`

	// Assertions validate the final state.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one engine operation.
type Step struct {
	// Op is one of the Op* constants.
	Op string `yaml:"op"`

	Root     string `yaml:"root,omitempty"`
	Parent   string `yaml:"parent,omitempty"`
	Node     string `yaml:"node,omitempty"`
	Leaf     string `yaml:"leaf,omitempty"`
	Instance string `yaml:"instance,omitempty"`

	// Payload is the candidate ref for a check step.
	Payload string `yaml:"payload,omitempty"`

	// ExpectVersion is the optimistic version for assignment ops.
	ExpectVersion *int64 `yaml:"expect_version,omitempty"`

	// Subtree is the input of create_tree and insert.
	Subtree *ir.NewSubtree `yaml:"subtree,omitempty"`

	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause specifies the expected step outcome.
type ExpectClause struct {
	// Code is "ok", "accept", or a rejection code such as CYCLE_DETECTED.
	Code string `yaml:"code"`

	// Range is the expected committed range of a structural op.
	Range []int64 `yaml:"range,omitempty"`

	// Version is the expected struct version (structural ops) or slot
	// version (assignment ops) after the commit.
	Version *int64 `yaml:"version,omitempty"`
}

// Assertion validates final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	Root     string `yaml:"root,omitempty"`
	Node     string `yaml:"node,omitempty"`
	Leaf     string `yaml:"leaf,omitempty"`
	Instance string `yaml:"instance,omitempty"`

	// Range is the expected [left, right] of node (node_range).
	Range []int64 `yaml:"range,omitempty"`

	// Status is the expected root status (root_status).
	Status string `yaml:"status,omitempty"`

	// Version is the expected struct version (root_status) or slot
	// version (assignment).
	Version *int64 `yaml:"version,omitempty"`

	// Op and Code select trace events (trace_count).
	Op   string `yaml:"op,omitempty"`
	Code string `yaml:"code,omitempty"`

	// Count is the expected number of live nodes (tree_size) or trace
	// events (trace_count).
	Count int `yaml:"count,omitempty"`
}

// Step operations.
const (
	OpCreateTree = "create_tree"
	OpInsert     = "insert"
	OpDetach     = "detach"
	OpFinalize   = "finalize"
	OpAssign     = "assign"
	OpReassign   = "reassign"
	OpUnassign   = "unassign"
	OpCheck      = "check"
)

// Assertion types.
const (
	AssertNodeRange  = "node_range"
	AssertDetached   = "detached"
	AssertAssignment = "assignment"
	AssertRootStatus = "root_status"
	AssertVerify     = "verify"
	AssertTreeSize   = "tree_size"
	AssertTraceCount = "trace_count"
)

// Step outcome codes that are not rejection codes.
const (
	CodeOK     = "ok"
	CodeAccept = "accept"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML from memory.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	switch s.Backend {
	case "", "sqlite", "badger":
	default:
		return fmt.Errorf("unknown backend %q", s.Backend)
	}

	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Setup {
		if err := validateStep(fmt.Sprintf("setup[%d]", i), &step); err != nil {
			return err
		}
		if step.Expect != nil {
			return fmt.Errorf("setup[%d]: setup steps cannot carry expect", i)
		}
	}

	for i, step := range s.Flow {
		if err := validateStep(fmt.Sprintf("flow[%d]", i), &step); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

// validateStep checks the arguments each op needs.
func validateStep(where string, st *Step) error {
	need := func(field, value string) error {
		if value == "" {
			return fmt.Errorf("%s: %s is required for %s", where, field, st.Op)
		}
		return nil
	}

	var err error
	switch st.Op {
	case OpCreateTree:
		if st.Subtree == nil {
			err = fmt.Errorf("%s: subtree is required for %s", where, st.Op)
		}
	case OpInsert:
		err = need("parent", st.Parent)
		if err == nil && st.Subtree == nil {
			err = fmt.Errorf("%s: subtree is required for %s", where, st.Op)
		}
	case OpDetach:
		err = need("node", st.Node)
	case OpFinalize:
		err = need("root", st.Root)
	case OpAssign, OpReassign:
		if err = need("leaf", st.Leaf); err == nil {
			err = need("instance", st.Instance)
		}
	case OpUnassign:
		err = need("leaf", st.Leaf)
	case OpCheck:
		if err = need("parent", st.Parent); err == nil {
			err = need("payload", st.Payload)
		}
	case "":
		return fmt.Errorf("%s: op is required", where)
	default:
		return fmt.Errorf("%s: unknown op %q", where, st.Op)
	}
	if err != nil {
		return err
	}

	if st.Expect != nil {
		if st.Expect.Code == "" {
			return fmt.Errorf("%s.expect: code is required", where)
		}
		if st.Expect.Range != nil && len(st.Expect.Range) != 2 {
			return fmt.Errorf("%s.expect: range must be [left, right]", where)
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertNodeRange:
		if a.Node == "" {
			return fmt.Errorf("assertions[%d]: node is required for node_range", index)
		}
		if len(a.Range) != 2 {
			return fmt.Errorf("assertions[%d]: range must be [left, right]", index)
		}
	case AssertDetached:
		if a.Node == "" {
			return fmt.Errorf("assertions[%d]: node is required for detached", index)
		}
	case AssertAssignment:
		if a.Leaf == "" {
			return fmt.Errorf("assertions[%d]: leaf is required for assignment", index)
		}
	case AssertRootStatus:
		if a.Root == "" || a.Status == "" {
			return fmt.Errorf("assertions[%d]: root and status are required for root_status", index)
		}
	case AssertVerify:
		if a.Root == "" {
			return fmt.Errorf("assertions[%d]: root is required for verify", index)
		}
	case AssertTreeSize:
		if a.Root == "" {
			return fmt.Errorf("assertions[%d]: root is required for tree_size", index)
		}
		if a.Count <= 0 {
			return fmt.Errorf("assertions[%d]: count must be positive for tree_size", index)
		}
	case AssertTraceCount:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: op is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
