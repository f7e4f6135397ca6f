package harness

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/isb2026/bomrel/internal/engine"
	"github.com/isb2026/bomrel/internal/ir"
	"github.com/isb2026/bomrel/internal/store"
	"github.com/isb2026/bomrel/internal/store/kv"
	"github.com/isb2026/bomrel/internal/store/sqlite"
)

// Harness executes scenario steps against a real engine.
type Harness struct {
	engine *engine.Engine
	clock  *engine.Clock
}

// Option configures Run.
type Option func(*runConfig)

type runConfig struct {
	logger zerolog.Logger
}

// WithLogger routes engine logs to l. Runs are silent by default.
func WithLogger(l zerolog.Logger) Option {
	return func(c *runConfig) { c.logger = l }
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory backend with sequence ids
// ("n1", "n2", ...), so traces are reproducible across runs. Nodes with
// explicit ids in the scenario keep them.
//
// Execution flow:
// 1. Open a fresh in-memory backend
// 2. Execute setup steps, failing on any rejection
// 3. Execute flow steps with expect validation
// 4. Snapshot every tree and evaluate assertions
func Run(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	cfg := runConfig{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&cfg)
	}

	backend, err := openBackend(scenario.Backend)
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer backend.Close()

	h := &Harness{
		engine: engine.New(backend,
			engine.WithLogger(cfg.logger),
			engine.WithIDGenerator(engine.NewSequenceGenerator("n")),
		),
		clock: engine.NewClock(),
	}

	result := NewResult()
	for i, step := range scenario.Setup {
		ev, _, err := h.execute(ctx, step)
		if err != nil {
			return nil, fmt.Errorf("setup[%d]: %w", i, err)
		}
		result.AddEvent(ev)
		if ev.Code != CodeOK && ev.Code != CodeAccept {
			return nil, fmt.Errorf("setup[%d]: %s %s rejected with %s", i, step.Op, ev.Target, ev.Code)
		}
	}

	for i, step := range scenario.Flow {
		ev, out, err := h.execute(ctx, step)
		if err != nil {
			return nil, fmt.Errorf("flow[%d]: %w", i, err)
		}
		result.AddEvent(ev)
		for _, msg := range checkExpect(step.Expect, ev, out) {
			result.AddError(fmt.Sprintf("flow[%d] %s: %s", i, step.Op, msg))
		}
	}

	if err := h.snapshot(ctx, result); err != nil {
		return nil, err
	}

	for _, msg := range EvaluateAssertions(ctx, h.engine, result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func openBackend(name string) (store.Backend, error) {
	if name == "badger" {
		return kv.OpenInMemory()
	}
	return sqlite.Open(":memory:")
}

// outcome carries what a committed step produced, for expect checks.
type outcome struct {
	rng     *ir.Range
	version *int64
}

// execute runs one step. Typed rejections become the event code; any
// other error is returned.
func (h *Harness) execute(ctx context.Context, st Step) (StepEvent, outcome, error) {
	ev := StepEvent{Seq: h.clock.Next(), Op: st.Op, Code: CodeOK}
	var out outcome
	var err error

	switch st.Op {
	case OpCreateTree, OpInsert, OpDetach, OpFinalize:
		var r ir.MutationReceipt
		r, err = h.mutate(ctx, st)
		if err == nil {
			ev.Target = string(r.NodeID)
			ev.Detail = mutationDetail(r)
			out.rng = &r.Range
			out.version = &r.StructVersion
		}
	case OpAssign, OpReassign, OpUnassign:
		var r ir.AssignmentReceipt
		r, err = h.assign(ctx, st)
		ev.Target = st.Leaf
		if err == nil {
			ev.Detail = fmt.Sprintf("%s -> %s v%d", instanceText(r.Previous), instanceText(r.Current), r.Version)
			out.version = &r.Version
		}
	case OpCheck:
		var d ir.Decision
		d, err = h.engine.CanAttach(ctx, ir.AttachRequest{
			ParentID: ir.NodeID(st.Parent),
			Payload:  ir.PayloadRef(st.Payload),
			RootID:   ir.NodeID(st.Root),
		})
		ev.Target = st.Parent
		if err == nil {
			if d.Accept {
				ev.Code = CodeAccept
			} else {
				ev.Code = string(d.Reject.Code)
			}
		}
	default:
		return ev, out, fmt.Errorf("unknown op %q", st.Op)
	}

	if err != nil {
		code := errorCode(err)
		if code == "" {
			return ev, out, err
		}
		ev.Code = code
		if ev.Target == "" {
			ev.Target = firstNonEmpty(st.Node, st.Parent, st.Root)
		}
	}
	return ev, out, nil
}

func (h *Harness) mutate(ctx context.Context, st Step) (ir.MutationReceipt, error) {
	switch st.Op {
	case OpCreateTree:
		return h.engine.CreateTree(ctx, *st.Subtree)
	case OpInsert:
		if st.Root != "" {
			return h.engine.InsertSubtreeInto(ctx, ir.NodeID(st.Root), ir.NodeID(st.Parent), *st.Subtree)
		}
		return h.engine.InsertSubtree(ctx, ir.NodeID(st.Parent), *st.Subtree)
	case OpDetach:
		return h.engine.DetachSubtree(ctx, ir.NodeID(st.Node))
	default:
		return h.engine.FinalizeRoot(ctx, ir.NodeID(st.Root))
	}
}

func (h *Harness) assign(ctx context.Context, st Step) (ir.AssignmentReceipt, error) {
	leaf := ir.NodeID(st.Leaf)
	switch st.Op {
	case OpAssign:
		return h.engine.Assign(ctx, leaf, ir.InstanceID(st.Instance), st.ExpectVersion)
	case OpReassign:
		return h.engine.Reassign(ctx, leaf, ir.InstanceID(st.Instance), st.ExpectVersion)
	default:
		return h.engine.Unassign(ctx, leaf, st.ExpectVersion)
	}
}

// snapshot records the outline and slots of every registered tree.
func (h *Harness) snapshot(ctx context.Context, result *Result) error {
	roots, err := h.engine.Roots(ctx)
	if err != nil {
		return fmt.Errorf("failed to list roots: %w", err)
	}
	for _, root := range roots {
		result.Roots[string(root.ID)] = fmt.Sprintf("%s v%d", root.Status, root.StructVersion)
		views, err := h.engine.Tree(ctx, root.ID)
		if err != nil {
			return fmt.Errorf("failed to read tree %s: %w", root.ID, err)
		}
		lines := make([]string, 0, len(views))
		for _, v := range views {
			lines = append(lines, fmt.Sprintf("%s%s %s [%d,%d] %s",
				strings.Repeat("  ", v.Depth), v.ID, v.Kind, v.Left, v.Right, v.Payload))
		}
		result.Trees[string(root.ID)] = lines

		slots, err := h.engine.Slots(ctx, root.ID)
		if err != nil {
			return fmt.Errorf("failed to read slots %s: %w", root.ID, err)
		}
		slotLines := make([]string, 0, len(slots))
		for _, s := range slots {
			slotLines = append(slotLines, fmt.Sprintf("%s -> %s v%d", s.LeafID, instanceText(s.InstanceID), s.Version))
		}
		result.Slots[string(root.ID)] = slotLines
	}
	return nil
}

// checkExpect compares a step event against its expect clause.
func checkExpect(exp *ExpectClause, ev StepEvent, out outcome) []string {
	if exp == nil {
		return nil
	}
	var errs []string
	if exp.Code != ev.Code {
		errs = append(errs, fmt.Sprintf("expected %s, got %s", exp.Code, ev.Code))
		return errs
	}
	if len(exp.Range) == 2 {
		if out.rng == nil {
			errs = append(errs, "expected a committed range")
		} else if out.rng.Left != exp.Range[0] || out.rng.Right != exp.Range[1] {
			errs = append(errs, fmt.Sprintf("expected range [%d,%d], got [%d,%d]",
				exp.Range[0], exp.Range[1], out.rng.Left, out.rng.Right))
		}
	}
	if exp.Version != nil {
		if out.version == nil {
			errs = append(errs, "expected a committed version")
		} else if *out.version != *exp.Version {
			errs = append(errs, fmt.Sprintf("expected version %d, got %d", *exp.Version, *out.version))
		}
	}
	return errs
}

func mutationDetail(r ir.MutationReceipt) string {
	d := fmt.Sprintf("[%d,%d] v%d", r.Range.Left, r.Range.Right, r.StructVersion)
	if !r.Plan.IsNoop() {
		d += fmt.Sprintf(" shift %d%+d moved %d", r.Plan.From, r.Plan.Delta, r.ShiftedNodes)
	}
	if len(r.Unassigned) > 0 {
		d += fmt.Sprintf(" unassigned %d", len(r.Unassigned))
	}
	return d
}

// errorCode returns the typed rejection code of err, or "".
func errorCode(err error) string {
	if code := ir.RelationCode(err); code != "" {
		return string(code)
	}
	if code := ir.AssignmentCode(err); code != "" {
		return string(code)
	}
	return ""
}

func instanceText(id *ir.InstanceID) string {
	if id == nil {
		return "-"
	}
	return string(*id)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
