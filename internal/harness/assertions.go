package harness

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/isb2026/bomrel/internal/engine"
	"github.com/isb2026/bomrel/internal/ir"
	"github.com/isb2026/bomrel/internal/nestedset"
)

// AssertionError is returned when an assertion fails.
// It includes the trace to help debug the failure.
type AssertionError struct {
	Type     string      // Assertion type for categorization
	Expected string      // Human-readable expected outcome
	Actual   string      // Human-readable actual outcome
	Trace    []StepEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for _, ev := range e.Trace {
		fmt.Fprintf(&buf, "  [%d] %s %s -> %s %s\n", ev.Seq, ev.Op, ev.Target, ev.Code, ev.Detail)
	}

	return buf.String()
}

// EvaluateAssertions checks every assertion against the engine's final
// state and returns one message per failure.
func EvaluateAssertions(ctx context.Context, e *engine.Engine, result *Result, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluate(ctx, e, result, a); err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

func evaluate(ctx context.Context, e *engine.Engine, result *Result, a Assertion) error {
	fail := func(expected, actual string) error {
		return &AssertionError{Type: a.Type, Expected: expected, Actual: actual, Trace: result.Trace}
	}

	switch a.Type {
	case AssertNodeRange:
		n, err := e.Node(ctx, ir.NodeID(a.Node))
		if err != nil {
			return fail(fmt.Sprintf("%s at [%d,%d]", a.Node, a.Range[0], a.Range[1]), err.Error())
		}
		if n.Detached {
			return fail(fmt.Sprintf("%s live", a.Node), "detached")
		}
		if n.Left != a.Range[0] || n.Right != a.Range[1] {
			return fail(fmt.Sprintf("%s at [%d,%d]", a.Node, a.Range[0], a.Range[1]),
				fmt.Sprintf("[%d,%d]", n.Left, n.Right))
		}

	case AssertDetached:
		n, err := e.Node(ctx, ir.NodeID(a.Node))
		if err != nil {
			return fail(fmt.Sprintf("%s detached", a.Node), err.Error())
		}
		if !n.Detached {
			return fail(fmt.Sprintf("%s detached", a.Node), "live")
		}

	case AssertAssignment:
		return assertAssignment(ctx, e, a, fail)

	case AssertRootStatus:
		roots, err := e.Roots(ctx)
		if err != nil {
			return err
		}
		for _, r := range roots {
			if string(r.ID) != a.Root {
				continue
			}
			if string(r.Status) != a.Status {
				return fail(a.Status, string(r.Status))
			}
			if a.Version != nil && r.StructVersion != *a.Version {
				return fail(fmt.Sprintf("struct version %d", *a.Version), fmt.Sprintf("%d", r.StructVersion))
			}
			return nil
		}
		return fail(fmt.Sprintf("root %s", a.Root), "not registered")

	case AssertVerify:
		err := e.Verify(ctx, ir.NodeID(a.Root))
		var ve *nestedset.VerifyError
		if errors.As(err, &ve) {
			return fail("no violations", ve.Error())
		}
		if err != nil {
			return fail("no violations", err.Error())
		}

	case AssertTreeSize:
		views, err := e.Tree(ctx, ir.NodeID(a.Root))
		if err != nil {
			return fail(fmt.Sprintf("%d live nodes", a.Count), err.Error())
		}
		if len(views) != a.Count {
			return fail(fmt.Sprintf("%d live nodes", a.Count), fmt.Sprintf("%d", len(views)))
		}

	case AssertTraceCount:
		count := 0
		for _, ev := range result.Trace {
			if ev.Op == a.Op && (a.Code == "" || ev.Code == a.Code) {
				count++
			}
		}
		if count != a.Count {
			return fail(fmt.Sprintf("%d %s events", a.Count, a.Op), fmt.Sprintf("%d", count))
		}

	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}

// assertAssignment matches a leaf's slot. An empty Instance expects an
// empty slot.
func assertAssignment(ctx context.Context, e *engine.Engine, a Assertion, fail func(string, string) error) error {
	n, err := e.Node(ctx, ir.NodeID(a.Leaf))
	if err != nil {
		return fail(fmt.Sprintf("slot %s", a.Leaf), err.Error())
	}
	slots, err := e.Slots(ctx, n.RootID)
	if err != nil {
		return fail(fmt.Sprintf("slot %s", a.Leaf), err.Error())
	}
	for _, s := range slots {
		if string(s.LeafID) != a.Leaf {
			continue
		}
		want := a.Instance
		if want == "" {
			want = "-"
		}
		if got := instanceText(s.InstanceID); got != want {
			return fail(fmt.Sprintf("%s -> %s", a.Leaf, want), got)
		}
		if a.Version != nil && s.Version != *a.Version {
			return fail(fmt.Sprintf("version %d", *a.Version), fmt.Sprintf("%d", s.Version))
		}
		return nil
	}
	return fail(fmt.Sprintf("slot %s", a.Leaf), "not a live leaf")
}
