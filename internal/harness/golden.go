package harness

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// Snapshot renders a result as stable text: the step trace, then every
// tree's outline and slots in root id order.
func Snapshot(name string, result *Result) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "scenario %s\n", name)
	for _, ev := range result.Trace {
		line := fmt.Sprintf("[%d] %s %s %s", ev.Seq, ev.Op, ev.Target, ev.Code)
		if ev.Detail != "" {
			line += " " + ev.Detail
		}
		b.WriteString(line + "\n")
	}

	roots := make([]string, 0, len(result.Roots))
	for id := range result.Roots {
		roots = append(roots, id)
	}
	sort.Strings(roots)

	for _, id := range roots {
		fmt.Fprintf(&b, "tree %s %s\n", id, result.Roots[id])
		for _, line := range result.Trees[id] {
			b.WriteString("  " + line + "\n")
		}
		fmt.Fprintf(&b, "slots %s\n", id)
		for _, line := range result.Slots[id] {
			b.WriteString("  " + line + "\n")
		}
	}
	return []byte(b.String())
}

// RunWithGolden executes a scenario and compares its snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), scenario)
	if err != nil {
		return nil, err
	}
	AssertGolden(t, scenario.Name, result)
	return result, nil
}

// AssertGolden compares an existing result against a golden file without
// re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) {
	t.Helper()

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, Snapshot(scenarioName, result))
}
