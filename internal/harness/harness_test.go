package harness

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadFixture(t *testing.T, name string) *Scenario {
	t.Helper()
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", name+".yaml"))
	require.NoError(t, err)
	return s
}

func TestRun_Fixtures(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)

	for _, path := range paths {
		t.Run(filepath.Base(path), func(t *testing.T) {
			s, err := LoadScenario(path)
			require.NoError(t, err)

			result, err := Run(context.Background(), s)
			require.NoError(t, err)
			assert.True(t, result.Pass, strings.Join(result.Errors, "\n"))
		})
	}
}

func TestRun_Deterministic(t *testing.T) {
	s := loadFixture(t, "scenario_a_insert_leaf")

	first, err := Run(context.Background(), s)
	require.NoError(t, err)
	second, err := Run(context.Background(), s)
	require.NoError(t, err)

	assert.Equal(t, Snapshot(s.Name, first), Snapshot(s.Name, second))
}

func TestRun_BothBackendsAgree(t *testing.T) {
	s := loadFixture(t, "scenario_e_detach_cascade")

	s.Backend = "sqlite"
	onSQLite, err := Run(context.Background(), s)
	require.NoError(t, err)

	s.Backend = "badger"
	onBadger, err := Run(context.Background(), s)
	require.NoError(t, err)

	assert.Equal(t, string(Snapshot(s.Name, onSQLite)), string(Snapshot(s.Name, onBadger)))
}

func TestRun_ExpectMismatchFails(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: mismatch
description: the insert actually succeeds at [7,8]
setup:
  - op: create_tree
    subtree:
      id: R
      payload: "item:R"
      children:
        - id: P
          payload: "item:P"
          children:
            - { id: L1, payload: "item:L1" }
            - { id: L2, payload: "item:L2" }
flow:
  - op: insert
    parent: P
    subtree: { payload: "item:NEW" }
    expect: { code: ok, range: [8, 9] }
  - op: insert
    parent: P
    subtree: { payload: "item:NEW" }
    expect: { code: ok }
assertions:
  - { type: node_range, node: P, range: [2, 7] }
`))
	require.NoError(t, err)

	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 3)
	assert.Contains(t, result.Errors[0], "expected range [8,9], got [7,8]")
	assert.Contains(t, result.Errors[1], "expected ok, got DUPLICATE_PATH")
	assert.Contains(t, result.Errors[2], "Assertion failed: node_range")
}

func TestRun_SetupRejectionIsAnError(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: bad_setup
description: setup inserts under a missing parent
setup:
  - op: insert
    parent: ghost
    subtree: { payload: "item:X" }
flow:
  - op: check
    parent: ghost
    payload: "item:X"
assertions:
  - { type: trace_count, op: check, count: 1 }
`))
	require.NoError(t, err)

	_, err = Run(context.Background(), s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "UNKNOWN_PARENT")
}

func TestRun_TraceEvents(t *testing.T) {
	s := loadFixture(t, "scenario_d_version_conflict")

	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	require.Len(t, result.Trace, 4)

	assert.Equal(t, StepEvent{Seq: 1, Op: OpCreateTree, Code: CodeOK, Target: "R", Detail: "[1,10] v1"}, result.Trace[0])
	assert.Equal(t, StepEvent{Seq: 3, Op: OpAssign, Code: "VERSION_CONFLICT", Target: "L1"}, result.Trace[2])
	assert.Equal(t, "mold-A -> mold-B v2", result.Trace[3].Detail)
}
