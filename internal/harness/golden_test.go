package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGolden_ScenarioA(t *testing.T) {
	result, err := RunWithGolden(t, loadFixture(t, "scenario_a_insert_leaf"))
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)
}

func TestGolden_ScenarioE(t *testing.T) {
	result, err := RunWithGolden(t, loadFixture(t, "scenario_e_detach_cascade"))
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)
}

func TestSnapshot_SortsRoots(t *testing.T) {
	result := NewResult()
	result.AddEvent(StepEvent{Seq: 1, Op: OpFinalize, Target: "b", Code: CodeOK})
	result.Roots["b"] = "finalized v2"
	result.Roots["a"] = "draft v1"
	result.Trees["a"] = []string{"a ROOT [1,2] item:a"}
	result.Trees["b"] = []string{"b ROOT [1,2] item:b"}

	want := "scenario s\n" +
		"[1] finalize b ok\n" +
		"tree a draft v1\n" +
		"  a ROOT [1,2] item:a\n" +
		"slots a\n" +
		"tree b finalized v2\n" +
		"  b ROOT [1,2] item:b\n" +
		"slots b\n"
	assert.Equal(t, want, string(Snapshot("s", result)))
}
