package stepgraph

import (
	"bytes"
	"cicdcopilot/internal/converter"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildChainsStagesInOrder(t *testing.T) {
	g, err := FromText("1. Build\nrun build.sh\n2. Test\nrun test.sh\n3. Notes\nnothing to run")
	require.NoError(t, err)
	require.Equal(t, 3, g.Len())

	order, err := g.Order()
	require.NoError(t, err)
	names := make([]string, len(order))
	for i, v := range order {
		names[i] = v.Stage.Name
	}
	assert.Equal(t, []string{"Build", "Test", "Notes"}, names)
	assert.Equal(t, "stepgraph(3 stages)", g.String())
}

func TestBuildKeepsDuplicateNamesDistinct(t *testing.T) {
	g, err := FromText("# Check\nping -c 1 db\n# Check\nping -c 1 cache")
	require.NoError(t, err)
	order, err := g.Order()
	require.NoError(t, err)
	require.Len(t, order, 2)
	assert.Equal(t, "1:Check", order[0].Key)
	assert.Equal(t, "2:Check", order[1].Key)
}

func TestBuildRejectsEmpty(t *testing.T) {
	_, err := Build(nil)
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestPipelineSteps(t *testing.T) {
	g, err := FromText("1. Build\nrun build.sh\n- check output\n\nrun lint.sh\n2. Review\nAsk a human.")
	require.NoError(t, err)
	steps, err := g.PipelineSteps(42)
	require.NoError(t, err)
	require.Len(t, steps, 2)

	assert.Equal(t, int64(42), steps[0].PipelineID)
	assert.Equal(t, "Build", steps[0].Name)
	assert.Equal(t, StepTypeShell, steps[0].Type)
	assert.Equal(t, 1, steps[0].Position)
	assert.Equal(t, 2, steps[0].Config["commands"])
	assert.Equal(t, []any{"run build.sh\necho '- check output'", "run lint.sh"}, steps[0].Config["script"])

	assert.Equal(t, "Review", steps[1].Name)
	assert.Equal(t, 2, steps[1].Position)
	assert.Equal(t, StepTypeShell, steps[1].Type, "\"Ask a human.\" reads as a command")
}

func TestPipelineStepsManualStage(t *testing.T) {
	g, err := Build([]converter.Stage{{Name: "Approve", Steps: converter.Classify("Approval:")}})
	require.NoError(t, err)
	steps, err := g.PipelineSteps(1)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, StepTypeManual, steps[0].Type)
	assert.Equal(t, 0, steps[0].Config["commands"])
}

func TestWriteDOT(t *testing.T) {
	g, err := FromText("1. Build\nrun build.sh\n2. Say \"hi\"\nGreeting:")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, g.WriteDOT(&buf, GraphAttribute("label", "demo")))
	want := "strict digraph {\n" +
		"\tlabel=\"demo\";\n" +
		"\trankdir=\"LR\";\n" +
		"\t\"1:Build\" [ label=\"Build\", shape=\"box\", steps=\"1\", ];\n" +
		"\t\"1:Build\" -> \"2:Say \\\"hi\\\"\";\n" +
		"\t\"2:Say \\\"hi\\\"\" [ label=\"Say \\\"hi\\\"\", shape=\"note\", steps=\"1\", ];\n" +
		"}\n"
	assert.Equal(t, want, buf.String())

	var again bytes.Buffer
	require.NoError(t, g.WriteDOT(&again, GraphAttribute("label", "demo")))
	assert.Equal(t, buf.String(), again.String())
}
