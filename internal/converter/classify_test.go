package converter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyEmptyBodyYieldsPlaceholder(t *testing.T) {
	steps := Classify("")
	require.Len(t, steps, 1)
	require.Len(t, steps[0].Lines, 1)
	assert.Equal(t, StepLine{Kind: Comment, Text: PlaceholderComment}, steps[0].Lines[0])
	assert.Equal(t, "echo 'Executing MOP instructions'", steps[0].Script())
}

func TestClassifyCommandStartsNewStep(t *testing.T) {
	steps := Classify("run build.sh\nrun test.sh")
	require.Len(t, steps, 2)
	assert.Equal(t, "run build.sh", steps[0].Script())
	assert.Equal(t, "run test.sh", steps[1].Script())
}

func TestClassifyCommentsAttachToCurrentStep(t *testing.T) {
	steps := Classify("systemctl restart nginx\n- wait for it\n> check the logs\n\nDone")
	require.Len(t, steps, 2)
	assert.Equal(t, "systemctl restart nginx\necho '- wait for it'\necho '> check the logs'", steps[0].Script())
	assert.Equal(t, 1, steps[0].Commands())
	assert.Equal(t, "echo 'Done'", steps[1].Script())
	assert.Equal(t, 0, steps[1].Commands())
}

func TestClassifyCommentsCollapseWithoutBlankLine(t *testing.T) {
	steps := Classify("hello\nworld")
	require.Len(t, steps, 1)
	assert.Equal(t, "echo 'hello'\necho 'world'", steps[0].Script())
}

func TestClassifyEscapesSingleQuotes(t *testing.T) {
	steps := Classify("Don't panic")
	require.Len(t, steps, 1)
	assert.Equal(t, `echo 'Don\'t panic'`, steps[0].Script())
}

func TestClassifyBulletsAreComments(t *testing.T) {
	for _, line := range []string{"- rm -rf /tmp/x", "* item one", "> quoted text", "• bullet point", "· middle dot"} {
		assert.False(t, IsCommandLine(line), line)
	}
	steps := Classify("- rm -rf /tmp/x")
	assert.Equal(t, "echo '- rm -rf /tmp/x'", steps[0].Script())
}

func TestIsCommandLine(t *testing.T) {
	cases := map[string]bool{
		"ls -la":             true,
		"deploy.sh prod":     true,
		"./deploy.sh prod":   false,
		"Wait for it.":       true,
		"kubectl_v2 get pod": true,
		"node-1 reboot":      true,
		"echo":               false,
		"Verify:":            false,
		"(optional) step":    false,
		"$ sudo reboot":      false,
	}
	for line, want := range cases {
		assert.Equal(t, want, IsCommandLine(line), line)
	}
}

func TestClassifyBlankLinesOnly(t *testing.T) {
	steps := Classify("\n   \n\t\n")
	require.Len(t, steps, 1)
	assert.Equal(t, PlaceholderComment, steps[0].Lines[0].Text)
}

func TestLineKindString(t *testing.T) {
	assert.Equal(t, "command", Command.String())
	assert.Equal(t, "comment", Comment.String())
}
