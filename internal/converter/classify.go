package converter

import (
	"regexp"
	"strings"
)

// LineKind distinguishes executable lines from descriptive ones.
type LineKind int

const (
	// Command lines are emitted verbatim.
	Command LineKind = iota
	// Comment lines are emitted as echo statements.
	Comment
)

func (k LineKind) String() string {
	if k == Command {
		return "command"
	}
	return "comment"
}

// PlaceholderComment is the text of the step emitted for an empty section.
const PlaceholderComment = "Executing MOP instructions"

// StepLine is one classified line. Text is the trimmed source line; quoting
// is applied by Render.
type StepLine struct {
	Kind LineKind
	Text string
}

// Render returns the shell form of the line.
func (l StepLine) Render() string {
	if l.Kind == Command {
		return l.Text
	}
	return "echo '" + escapeSingleQuotes(l.Text) + "'"
}

// Step groups lines rendered into a single sh block. A command line always
// starts a new step; comment lines attach to the step in progress.
type Step struct {
	Lines []StepLine
}

// Script joins the rendered lines with newlines.
func (s Step) Script() string {
	rendered := make([]string, len(s.Lines))
	for i, line := range s.Lines {
		rendered[i] = line.Render()
	}
	return strings.Join(rendered, "\n")
}

// Commands counts the command lines in the step.
func (s Step) Commands() int {
	n := 0
	for _, line := range s.Lines {
		if line.Kind == Command {
			n++
		}
	}
	return n
}

var commandLineRe = regexp.MustCompile(`^[a-zA-Z0-9_\-.]+\s`)

// bulletMarkers never start a command even when the rest of the line looks
// like one.
var bulletMarkers = []string{"•", "·", "-", "*", ">"}

// IsCommandLine reports whether a trimmed line looks like a shell command.
func IsCommandLine(line string) bool {
	if !commandLineRe.MatchString(line) {
		return false
	}
	for _, marker := range bulletMarkers {
		if strings.HasPrefix(line, marker) {
			return false
		}
	}
	return true
}

// Classify reduces a section body to ordered steps. Blank lines close the
// step in progress. The result is never empty.
func Classify(body string) []Step {
	var (
		steps   []Step
		current []StepLine
	)
	flush := func() {
		if len(current) == 0 {
			return
		}
		steps = append(steps, Step{Lines: current})
		current = nil
	}
	for _, raw := range splitLines(body) {
		line := strings.TrimSpace(raw)
		switch {
		case line == "":
			flush()
		case IsCommandLine(line):
			flush()
			current = append(current, StepLine{Kind: Command, Text: line})
		default:
			current = append(current, StepLine{Kind: Comment, Text: line})
		}
	}
	flush()
	if len(steps) == 0 {
		steps = append(steps, Step{Lines: []StepLine{{Kind: Comment, Text: PlaceholderComment}}})
	}
	return steps
}

func escapeSingleQuotes(s string) string {
	return strings.ReplaceAll(s, "'", `\'`)
}
