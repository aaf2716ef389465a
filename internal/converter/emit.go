package converter

import "strings"

// Stage is a section reduced to steps, ready for emission.
type Stage struct {
	Name  string
	Steps []Step
}

const (
	scriptHeader = "pipeline {\n" +
		"    agent any\n\n" +
		"    stages {\n"
	scriptFooter = "    }\n" +
		"\n" +
		"    post {\n" +
		"        success {\n" +
		"            echo 'Pipeline completed successfully!'\n" +
		"        }\n" +
		"        failure {\n" +
		"            echo 'Pipeline failed!'\n" +
		"        }\n" +
		"    }\n" +
		"}\n"
)

// Emit renders stages into a declarative pipeline script. The layout is
// byte-stable; stage names are inserted unescaped.
func Emit(stages []Stage) string {
	var b strings.Builder
	b.WriteString(scriptHeader)
	for _, stage := range stages {
		b.WriteString("        stage('")
		b.WriteString(stage.Name)
		b.WriteString("') {\n")
		b.WriteString("            steps {\n")
		for _, step := range stage.Steps {
			b.WriteString("                sh '''\n")
			b.WriteString(step.Script())
			b.WriteString("\n                '''\n")
		}
		b.WriteString("            }\n")
		b.WriteString("        }\n\n")
	}
	b.WriteString(scriptFooter)
	return b.String()
}

// BuildStages segments rawText and classifies every section body.
func BuildStages(rawText string) []Stage {
	sections := Segment(rawText)
	stages := make([]Stage, len(sections))
	for i, section := range sections {
		stages[i] = Stage{Name: section.Name, Steps: Classify(section.Body)}
	}
	return stages
}
