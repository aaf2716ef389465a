package mopparse

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrNotStructured reports content without a top-level steps list. Callers
// fall back to heuristic segmentation.
var ErrNotStructured = errors.New("mopparse: content is not a structured steps document")

// DefaultStepType is assigned to structured steps that omit a type.
const DefaultStepType = "shell"

// StepSpec is one entry of a structured steps list. Keys other than name,
// type and position are kept in Config.
type StepSpec struct {
	Name     string
	Type     string
	Config   map[string]any
	Position int
}

// Document is a decoded structured MOP.
type Document struct {
	Title string
	Steps []StepSpec
}

// LooksLikeYAML is the cheap pre-check applied before attempting a decode.
func LooksLikeYAML(content string) bool {
	return strings.Contains(content, ":") && (strings.Contains(content, "-") || strings.Contains(content, "  "))
}

// Parse decodes a structured steps document. Steps without a position are
// numbered by their 1-based order in the list.
func Parse(content string) (Document, error) {
	if !LooksLikeYAML(content) {
		return Document{}, ErrNotStructured
	}
	var root map[string]any
	if err := yaml.Unmarshal([]byte(content), &root); err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrNotStructured, err)
	}
	rawSteps, ok := root["steps"].([]any)
	if !ok {
		return Document{}, ErrNotStructured
	}
	doc := Document{Title: leadingTitle(content)}
	for i, raw := range rawSteps {
		entry, ok := raw.(map[string]any)
		if !ok {
			return Document{}, fmt.Errorf("%w: step %d is not a mapping", ErrNotStructured, i+1)
		}
		doc.Steps = append(doc.Steps, stepFromEntry(i, entry))
	}
	return doc, nil
}

func stepFromEntry(index int, entry map[string]any) StepSpec {
	step := StepSpec{
		Name:     fmt.Sprintf("Step %d", index+1),
		Type:     DefaultStepType,
		Config:   make(map[string]any),
		Position: index + 1,
	}
	for key, value := range entry {
		switch key {
		case "name":
			if s, ok := scalarString(value); ok {
				step.Name = s
			}
		case "type":
			if s, ok := scalarString(value); ok {
				step.Type = s
			}
		case "position":
			if pos, ok := asInt(value); ok {
				step.Position = pos
			}
		default:
			step.Config[key] = value
		}
	}
	return step
}

func scalarString(v any) (string, bool) {
	if v == nil {
		return "", false
	}
	s := strings.TrimSpace(fmt.Sprint(v))
	return s, s != ""
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case uint64:
		if n > math.MaxInt32 {
			return 0, false
		}
		return int(n), true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int(n), true
	}
	return 0, false
}

// leadingTitle returns the text of a leading "# Title" comment line.
func leadingTitle(content string) string {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			return strings.TrimSpace(strings.TrimLeft(line, "#"))
		}
		return ""
	}
	return ""
}
