package converter

import (
	"regexp"
	"strings"
)

// DefaultSectionName labels the single section produced when no heading
// pattern matches.
const DefaultSectionName = "Execute MOP"

// StyleDefault is reported by SegmentStyle when no heading family matched.
const StyleDefault = "default"

// Section is a named span of procedure text. Body excludes the heading line.
type Section struct {
	Name string
	Body string
}

// headingFamily recognises one style of section heading on a trimmed line.
type headingFamily struct {
	name  string
	match func(line string) (title string, ok bool)
}

var (
	numberedHeadingRe = regexp.MustCompile(`^\d+\.\s*(\S.*)$`)
	markdownHeadingRe = regexp.MustCompile(`^#+\s*(\S.*)$`)
	capsHeadingRe     = regexp.MustCompile(`^[A-Z][A-Z\s]*[A-Z]$`)
)

// headingFamilies is evaluated in priority order; the first family that
// recognises at least one heading wins and the rest are not consulted.
var headingFamilies = []headingFamily{
	{name: "numbered", match: submatchTitle(numberedHeadingRe)},
	{name: "markdown", match: submatchTitle(markdownHeadingRe)},
	{name: "caps", match: func(line string) (string, bool) {
		if !capsHeadingRe.MatchString(line) {
			return "", false
		}
		return line, true
	}},
}

func submatchTitle(re *regexp.Regexp) func(string) (string, bool) {
	return func(line string) (string, bool) {
		m := re.FindStringSubmatch(line)
		if m == nil {
			return "", false
		}
		return strings.TrimSpace(m[1]), true
	}
}

// Segment splits rawText into ordered sections. It always returns at least
// one section. Text preceding the first heading of the winning family is not
// attributed to any section.
func Segment(rawText string) []Section {
	sections, _ := SegmentStyle(rawText)
	return sections
}

// SegmentStyle is Segment that also reports which heading family produced
// the sections: "numbered", "markdown", "caps" or "default".
func SegmentStyle(rawText string) ([]Section, string) {
	lines := splitLines(rawText)
	for _, family := range headingFamilies {
		if sections := segmentBy(lines, family); len(sections) > 0 {
			return sections, family.name
		}
	}
	return []Section{{Name: DefaultSectionName, Body: strings.TrimSpace(rawText)}}, StyleDefault
}

func segmentBy(lines []string, family headingFamily) []Section {
	var (
		sections []Section
		body     []string
		open     bool
	)
	flush := func() {
		if !open {
			return
		}
		sections[len(sections)-1].Body = strings.TrimSpace(strings.Join(body, "\n"))
		body = body[:0]
	}
	for _, line := range lines {
		if title, ok := family.match(strings.TrimSpace(line)); ok {
			flush()
			sections = append(sections, Section{Name: title})
			open = true
			continue
		}
		if open {
			body = append(body, line)
		}
	}
	flush()
	return sections
}

func splitLines(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.Split(text, "\n")
}
