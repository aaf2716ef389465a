package stepgraph

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"text/template"

	"github.com/pkg/errors"
)

const dotTemplate = `strict digraph {
{{- range $k, $v := .Attributes}}
	{{$k}}={{quote $v}};
{{- end}}
{{- range .Statements}}
	{{if .Target}}{{quote .Source}} -> {{quote .Target}};{{else}}{{quote .Source}} [ {{range $k, $v := .Attributes}}{{$k}}={{quote $v}}, {{end}}];{{end}}
{{- end}}
}
`

var dotTpl = template.Must(template.New("dot").Funcs(template.FuncMap{"quote": strconv.Quote}).Parse(dotTemplate))

type description struct {
	Attributes map[string]string
	Statements []statement
}

type statement struct {
	Source     string
	Target     string
	Attributes map[string]string
}

// GraphAttribute sets a top-level DOT attribute such as rankdir or label.
func GraphAttribute(key, value string) func(*description) {
	return func(d *description) {
		d.Attributes[key] = value
	}
}

// WriteDOT renders the graph in DOT format. Output is stable for a given graph.
func (g *Graph) WriteDOT(w io.Writer, options ...func(*description)) error {
	desc := description{Attributes: map[string]string{"rankdir": "LR"}}
	for _, option := range options {
		option(&desc)
	}
	vertices, err := g.Order()
	if err != nil {
		return err
	}
	adjacency, err := g.g.AdjacencyMap()
	if err != nil {
		return errors.Wrap(err, "unable to get adjacency map")
	}
	for _, v := range vertices {
		_, props, err := g.g.VertexWithProperties(v.Key)
		if err != nil {
			return errors.Wrap(err, "unable to get vertex properties")
		}
		desc.Statements = append(desc.Statements, statement{Source: v.Key, Attributes: props.Attributes})
		targets := make([]string, 0, len(adjacency[v.Key]))
		for target := range adjacency[v.Key] {
			targets = append(targets, target)
		}
		sort.Strings(targets)
		for _, target := range targets {
			desc.Statements = append(desc.Statements, statement{Source: v.Key, Target: target})
		}
	}
	if err := dotTpl.Execute(w, desc); err != nil {
		return fmt.Errorf("render dot: %w", err)
	}
	return nil
}
