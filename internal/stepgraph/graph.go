// Package stepgraph models converted MOP stages as a directed step graph. The
// graph feeds pipeline step records and DOT renderings of a pipeline.
package stepgraph

import (
	"cicdcopilot/internal/converter"
	"cicdcopilot/pkg/domain"
	"fmt"
	"strconv"

	"github.com/dominikbraun/graph"
	"github.com/pkg/errors"
)

// Step types assigned to derived pipeline steps.
const (
	StepTypeShell  = "shell"
	StepTypeManual = "manual"
)

// ErrEmpty is returned when a graph is built from no stages.
var ErrEmpty = errors.New("stepgraph: no stages")

// Vertex is one stage in the graph. Key is unique even when stage names repeat.
type Vertex struct {
	Key   string
	Index int
	Stage converter.Stage
}

func vertexHash(v Vertex) string { return v.Key }

// Graph is an acyclic chain of stages in document order.
type Graph struct {
	g     graph.Graph[string, Vertex]
	order []string
}

// Build creates the graph for the given stages, linking each stage to the next.
func Build(stages []converter.Stage) (*Graph, error) {
	if len(stages) == 0 {
		return nil, ErrEmpty
	}
	out := &Graph{g: graph.New(vertexHash, graph.Directed(), graph.Acyclic())}
	for i, stage := range stages {
		v := Vertex{Key: strconv.Itoa(i+1) + ":" + stage.Name, Index: i, Stage: stage}
		err := out.g.AddVertex(v,
			graph.VertexAttribute("label", stage.Name),
			graph.VertexAttribute("steps", strconv.Itoa(len(stage.Steps))),
			graph.VertexAttribute("shape", shapeFor(stage)),
		)
		if err != nil {
			return nil, errors.Wrapf(err, "unable to add stage %q", stage.Name)
		}
		if i > 0 {
			prev := out.order[i-1]
			if err := out.g.AddEdge(prev, v.Key); err != nil {
				return nil, errors.Wrapf(err, "unable to link %s to %s", prev, v.Key)
			}
		}
		out.order = append(out.order, v.Key)
	}
	return out, nil
}

// FromText converts rawText to stages and builds their graph.
func FromText(rawText string) (*Graph, error) {
	return Build(converter.BuildStages(rawText))
}

// Len returns the number of stages.
func (g *Graph) Len() int { return len(g.order) }

// Order returns the stages in topological order.
func (g *Graph) Order() ([]Vertex, error) {
	keys, err := graph.TopologicalSort(g.g)
	if err != nil {
		return nil, errors.Wrap(err, "unable to sort stages")
	}
	out := make([]Vertex, 0, len(keys))
	for _, key := range keys {
		v, err := g.g.Vertex(key)
		if err != nil {
			return nil, errors.Wrapf(err, "unable to load stage %s", key)
		}
		out = append(out, v)
	}
	return out, nil
}

// PipelineSteps derives one pipeline step per stage, positioned from 1.
func (g *Graph) PipelineSteps(pipelineID int64) ([]domain.PipelineStep, error) {
	vertices, err := g.Order()
	if err != nil {
		return nil, err
	}
	steps := make([]domain.PipelineStep, 0, len(vertices))
	for i, v := range vertices {
		script := make([]any, 0, len(v.Stage.Steps))
		commands := 0
		for _, st := range v.Stage.Steps {
			script = append(script, st.Script())
			commands += st.Commands()
		}
		steps = append(steps, domain.PipelineStep{
			PipelineID: pipelineID,
			Name:       v.Stage.Name,
			Type:       shapeType(commands),
			Position:   i + 1,
			Config: map[string]any{
				"script":   script,
				"commands": commands,
			},
		})
	}
	return steps, nil
}

func shapeType(commands int) string {
	if commands > 0 {
		return StepTypeShell
	}
	return StepTypeManual
}

func shapeFor(stage converter.Stage) string {
	for _, st := range stage.Steps {
		if st.Commands() > 0 {
			return "box"
		}
	}
	return "note"
}

// String summarises the graph for logs.
func (g *Graph) String() string {
	return fmt.Sprintf("stepgraph(%d stages)", g.Len())
}
