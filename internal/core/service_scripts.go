package core

import (
	"bytes"
	"cicdcopilot/internal/converter"
	"cicdcopilot/internal/stepgraph"
	"cicdcopilot/pkg/domain"
	"context"
	"fmt"
	"strings"
)

// GeneratedScript returns the pipeline script for a pipeline: the stored
// override when one exists, otherwise a script generated from its MOP file.
// A missing MOP file converts as empty text.
func (s *Service) GeneratedScript(ctx context.Context, pipelineID int64) (string, error) {
	var script string
	err := s.view(ctx, "generated_script", func(v domain.TransactionView) error {
		p, ok := v.FindPipeline(pipelineID)
		if !ok {
			return domain.ErrNotFound{Entity: domain.EntityPipeline, ID: pipelineID}
		}
		content := ""
		if m, ok := v.FindMopFile(p.MopFileID); ok {
			content = m.Content
		}
		script = s.converter.Convert(content, p.Config)
		return nil
	})
	return script, err
}

// ConvertMopFile generates a script for a MOP file without any override.
func (s *Service) ConvertMopFile(ctx context.Context, mopFileID int64) (string, error) {
	var script string
	err := s.view(ctx, "convert_mop_file", func(v domain.TransactionView) error {
		m, ok := v.FindMopFile(mopFileID)
		if !ok {
			return domain.ErrNotFound{Entity: domain.EntityMopFile, ID: mopFileID}
		}
		script = s.converter.Convert(m.Content, nil)
		return nil
	})
	return script, err
}

// UpdateGeneratedScript stores a user-edited script as the pipeline override.
// Later reads return it verbatim until it is reset.
func (s *Service) UpdateGeneratedScript(ctx context.Context, pipelineID int64, script string) (domain.Pipeline, domain.Result, error) {
	if strings.TrimSpace(script) == "" {
		return domain.Pipeline{}, domain.Result{}, invalidf("pipeline script is required")
	}
	var updated domain.Pipeline
	res, err := s.run(ctx, "update_generated_script", func(tx domain.Transaction) error {
		var err error
		updated, err = tx.UpdatePipeline(pipelineID, func(p *domain.Pipeline) error {
			p.Config = converter.SetOverride(p.Config, script)
			return nil
		})
		return err
	})
	return updated, res, err
}

// ResetGeneratedScript drops the stored override so the next read regenerates.
func (s *Service) ResetGeneratedScript(ctx context.Context, pipelineID int64) (domain.Pipeline, domain.Result, error) {
	var updated domain.Pipeline
	res, err := s.run(ctx, "reset_generated_script", func(tx domain.Transaction) error {
		var err error
		updated, err = tx.UpdatePipeline(pipelineID, func(p *domain.Pipeline) error {
			p.Config = converter.ClearOverride(p.Config)
			return nil
		})
		return err
	})
	return updated, res, err
}

// PipelineGraphDOT renders the stage graph of a pipeline's MOP file as DOT.
func (s *Service) PipelineGraphDOT(ctx context.Context, pipelineID int64) (string, error) {
	var out bytes.Buffer
	err := s.view(ctx, "pipeline_graph", func(v domain.TransactionView) error {
		p, ok := v.FindPipeline(pipelineID)
		if !ok {
			return domain.ErrNotFound{Entity: domain.EntityPipeline, ID: pipelineID}
		}
		content := ""
		if m, ok := v.FindMopFile(p.MopFileID); ok {
			content = m.Content
		}
		g, err := stepgraph.FromText(content)
		if err != nil {
			return fmt.Errorf("build step graph: %w", err)
		}
		return g.WriteDOT(&out, stepgraph.GraphAttribute("label", p.Name))
	})
	if err != nil {
		return "", err
	}
	return out.String(), nil
}
