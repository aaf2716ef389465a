package core

import (
	"cicdcopilot/internal/mopparse"
	"cicdcopilot/internal/stepgraph"
	"cicdcopilot/pkg/domain"
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	// UnknownMopFileName labels summaries whose MOP file is missing.
	UnknownMopFileName = "Unknown"
	// DefaultConvertedName names pipelines converted without an explicit name.
	DefaultConvertedName = "New Pipeline"
	// RecentExecutionLimit bounds the executions included in a pipeline detail.
	RecentExecutionLimit = 3

	summaryConcurrency = 8
)

// PipelineSummary is a pipeline listed with derived counts.
type PipelineSummary struct {
	domain.Pipeline
	StepCount   int    `json:"stepCount"`
	MopFileName string `json:"mopFileName"`
	SharedWith  int    `json:"sharedWith"`
}

// PipelineDetail is a pipeline with its document, steps and latest runs.
type PipelineDetail struct {
	domain.Pipeline
	MopFile          *domain.MopFile            `json:"mopFile"`
	Steps            []domain.PipelineStep      `json:"steps"`
	RecentExecutions []domain.PipelineExecution `json:"recentExecutions"`
}

// PipelineInput creates a pipeline.
type PipelineInput struct {
	MopFileID   int64                 `json:"mopFileId"`
	Name        string                `json:"name"`
	Description string                `json:"description"`
	Status      domain.PipelineStatus `json:"status"`
	Config      domain.PipelineConfig `json:"config"`
}

// PipelineUpdate edits pipeline metadata. Nil fields are kept.
type PipelineUpdate struct {
	Name        *string                `json:"name,omitempty"`
	Description *string                `json:"description,omitempty"`
	Status      *domain.PipelineStatus `json:"status,omitempty"`
}

// ListPipelineSummaries returns pipelines newest first with their step count,
// MOP file name and number of shares.
func (s *Service) ListPipelineSummaries(ctx context.Context) ([]PipelineSummary, error) {
	var summaries []PipelineSummary
	err := s.instrument(ctx, "list_pipelines", func(ctx context.Context) error {
		pipelines := s.store.ListPipelines()
		shares := make(map[int64]int)
		for _, share := range s.store.ListSharedPipelines() {
			shares[share.PipelineID]++
		}
		summaries = make([]PipelineSummary, len(pipelines))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(summaryConcurrency)
		for i, p := range pipelines {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				name := UnknownMopFileName
				if m, ok := s.store.GetMopFile(p.MopFileID); ok {
					name = m.Name
				}
				summaries[i] = PipelineSummary{
					Pipeline:    p,
					StepCount:   len(s.store.ListPipelineSteps(p.ID)),
					MopFileName: name,
					SharedWith:  shares[p.ID],
				}
				return nil
			})
		}
		return g.Wait()
	})
	if err != nil {
		return nil, err
	}
	return summaries, nil
}

// GetPipeline returns one pipeline.
func (s *Service) GetPipeline(ctx context.Context, id int64) (domain.Pipeline, error) {
	var pipeline domain.Pipeline
	err := s.view(ctx, "get_pipeline", func(v domain.TransactionView) error {
		p, ok := v.FindPipeline(id)
		if !ok {
			return domain.ErrNotFound{Entity: domain.EntityPipeline, ID: id}
		}
		pipeline = p
		return nil
	})
	return pipeline, err
}

// GetPipelineDetail returns a pipeline with its MOP file (nil when missing),
// ordered steps, and the most recent executions.
func (s *Service) GetPipelineDetail(ctx context.Context, id int64) (PipelineDetail, error) {
	var detail PipelineDetail
	err := s.view(ctx, "get_pipeline_detail", func(v domain.TransactionView) error {
		var ok bool
		detail, ok = pipelineDetail(v, id)
		if !ok {
			return domain.ErrNotFound{Entity: domain.EntityPipeline, ID: id}
		}
		return nil
	})
	return detail, err
}

func pipelineDetail(v domain.TransactionView, id int64) (PipelineDetail, bool) {
	p, ok := v.FindPipeline(id)
	if !ok {
		return PipelineDetail{}, false
	}
	detail := PipelineDetail{Pipeline: p, Steps: v.ListPipelineSteps(id)}
	if m, ok := v.FindMopFile(p.MopFileID); ok {
		detail.MopFile = &m
	}
	executions := v.ListPipelineExecutions(id)
	if len(executions) > RecentExecutionLimit {
		executions = executions[:RecentExecutionLimit]
	}
	detail.RecentExecutions = executions
	return detail, true
}

// CreatePipeline persists a new pipeline for an existing MOP file.
func (s *Service) CreatePipeline(ctx context.Context, in PipelineInput) (domain.Pipeline, domain.Result, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return domain.Pipeline{}, domain.Result{}, invalidf("pipeline name is required")
	}
	if in.Status != "" && !in.Status.Valid() {
		return domain.Pipeline{}, domain.Result{}, invalidf("pipeline status %q is invalid", in.Status)
	}
	var created domain.Pipeline
	res, err := s.run(ctx, "create_pipeline", func(tx domain.Transaction) error {
		if _, ok := tx.FindMopFile(in.MopFileID); !ok {
			return domain.ErrNotFound{Entity: domain.EntityMopFile, ID: in.MopFileID}
		}
		var err error
		created, err = tx.CreatePipeline(domain.Pipeline{
			UserID:      s.userID,
			MopFileID:   in.MopFileID,
			Name:        name,
			Description: strings.TrimSpace(in.Description),
			Status:      in.Status,
			Config:      in.Config.Clone(),
		})
		return err
	})
	return created, res, err
}

// ConvertMopToPipeline creates a draft pipeline from a MOP file together with
// its steps. A structured steps document supplies the steps directly;
// otherwise one step is derived per converted stage.
func (s *Service) ConvertMopToPipeline(ctx context.Context, mopFileID int64, name string) (PipelineDetail, domain.Result, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultConvertedName
	}
	var detail PipelineDetail
	res, err := s.run(ctx, "convert_mop_to_pipeline", func(tx domain.Transaction) error {
		mop, ok := tx.FindMopFile(mopFileID)
		if !ok {
			return domain.ErrNotFound{Entity: domain.EntityMopFile, ID: mopFileID}
		}
		steps, err := derivePipelineSteps(mop.Content)
		if err != nil {
			return err
		}
		pipeline, err := tx.CreatePipeline(domain.Pipeline{
			UserID:      s.userID,
			MopFileID:   mop.ID,
			Name:        name,
			Description: "Converted from " + mop.Name,
			Status:      domain.PipelineStatusDraft,
			Config:      domain.PipelineConfig{},
		})
		if err != nil {
			return err
		}
		for _, step := range steps {
			step.PipelineID = pipeline.ID
			if _, err := tx.CreatePipelineStep(step); err != nil {
				return err
			}
		}
		detail, _ = pipelineDetail(tx.Snapshot(), pipeline.ID)
		return nil
	})
	return detail, res, err
}

func derivePipelineSteps(content string) ([]domain.PipelineStep, error) {
	doc, err := mopparse.Parse(content)
	if err == nil && len(doc.Steps) > 0 {
		steps := make([]domain.PipelineStep, 0, len(doc.Steps))
		for _, spec := range doc.Steps {
			steps = append(steps, domain.PipelineStep{
				Name:     spec.Name,
				Type:     spec.Type,
				Config:   spec.Config,
				Position: spec.Position,
			})
		}
		return steps, nil
	}
	if err != nil && !errors.Is(err, mopparse.ErrNotStructured) {
		return nil, err
	}
	g, err := stepgraph.FromText(content)
	if err != nil {
		return nil, fmt.Errorf("build step graph: %w", err)
	}
	return g.PipelineSteps(0)
}

// UpdatePipeline edits pipeline metadata.
func (s *Service) UpdatePipeline(ctx context.Context, id int64, update PipelineUpdate) (domain.Pipeline, domain.Result, error) {
	if update.Name != nil && strings.TrimSpace(*update.Name) == "" {
		return domain.Pipeline{}, domain.Result{}, invalidf("pipeline name is required")
	}
	if update.Status != nil && !update.Status.Valid() {
		return domain.Pipeline{}, domain.Result{}, invalidf("pipeline status %q is invalid", *update.Status)
	}
	var updated domain.Pipeline
	res, err := s.run(ctx, "update_pipeline", func(tx domain.Transaction) error {
		var err error
		updated, err = tx.UpdatePipeline(id, func(p *domain.Pipeline) error {
			if update.Name != nil {
				p.Name = strings.TrimSpace(*update.Name)
			}
			if update.Description != nil {
				p.Description = strings.TrimSpace(*update.Description)
			}
			if update.Status != nil {
				p.Status = *update.Status
			}
			return nil
		})
		return err
	})
	return updated, res, err
}

// DeletePipeline removes a pipeline with its steps, executions and shares.
func (s *Service) DeletePipeline(ctx context.Context, id int64) (domain.Result, error) {
	return s.run(ctx, "delete_pipeline", func(tx domain.Transaction) error {
		return tx.DeletePipeline(id)
	})
}

// StepInput creates a pipeline step. A nil Position appends the step.
type StepInput struct {
	PipelineID int64          `json:"pipelineId"`
	Name       string         `json:"name"`
	Type       string         `json:"type"`
	Config     map[string]any `json:"config"`
	Position   *int           `json:"position,omitempty"`
}

// ListPipelineSteps returns the steps of a pipeline ordered by position.
func (s *Service) ListPipelineSteps(ctx context.Context, pipelineID int64) ([]domain.PipelineStep, error) {
	var steps []domain.PipelineStep
	err := s.view(ctx, "list_pipeline_steps", func(v domain.TransactionView) error {
		if _, ok := v.FindPipeline(pipelineID); !ok {
			return domain.ErrNotFound{Entity: domain.EntityPipeline, ID: pipelineID}
		}
		steps = v.ListPipelineSteps(pipelineID)
		return nil
	})
	return steps, err
}

// CreatePipelineStep adds a step to a pipeline.
func (s *Service) CreatePipelineStep(ctx context.Context, in StepInput) (domain.PipelineStep, domain.Result, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return domain.PipelineStep{}, domain.Result{}, invalidf("step name is required")
	}
	stepType := strings.TrimSpace(in.Type)
	if stepType == "" {
		stepType = mopparse.DefaultStepType
	}
	var created domain.PipelineStep
	res, err := s.run(ctx, "create_pipeline_step", func(tx domain.Transaction) error {
		if _, ok := tx.FindPipeline(in.PipelineID); !ok {
			return domain.ErrNotFound{Entity: domain.EntityPipeline, ID: in.PipelineID}
		}
		position := 1
		if in.Position != nil {
			position = *in.Position
		} else {
			for _, st := range tx.Snapshot().ListPipelineSteps(in.PipelineID) {
				if st.Position >= position {
					position = st.Position + 1
				}
			}
		}
		var err error
		created, err = tx.CreatePipelineStep(domain.PipelineStep{
			PipelineID: in.PipelineID,
			Name:       name,
			Type:       stepType,
			Config:     in.Config,
			Position:   position,
		})
		return err
	})
	return created, res, err
}

// ListExecutions returns the executions of a pipeline, newest first.
func (s *Service) ListExecutions(ctx context.Context, pipelineID int64) ([]domain.PipelineExecution, error) {
	var executions []domain.PipelineExecution
	err := s.view(ctx, "list_executions", func(v domain.TransactionView) error {
		if _, ok := v.FindPipeline(pipelineID); !ok {
			return domain.ErrNotFound{Entity: domain.EntityPipeline, ID: pipelineID}
		}
		executions = v.ListPipelineExecutions(pipelineID)
		return nil
	})
	return executions, err
}

// StartExecution records a running execution and hands it to the simulator.
// When the simulator cannot take it the execution is failed immediately.
func (s *Service) StartExecution(ctx context.Context, pipelineID int64) (domain.PipelineExecution, domain.Result, error) {
	var created domain.PipelineExecution
	res, err := s.run(ctx, "start_execution", func(tx domain.Transaction) error {
		if _, ok := tx.FindPipeline(pipelineID); !ok {
			return domain.ErrNotFound{Entity: domain.EntityPipeline, ID: pipelineID}
		}
		var err error
		created, err = tx.CreatePipelineExecution(domain.PipelineExecution{
			PipelineID: pipelineID,
			Status:     domain.ExecutionStatusRunning,
			Results:    map[string]any{},
			StartedAt:  s.clock.Now(),
		})
		return err
	})
	if err != nil {
		return domain.PipelineExecution{}, res, err
	}
	s.metrics.ObserveExecution(created.Status)
	if err := s.simulator.Enqueue(created.ID); err != nil {
		s.logger.Warn("execution not scheduled", zap.Int64("execution_id", created.ID), zap.Error(err))
		if failed, ferr := s.simulator.Complete(ctx, created.ID, SimulatedOutcome{}); ferr == nil {
			created = failed
		}
	}
	return created, res, nil
}
