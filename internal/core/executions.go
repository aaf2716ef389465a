package core

import (
	"cicdcopilot/pkg/domain"
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Execution log lines and failure detail written by the simulator.
const (
	ExecutionLogSuccess  = "Pipeline executed successfully"
	ExecutionLogFailure  = "Pipeline execution failed: Error in step 2"
	ExecutionErrorDetail = "Step 2 failed with code 1"
)

// ErrSimulatorStopped is returned by Enqueue after Stop.
var ErrSimulatorStopped = errors.New("execution simulator stopped")

// SimulatorConfig tunes the execution simulator.
type SimulatorConfig struct {
	Delay       time.Duration `yaml:"delay"`
	SuccessRate float64       `yaml:"success_rate"`
	QueueSize   int           `yaml:"queue_size"`
}

// DefaultSimulatorConfig mirrors a five second run succeeding 70% of the time.
func DefaultSimulatorConfig() SimulatorConfig {
	return SimulatorConfig{Delay: 5 * time.Second, SuccessRate: 0.7, QueueSize: 32}
}

// Validate rejects negative delays and out of range rates.
func (c SimulatorConfig) Validate() error {
	if c.Delay < 0 {
		return fmt.Errorf("execution delay must not be negative")
	}
	if c.SuccessRate < 0 || c.SuccessRate > 1 {
		return fmt.Errorf("execution success rate %v outside [0,1]", c.SuccessRate)
	}
	if c.QueueSize < 0 {
		return fmt.Errorf("execution queue size must not be negative")
	}
	return nil
}

// SimulatedOutcome is the result drawn for one execution.
type SimulatedOutcome struct {
	Success  bool
	Duration time.Duration
}

// OutcomeFunc draws the outcome of an execution.
type OutcomeFunc func() SimulatedOutcome

// RandomOutcome succeeds with probability rate and reports a run time
// between 500ms and 2.5s.
func RandomOutcome(rate float64) OutcomeFunc {
	return func() SimulatedOutcome {
		return SimulatedOutcome{
			Success:  rand.Float64() < rate,
			Duration: time.Duration(500+rand.IntN(2000)) * time.Millisecond,
		}
	}
}

// SimulatorDeps carries optional collaborators; zero fields get defaults.
type SimulatorDeps struct {
	Clock   Clock
	Logger  *zap.Logger
	Metrics MetricsRecorder
	Outcome OutcomeFunc
}

// ExecutionSimulator stands in for a CI server: every queued execution is
// finished as completed or failed after the configured delay.
type ExecutionSimulator struct {
	store   domain.PersistentStore
	delay   time.Duration
	outcome OutcomeFunc
	clock   Clock
	logger  *zap.Logger
	metrics MetricsRecorder

	queue  chan int64
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// NewExecutionSimulator constructs a simulator. Call Start to begin processing.
func NewExecutionSimulator(store domain.PersistentStore, cfg SimulatorConfig, deps SimulatorDeps) *ExecutionSimulator {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultSimulatorConfig().QueueSize
	}
	if deps.Clock == nil {
		deps.Clock = systemClock{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Metrics == nil {
		deps.Metrics = noopMetrics{}
	}
	if deps.Outcome == nil {
		deps.Outcome = RandomOutcome(cfg.SuccessRate)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &ExecutionSimulator{
		store:   store,
		delay:   cfg.Delay,
		outcome: deps.Outcome,
		clock:   deps.Clock,
		logger:  deps.Logger.With(zap.String("component", "simulator")),
		metrics: deps.Metrics,
		queue:   make(chan int64, cfg.QueueSize),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the dispatch goroutine. Subsequent calls are no-ops.
func (s *ExecutionSimulator) Start() {
	s.once.Do(func() {
		s.wg.Add(1)
		go s.loop()
	})
}

// Stop cancels pending runs and waits for goroutines to exit or ctx to end.
// Executions still waiting for their delay stay in the running state.
func (s *ExecutionSimulator) Stop(ctx context.Context) error {
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Enqueue schedules an execution for completion.
func (s *ExecutionSimulator) Enqueue(id int64) error {
	if s.ctx.Err() != nil {
		return ErrSimulatorStopped
	}
	select {
	case s.queue <- id:
		return nil
	default:
		return fmt.Errorf("execution queue full")
	}
}

func (s *ExecutionSimulator) loop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case id := <-s.queue:
			s.wg.Add(1)
			go s.simulate(id)
		}
	}
}

func (s *ExecutionSimulator) simulate(id int64) {
	defer s.wg.Done()
	if s.delay > 0 {
		timer := time.NewTimer(s.delay)
		defer timer.Stop()
		select {
		case <-s.ctx.Done():
			return
		case <-timer.C:
		}
	}
	if _, err := s.Complete(context.WithoutCancel(s.ctx), id, s.outcome()); err != nil {
		var notFound domain.ErrNotFound
		if errors.As(err, &notFound) {
			s.logger.Debug("execution vanished before completion", zap.Int64("execution_id", id))
			return
		}
		s.logger.Error("complete execution", zap.Int64("execution_id", id), zap.Error(err))
	}
}

// Complete finishes an execution with outcome. Executions already in a
// terminal state are returned unchanged.
func (s *ExecutionSimulator) Complete(ctx context.Context, id int64, outcome SimulatedOutcome) (domain.PipelineExecution, error) {
	var finished domain.PipelineExecution
	changed := false
	_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		var err error
		finished, err = tx.UpdatePipelineExecution(id, func(e *domain.PipelineExecution) error {
			if e.Status.Terminal() {
				return nil
			}
			changed = true
			completedAt := s.clock.Now()
			e.CompletedAt = &completedAt
			if outcome.Success {
				e.Status = domain.ExecutionStatusCompleted
				e.Logs = ExecutionLogSuccess
				e.Results = map[string]any{
					"success": true,
					"metrics": map[string]any{"duration": outcome.Duration.Milliseconds()},
				}
				return nil
			}
			e.Status = domain.ExecutionStatusFailed
			e.Logs = ExecutionLogFailure
			e.Results = map[string]any{"success": false, "error": ExecutionErrorDetail}
			return nil
		})
		return err
	})
	if err != nil {
		return domain.PipelineExecution{}, err
	}
	if changed {
		s.metrics.ObserveExecution(finished.Status)
		s.logger.Info("execution finished",
			zap.Int64("execution_id", id),
			zap.Int64("pipeline_id", finished.PipelineID),
			zap.String("status", string(finished.Status)),
		)
	}
	return finished, nil
}
