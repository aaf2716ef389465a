// Package core implements the application service behind the HTTP API and
// the command line: MOP file management, pipeline CRUD, script generation
// with stored overrides, sharing, and simulated executions.
package core

import (
	"cicdcopilot/internal/blob"
	"cicdcopilot/internal/converter"
	"cicdcopilot/internal/infra/persistence/memory"
	"cicdcopilot/pkg/domain"
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// DefaultUserID is the account every request acts as. Authentication is out
// of scope, so the service always resolves the current user to this ID.
const DefaultUserID int64 = 1

// ErrInvalidInput marks caller mistakes such as missing names or unknown enum
// values. Wrapped errors carry the detail.
var ErrInvalidInput = errors.New("invalid input")

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// Service exposes higher-level transactional operations over the persistent
// store, the blob store and the converter.
type Service struct {
	store     domain.PersistentStore
	engine    *domain.RulesEngine
	blobs     blob.Store
	converter *converter.Converter
	clock     Clock
	logger    *zap.Logger
	metrics   MetricsRecorder
	tracer    Tracer
	simulator *ExecutionSimulator
	userID    int64
}

// Option customises a Service.
type Option func(*serviceOptions)

type serviceOptions struct {
	clock     Clock
	logger    *zap.Logger
	metrics   MetricsRecorder
	tracer    Tracer
	blobs     blob.Store
	simulator SimulatorConfig
	outcome   OutcomeFunc
	userID    int64
}

func defaultServiceOptions() serviceOptions {
	return serviceOptions{
		clock:     systemClock{},
		logger:    zap.NewNop(),
		metrics:   noopMetrics{},
		tracer:    noopTracer{},
		simulator: DefaultSimulatorConfig(),
		userID:    DefaultUserID,
	}
}

// WithClock overrides the time source.
func WithClock(clock Clock) Option {
	return func(o *serviceOptions) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *serviceOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetricsRecorder sets the metrics sink.
func WithMetricsRecorder(metrics MetricsRecorder) Option {
	return func(o *serviceOptions) {
		if metrics != nil {
			o.metrics = metrics
		}
	}
}

// WithTracer sets the span tracer.
func WithTracer(tracer Tracer) Option {
	return func(o *serviceOptions) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}

// WithBlobStore sets where uploaded MOP bodies are kept. The default is an
// in-memory blob store.
func WithBlobStore(store blob.Store) Option {
	return func(o *serviceOptions) {
		if store != nil {
			o.blobs = store
		}
	}
}

// WithSimulator configures the execution simulator.
func WithSimulator(cfg SimulatorConfig) Option {
	return func(o *serviceOptions) {
		o.simulator = cfg
	}
}

// WithOutcomeFunc replaces the random execution outcome source.
func WithOutcomeFunc(fn OutcomeFunc) Option {
	return func(o *serviceOptions) {
		o.outcome = fn
	}
}

// WithCurrentUser changes the acting user.
func WithCurrentUser(id int64) Option {
	return func(o *serviceOptions) {
		if id > 0 {
			o.userID = id
		}
	}
}

type clockSetter interface {
	SetNowFunc(func() time.Time)
}

// NewService constructs a service backed by the supplied store. The engine is
// the one the store evaluates; it may be nil when the caller does not need it.
func NewService(store domain.PersistentStore, engine *domain.RulesEngine, opts ...Option) *Service {
	options := defaultServiceOptions()
	for _, opt := range opts {
		opt(&options)
	}
	if options.blobs == nil {
		options.blobs = blob.NewMemory()
	}
	if setter, ok := store.(clockSetter); ok && options.clock != nil {
		if _, isSystem := options.clock.(systemClock); !isSystem {
			setter.SetNowFunc(options.clock.Now)
		}
	}
	s := &Service{
		store:   store,
		engine:  engine,
		blobs:   options.blobs,
		clock:   options.clock,
		logger:  options.logger.With(zap.String("component", "core")),
		metrics: options.metrics,
		tracer:  options.tracer,
		userID:  options.userID,
	}
	s.converter = converter.New(converter.WithObserver(s.observeConversion))
	s.simulator = NewExecutionSimulator(store, options.simulator, SimulatorDeps{
		Clock:   options.clock,
		Logger:  s.logger,
		Metrics: options.metrics,
		Outcome: options.outcome,
	})
	return s
}

// NewInMemoryService creates a service and in-memory store with the given rules engine.
func NewInMemoryService(engine *domain.RulesEngine, opts ...Option) *Service {
	if engine == nil {
		engine = NewDefaultRulesEngine()
	}
	return NewService(memory.NewStore(engine), engine, opts...)
}

// Store returns the underlying storage implementation.
func (s *Service) Store() domain.PersistentStore {
	return s.store
}

// Blobs returns the blob store holding uploaded MOP bodies.
func (s *Service) Blobs() blob.Store {
	return s.blobs
}

// Start launches the execution simulator.
func (s *Service) Start() {
	s.simulator.Start()
}

// Stop halts the execution simulator, waiting for in-flight runs or ctx.
func (s *Service) Stop(ctx context.Context) error {
	return s.simulator.Stop(ctx)
}

func (s *Service) observeConversion(outcome converter.Outcome, failure error) {
	s.metrics.ObserveConversion(outcome)
	if failure != nil {
		s.logger.Warn("script generation fell back to template", zap.Error(failure))
	}
}

// instrument wraps fn with a trace span, an operation metric, and error logging.
func (s *Service) instrument(ctx context.Context, operation string, fn func(context.Context) error) error {
	ctx, span := s.tracer.Start(ctx, operation)
	started := time.Now()
	err := fn(ctx)
	span.End(err)
	s.metrics.Observe(ctx, operation, err == nil, time.Since(started))
	if err != nil && !isClientError(err) {
		s.logger.Error("operation failed", zap.String("operation", operation), zap.Error(err))
	}
	return err
}

// run executes fn in a store transaction and logs non-blocking rule violations.
func (s *Service) run(ctx context.Context, operation string, fn func(domain.Transaction) error) (domain.Result, error) {
	var res domain.Result
	err := s.instrument(ctx, operation, func(ctx context.Context) error {
		var err error
		res, err = s.store.RunInTransaction(ctx, fn)
		return err
	})
	for _, v := range res.Violations {
		if v.Severity == domain.SeverityBlock {
			continue
		}
		s.logger.Warn("rule violation",
			zap.String("operation", operation),
			zap.String("rule", v.Rule),
			zap.String("entity", string(v.Entity)),
			zap.Int64("entity_id", v.EntityID),
			zap.String("message", v.Message),
		)
	}
	return res, err
}

// view executes fn against a read-only snapshot.
func (s *Service) view(ctx context.Context, operation string, fn func(domain.TransactionView) error) error {
	return s.instrument(ctx, operation, func(ctx context.Context) error {
		return s.store.View(ctx, fn)
	})
}

func isClientError(err error) bool {
	var notFound domain.ErrNotFound
	var violation domain.RuleViolationError
	return errors.Is(err, ErrInvalidInput) || errors.As(err, &notFound) || errors.As(err, &violation)
}

// CurrentUser returns the acting user.
func (s *Service) CurrentUser(ctx context.Context) (domain.User, error) {
	var user domain.User
	err := s.view(ctx, "current_user", func(v domain.TransactionView) error {
		u, ok := v.FindUser(s.userID)
		if !ok {
			return domain.ErrNotFound{Entity: domain.EntityUser, ID: s.userID}
		}
		user = u
		return nil
	})
	return user, err
}

// Stats summarises stored totals for the dashboard.
type Stats struct {
	TotalMopFiles int `json:"totalMopFiles"`
	Pipelines     int `json:"pipelines"`
	Shared        int `json:"shared"`
}

// Stats counts MOP files, pipelines and shares.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	err := s.view(ctx, "stats", func(v domain.TransactionView) error {
		stats = Stats{
			TotalMopFiles: len(v.ListMopFiles()),
			Pipelines:     len(v.ListPipelines()),
			Shared:        len(v.ListSharedPipelines()),
		}
		return nil
	})
	return stats, err
}
