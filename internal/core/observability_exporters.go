package core

import (
	"cicdcopilot/internal/converter"
	"cicdcopilot/pkg/domain"
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const metricsNamespace = "cicdcopilot"

// PrometheusMetrics publishes service timings, conversion outcomes and
// execution results as Prometheus collectors.
type PrometheusMetrics struct {
	operations  *prometheus.HistogramVec
	conversions *prometheus.CounterVec
	executions  *prometheus.CounterVec
}

// NewPrometheusMetrics registers the collectors on reg (the default registerer
// when nil). Collectors already registered under the same names are reused.
func NewPrometheusMetrics(reg prometheus.Registerer) (*PrometheusMetrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	operations, err := registerCollector(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Subsystem: "service",
		Name:      "operation_duration_seconds",
		Help:      "Duration of service operations.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation", "status"}))
	if err != nil {
		return nil, err
	}
	conversions, err := registerCollector(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "conversions_total",
		Help:      "Pipeline scripts produced, by outcome.",
	}, []string{"outcome"}))
	if err != nil {
		return nil, err
	}
	executions, err := registerCollector(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "executions_total",
		Help:      "Simulated pipeline executions, by status.",
	}, []string{"status"}))
	if err != nil {
		return nil, err
	}
	return &PrometheusMetrics{operations: operations, conversions: conversions, executions: executions}, nil
}

func registerCollector[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// Observe records a service operation outcome.
func (m *PrometheusMetrics) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	status := "error"
	if success {
		status = "success"
	}
	m.operations.WithLabelValues(operation, status).Observe(duration.Seconds())
}

// ObserveConversion counts one produced script.
func (m *PrometheusMetrics) ObserveConversion(outcome converter.Outcome) {
	m.conversions.WithLabelValues(string(outcome)).Inc()
}

// ObserveExecution counts an execution reaching status.
func (m *PrometheusMetrics) ObserveExecution(status domain.ExecutionStatus) {
	m.executions.WithLabelValues(string(status)).Inc()
}

// ZapTracer writes one debug entry per finished span.
type ZapTracer struct {
	logger *zap.Logger
}

// NewZapTracer constructs a tracer logging through logger.
func NewZapTracer(logger *zap.Logger) *ZapTracer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapTracer{logger: logger}
}

// Start implements the Tracer interface.
func (t *ZapTracer) Start(ctx context.Context, operation string) (context.Context, TraceSpan) {
	return ctx, &zapSpan{logger: t.logger, operation: operation, started: time.Now()}
}

type zapSpan struct {
	logger    *zap.Logger
	operation string
	started   time.Time
}

func (s *zapSpan) End(err error) {
	fields := []zap.Field{
		zap.String("operation", s.operation),
		zap.Duration("duration", time.Since(s.started)),
	}
	if err != nil {
		s.logger.Debug("span failed", append(fields, zap.Error(err))...)
		return
	}
	s.logger.Debug("span completed", fields...)
}
