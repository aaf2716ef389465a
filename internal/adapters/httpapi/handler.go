// Package httpapi serves the JSON API used by the web client: MOP file
// uploads, pipelines and their generated scripts, executions, sharing, the
// team list and integration settings.
package httpapi

import (
	"cicdcopilot/internal/core"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Handler routes API requests to the core service.
type Handler struct {
	svc      *core.Service
	logger   *zap.Logger
	gatherer prometheus.Gatherer
	router   chi.Router
}

// Option customises a Handler.
type Option func(*Handler)

// WithLogger sets the request logger.
func WithLogger(logger *zap.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithGatherer selects the registry exposed on /metrics. The default gatherer
// is used otherwise.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(h *Handler) {
		if g != nil {
			h.gatherer = g
		}
	}
}

// NewHandler constructs the API router.
func NewHandler(svc *core.Service, opts ...Option) *Handler {
	h := &Handler{
		svc:      svc,
		logger:   zap.NewNop(),
		gatherer: prometheus.DefaultGatherer,
		router:   chi.NewRouter(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.With(zap.String("component", "httpapi"))
	h.routes()
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) routes() {
	r := h.router
	r.Use(middleware.Recoverer)
	r.Use(h.logRequests)
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "endpoint not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/auth/me", h.handleCurrentUser)
		r.Get("/stats", h.handleStats)

		r.Route("/mop-files", func(r chi.Router) {
			r.Get("/", h.handleListMopFiles)
			r.Get("/recent", h.handleRecentMopFiles)
			r.Post("/upload", h.handleUploadMopFile)
			r.Get("/{id}", h.handleGetMopFile)
			r.Patch("/{id}", h.handleUpdateMopFile)
			r.Delete("/{id}", h.handleDeleteMopFile)
			r.Get("/{id}/download", h.handleDownloadMopFile)
		})
		r.Get("/jenkins/convert/{mopFileID}", h.handleConvertMopFile)

		r.Route("/pipelines", func(r chi.Router) {
			r.Get("/", h.handleListPipelines)
			r.Post("/", h.handleCreatePipeline)
			r.Post("/convert", h.handleConvertToPipeline)
			r.Get("/shared", h.handleListShared)
			r.Post("/share", h.handleSharePipeline)
			r.Get("/{id}", h.handleGetPipeline)
			r.Patch("/{id}", h.handleUpdatePipeline)
			r.Delete("/{id}", h.handleDeletePipeline)
			r.Get("/{id}/jenkins_pipeline", h.handleGeneratedScript)
			r.Delete("/{id}/jenkins_pipeline", h.handleResetScript)
			r.Post("/{id}/update_jenkins_code", h.handleUpdateScript)
			r.Get("/{id}/graph", h.handleGraph)
			r.Get("/{id}/steps", h.handleListSteps)
			r.Get("/{id}/executions", h.handleListExecutions)
		})
		r.Post("/pipeline-steps", h.handleCreateStep)
		r.Post("/pipeline-executions", h.handleStartExecution)

		r.Get("/team", h.handleListTeam)
		r.Post("/team", h.handleAddTeamMember)
		r.Get("/integration-settings/{userID}", h.handleGetSettings)
		r.Post("/integration-settings/{userID}", h.handleUpdateSettings)
	})
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		fields := []zap.Field{
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Duration("duration", time.Since(start)),
		}
		if status >= http.StatusInternalServerError {
			h.logger.Error("request", fields...)
			return
		}
		h.logger.Debug("request", fields...)
	})
}
