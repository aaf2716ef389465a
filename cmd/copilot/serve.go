package main

import (
	"cicdcopilot/internal/adapters/httpapi"
	"cicdcopilot/internal/blob"
	"cicdcopilot/internal/config"
	"cicdcopilot/internal/core"
	"cicdcopilot/internal/logging"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := opts.cfg
			if addr != "" {
				cfg.HTTP.Addr = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, opts.logger)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides http.addr")
	return cmd
}

// application is the wired service graph behind the HTTP listener.
type application struct {
	svc     *core.Service
	handler http.Handler
	closer  io.Closer
}

func newApplication(ctx context.Context, cfg config.Config, logger *zap.Logger) (*application, error) {
	engine := core.NewDefaultRulesEngine()
	store, closer, err := core.OpenPersistentStore(cfg.Storage, engine)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	blobs, err := blob.Open(ctx, cfg.Blob)
	if err != nil {
		_ = closer.Close()
		return nil, fmt.Errorf("open blob store: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := core.NewPrometheusMetrics(reg)
	if err != nil {
		_ = closer.Close()
		return nil, err
	}

	svc := core.NewService(store, engine,
		core.WithLogger(logger),
		core.WithBlobStore(blobs),
		core.WithMetricsRecorder(metrics),
		core.WithTracer(core.NewZapTracer(logger)),
		core.WithSimulator(cfg.Execution),
	)
	if cfg.Seed.Enabled {
		seeded, _, err := svc.SeedDemoData(ctx)
		if err != nil {
			_ = closer.Close()
			return nil, fmt.Errorf("seed demo data: %w", err)
		}
		if seeded {
			logger.Info("demo data created", zap.String("storage", string(cfg.Storage.Driver)))
		}
	}
	handler := httpapi.NewHandler(svc,
		httpapi.WithLogger(logger),
		httpapi.WithGatherer(reg),
	)
	return &application{svc: svc, handler: handler, closer: closer}, nil
}

func (a *application) shutdown(ctx context.Context) error {
	return errors.Join(a.svc.Stop(ctx), a.closer.Close())
}

func serve(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	log := logging.Component(logger, "server")
	app, err := newApplication(ctx, cfg, logger)
	if err != nil {
		return err
	}
	app.svc.Start()

	ln, err := net.Listen("tcp", cfg.HTTP.Addr)
	if err != nil {
		_ = app.shutdown(context.Background())
		return fmt.Errorf("listen %s: %w", cfg.HTTP.Addr, err)
	}
	srv := &http.Server{
		Handler:      app.handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(ln)
	}()
	log.Info("listening", zap.String("addr", ln.Addr().String()))

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			_ = app.shutdown(context.Background())
			return fmt.Errorf("serve: %w", err)
		}
	case <-ctx.Done():
		log.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	return app.shutdown(shutdownCtx)
}
