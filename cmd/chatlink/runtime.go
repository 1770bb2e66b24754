package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/term"

	"github.com/haasonsaas/chatlink/internal/auth"
	"github.com/haasonsaas/chatlink/internal/client"
	"github.com/haasonsaas/chatlink/internal/config"
	"github.com/haasonsaas/chatlink/internal/observability"
)

// runtime holds the process-wide pieces shared by commands that connect.
type runtime struct {
	logger   *slog.Logger
	client   *client.Client
	shutdown []func(context.Context) error
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	format := cfg.Format
	if format == "" {
		format = "json"
		if term.IsTerminal(int(os.Stderr.Fd())) {
			format = "text"
		}
	}
	return observability.NewLogger(observability.LogConfig{
		Level:  cfg.Level,
		Format: format,
		Output: os.Stderr,
	})
}

func startRuntime(ctx context.Context, cfg *config.Config) (*runtime, error) {
	rt := &runtime{logger: newLogger(cfg.Logging)}

	traceCfg := observability.TraceConfig{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: version,
		SamplingRate:   cfg.Tracing.SamplingRate,
		Insecure:       cfg.Tracing.Insecure,
	}
	if cfg.Tracing.Enabled {
		traceCfg.Endpoint = cfg.Tracing.Endpoint
	}
	tracer, shutdownTracer, err := observability.NewTracer(ctx, traceCfg)
	if err != nil {
		return nil, err
	}
	rt.shutdown = append(rt.shutdown, shutdownTracer)

	reg := observability.NewRegistry(version)
	if cfg.Metrics.Addr != "" {
		rt.serveMetrics(cfg.Metrics.Addr, reg)
	}

	c, err := client.New(client.Options{
		Config:     cfg,
		Logger:     rt.logger,
		Registerer: reg,
		Tracer:     tracer.Tracer(),
	})
	if err != nil {
		rt.close(context.Background())
		return nil, err
	}
	c.OnSessionExpired(func(o auth.Outcome) {
		rt.logger.Error("session expired; store a new credential with `chatlink token set`", "reason", o.Message())
	})
	rt.client = c
	return rt, nil
}

func (rt *runtime) serveMetrics(addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.MetricsHandler(reg))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			rt.logger.Error("metrics server failed", "addr", addr, "error", err)
		}
	}()
	rt.logger.Info("serving metrics", "addr", addr)
	rt.shutdown = append(rt.shutdown, srv.Shutdown)
}

// run starts the client loop. The returned func closes the client while the
// loop is still running, then stops the loop and waits for it.
func (rt *runtime) run(ctx context.Context) func() {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan error, 1)
	go func() { done <- rt.client.Run(runCtx) }()
	return func() {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()
		rt.close(shutdownCtx)
		cancel()
		<-done
	}
}

func (rt *runtime) close(ctx context.Context) {
	if rt.client != nil {
		if err := rt.client.Close(ctx); err != nil && !errors.Is(err, client.ErrClosed) {
			rt.logger.Warn("close client", "error", err)
		}
	}
	for i := len(rt.shutdown) - 1; i >= 0; i-- {
		if err := rt.shutdown[i](ctx); err != nil {
			rt.logger.Warn("shutdown", "error", err)
		}
	}
}
