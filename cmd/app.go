package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"casefile/internal/config"
	"casefile/internal/detective"
	"casefile/internal/metrics"
	"casefile/internal/provider"
	providerfactory "casefile/internal/provider/factory"
	"casefile/internal/router"
)

// app holds the wired components shared by serve and generate.
type app struct {
	cfg      config.Config
	metrics  *metrics.Metrics
	router   *router.Router
	service  *detective.Service
	shutdown func(context.Context) error
}

// buildApp registers the configured providers and assembles the completion
// pipeline. When traceOut is non-nil spans are written to it.
func buildApp(ctx context.Context, cfg config.Config, traceOut io.Writer) (*app, error) {
	registry := provider.NewRegistry()
	if err := providerfactory.RegisterConfiguredProviders(ctx, cfg, registry); err != nil {
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		metrics:  metrics.New(),
		shutdown: func(context.Context) error { return nil },
	}

	var opts []router.Option
	if traceOut != nil {
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(traceOut), stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("create trace exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
		a.shutdown = tp.Shutdown
		opts = append(opts, router.WithTracerProvider(tp))
	}

	rt, err := router.FromConfig(registry, cfg, a.metrics, opts...)
	if err != nil {
		return nil, err
	}
	a.router = rt

	model := cfg.Enabled()[cfg.DefaultProvider].DefaultModel
	a.service = detective.New(rt, model,
		detective.WithFallbacks(cfg.Service.Fallbacks),
		detective.WithParallelism(cfg.Service.Parallelism),
		detective.WithMetrics(a.metrics),
	)

	slog.Debug("completion pipeline ready",
		"provider", cfg.DefaultProvider,
		"model", model,
		"providers", registry.Names(),
		"ceiling", rt.Ceiling(),
	)
	return a, nil
}

func (a *app) close(ctx context.Context) {
	if err := a.shutdown(ctx); err != nil {
		slog.Warn("trace shutdown failed", "err", err)
	}
}
