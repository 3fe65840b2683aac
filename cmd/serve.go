package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"casefile/internal/config"
	"casefile/internal/server"
)

type serveOptions struct {
	configPath string
	port       int
	trace      bool
}

func newServeCmd() *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "path to a YAML or TOML configuration file")
	cmd.Flags().IntVarP(&opts.port, "port", "p", 0, "override server port from configuration")
	cmd.Flags().BoolVar(&opts.trace, "trace", false, "print completion spans to stderr")
	return cmd
}

func runServe(ctx context.Context, opts *serveOptions) error {
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}

	if opts.port != 0 {
		if opts.port < 0 || opts.port > 65535 {
			return fmt.Errorf("port override %d must be a valid TCP port", opts.port)
		}
		cfg.Server.Port = opts.port
	}

	var traceOut io.Writer
	if opts.trace {
		traceOut = os.Stderr
	}
	a, err := buildApp(ctx, cfg, traceOut)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.close(shutdownCtx)
	}()

	srv, err := server.New(cfg, a.service,
		server.WithBreaker(a.router.Breaker()),
		server.WithMetrics(a.metrics),
		server.WithCeiling(a.router.Ceiling()),
	)
	if err != nil {
		return err
	}

	return srv.Run(ctx)
}

// loadConfig reads path, or only defaults and the environment when path is
// empty.
func loadConfig(path string) (config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
