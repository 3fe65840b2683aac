package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"casefile/internal/detective"
	"casefile/internal/models"
)

type generateOptions struct {
	configPath string
	params     detective.CaseParams
	trace      bool
	offline    bool
}

func newGenerateCmd() *cobra.Command {
	opts := &generateOptions{}

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate one case and print it as JSON",
		Example: `  casefile generate --config casefile.yaml --difficulty medium --theme pirates
  casefile generate --offline`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(cmd.Context(), opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "path to a YAML or TOML configuration file")
	flags.StringVarP(&opts.params.Difficulty, "difficulty", "d", "easy", "easy, medium or hard")
	flags.StringVarP(&opts.params.Theme, "theme", "t", "", "story theme, e.g. space or pirates")
	flags.StringVar(&opts.params.Location, "location", "", "where the case takes place")
	flags.StringVar(&opts.params.Era, "era", "", "time period of the story")
	flags.StringVarP(&opts.params.Language, "language", "l", "en", "en or th")
	flags.StringVar(&opts.params.CustomScenario, "scenario", "", "extra instructions for the story")
	flags.BoolVar(&opts.trace, "trace", false, "print completion spans to stderr")
	flags.BoolVar(&opts.offline, "offline", false, "print the built-in case without calling a provider")
	return cmd
}

func runGenerate(ctx context.Context, opts *generateOptions, stdout, stderr io.Writer) error {
	var (
		out models.GeneratedCase
		err error
	)
	if opts.offline {
		out, err = detective.New(nil, "").FallbackCase()
	} else {
		out, err = generateOnline(ctx, opts)
	}
	if err != nil {
		return err
	}

	if guilty, ok := out.Guilty(); ok {
		heading := color.New(color.FgHiYellow, color.Bold)
		heading.Fprintf(stderr, "%s\n", out.Case.Title)
		color.New(color.Faint).Fprintf(stderr, "%d clues, %d suspects, culprit: %s\n", len(out.Clues), len(out.Suspects), guilty.Name)
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(out)
}

func generateOnline(ctx context.Context, opts *generateOptions) (models.GeneratedCase, error) {
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return models.GeneratedCase{}, err
	}

	var traceOut io.Writer
	if opts.trace {
		traceOut = os.Stderr
	}
	a, err := buildApp(ctx, cfg, traceOut)
	if err != nil {
		return models.GeneratedCase{}, err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.close(shutdownCtx)
	}()

	out, err := a.service.GenerateCase(ctx, opts.params)
	if err != nil {
		return models.GeneratedCase{}, fmt.Errorf("generate case: %w", err)
	}
	return out, nil
}
