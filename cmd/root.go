package cmd

import (
	"context"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"casefile/internal/log"
)

type rootOptions struct {
	verbose bool
	quiet   bool
	noColor bool
}

// Execute runs the CLI with the provided arguments.
func Execute(ctx context.Context, args []string) error {
	root := newRootCmd()
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "casefile",
		Short: "Detective cases for young sleuths, written by a language model",
		Long: `casefile generates children's detective cases and reasons about clues,
suspects and accusations through a retrying, circuit-broken completion client.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			log.Setup(opts.verbose, opts.quiet)
			if opts.noColor {
				color.NoColor = true
			}
		},
	}

	flags := root.PersistentFlags()
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")
	flags.BoolVarP(&opts.quiet, "quiet", "q", false, "only log warnings and errors")
	flags.BoolVar(&opts.noColor, "no-color", false, "disable colored output")

	root.AddCommand(newServeCmd(), newGenerateCmd())
	return root
}
