// Package cli holds the rainfall-viewer commands.
package cli

import (
	"context"
	"os"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	configDir string
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:          "rainfall-viewer",
		Short:        "Browse daily IMERG precipitation over the Himalaya",
		SilenceUsage: true,
		// serve is the default
		RunE: func(c *cobra.Command, _ []string) error {
			return runServe(c.Context(), opts)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configDir, "config-dir", ".", "directory holding config/{ENV_NAME}.yaml and an optional .env")
	cmd.AddCommand(serveCmd(opts), datesCmd(opts), renderCmd(opts))
	return cmd
}
