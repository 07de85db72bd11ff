package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kjstillabower/himalayan-rainfall-viewer/internal/dataset"
)

func datesCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "dates",
		Short: "List the time axis as index and DD-MM-YYYY date",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			cfg, logger, err := bootstrap(opts.configDir)
			if err != nil {
				return err
			}
			a, err := newApp(cfg, logger, false)
			if err != nil {
				return err
			}
			defer a.close()

			dates, err := a.viewer.Dates(c.Context())
			if err != nil {
				return err
			}
			out := c.OutOrStdout()
			for i, d := range dates {
				fmt.Fprintf(out, "%d  %s\n", i, dataset.FormatDate(d))
			}
			return nil
		},
	}
}
