package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kjstillabower/himalayan-rainfall-viewer/internal/dataset"
	"github.com/kjstillabower/himalayan-rainfall-viewer/internal/render"
)

func renderCmd(opts *rootOptions) *cobra.Command {
	var (
		index  int
		out    string
		format string
	)

	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render one day's heatmap to a file",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			f, err := outputFormat(format, out)
			if err != nil {
				return err
			}
			cfg, logger, err := bootstrap(opts.configDir)
			if err != nil {
				return err
			}
			a, err := newApp(cfg, logger, false)
			if err != nil {
				return err
			}
			defer a.close()

			data, err := a.viewer.Heatmap(c.Context(), index, f)
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", out, err)
			}
			dates, err := a.viewer.Dates(c.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(c.OutOrStdout(), "wrote %s (day %d, %s)\n", out, index, dataset.FormatDate(dates[index]))
			return nil
		},
	}

	cmd.Flags().IntVar(&index, "index", 0, "time index to render")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file")
	cmd.Flags().StringVar(&format, "format", "", "png or tiff (default: from the output extension, else png)")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}

// outputFormat picks the explicit format, else the output file's extension, else PNG.
func outputFormat(explicit, out string) (render.Format, error) {
	if explicit != "" {
		return render.ParseFormat(explicit)
	}
	ext := strings.TrimPrefix(filepath.Ext(out), ".")
	if ext == "" {
		return render.FormatPNG, nil
	}
	f, err := render.ParseFormat(ext)
	if errors.Is(err, render.ErrUnknownFormat) {
		return "", fmt.Errorf("%w; pass --format", err)
	}
	return f, err
}
