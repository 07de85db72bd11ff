package render

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"golang.org/x/image/tiff"

	"github.com/kjstillabower/himalayan-rainfall-viewer/internal/raster"
)

// Format is an output image encoding.
type Format string

const (
	FormatPNG  Format = "png"
	FormatTIFF Format = "tiff"
)

// ErrUnknownFormat is returned by ParseFormat for unsupported encodings.
var ErrUnknownFormat = errors.New("unknown image format")

// ParseFormat accepts png, tiff and tif (case-insensitive).
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "png":
		return FormatPNG, nil
	case "tiff", "tif":
		return FormatTIFF, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
}

// ContentType returns the MIME type for the format.
func (f Format) ContentType() string {
	if f == FormatTIFF {
		return "image/tiff"
	}
	return "image/png"
}

// Options controls heatmap layout and labels.
type Options struct {
	CellSize   int
	Title      string
	ColorLabel string
}

// DefaultOptions matches the viewer's defaults.
func DefaultOptions() Options {
	return Options{CellSize: 4, Title: "Himalayan Rainfall", ColorLabel: "Rainfall (mm/hr)"}
}

const (
	margin    = 8
	lineH     = 16
	barWidth  = 16
	barGap    = 12
	tickGap   = 4
	minPlotPx = 40
)

var (
	background = color.RGBA{0xff, 0xff, 0xff, 0xff}
	ink        = color.RGBA{0x22, 0x22, 0x22, 0xff}
)

// Renderer draws grids as false-colour heatmaps. It holds no mutable state.
type Renderer struct {
	opts Options
}

// NewRenderer returns a Renderer, filling zero options from DefaultOptions.
func NewRenderer(opts Options) *Renderer {
	def := DefaultOptions()
	if opts.CellSize <= 0 {
		opts.CellSize = def.CellSize
	}
	if opts.Title == "" {
		opts.Title = def.Title
	}
	if opts.ColorLabel == "" {
		opts.ColorLabel = def.ColorLabel
	}
	return &Renderer{opts: opts}
}

// Options returns the effective options.
func (r *Renderer) Options() Options { return r.opts }

// Render draws g with north up and east right, a title line with subtitle appended,
// and a colour bar auto-ranged to the grid's valid min and max.
func (r *Renderer) Render(g raster.Grid, subtitle string) *image.RGBA {
	face := basicfont.Face7x13
	cell := r.opts.CellSize
	rows, cols := g.Rows(), g.Cols()
	plotW, plotH := cols*cell, rows*cell

	stats := g.Stats()
	lo, hi := stats.Min, stats.Max
	if stats.Valid == 0 {
		lo, hi = 0, 0
	}
	minLabel := fmt.Sprintf("%.2f", lo)
	maxLabel := fmt.Sprintf("%.2f", hi)
	title := r.opts.Title
	if subtitle != "" {
		title += " - " + subtitle
	}

	labelW := max(measure(face, minLabel), measure(face, maxLabel))
	rightW := max(barGap+barWidth+tickGap+labelW, barGap+measure(face, r.opts.ColorLabel))
	width := margin + max(plotW+rightW, measure(face, title)) + margin
	plotTop := margin + 2*lineH + 4
	height := plotTop + max(plotH, minPlotPx) + margin

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), image.NewUniform(background), image.Point{}, draw.Src)

	drawText(img, face, title, margin, margin+13)
	barX := margin + plotW + barGap
	drawText(img, face, r.opts.ColorLabel, barX, margin+lineH+13)

	latAsc := len(g.Lat) < 2 || g.Lat[1] > g.Lat[0]
	lonAsc := len(g.Lon) < 2 || g.Lon[1] > g.Lon[0]
	for i := 0; i < rows; i++ {
		py := i
		if latAsc {
			py = rows - 1 - i
		}
		for j := 0; j < cols; j++ {
			px := j
			if !lonAsc {
				px = cols - 1 - j
			}
			c := Viridis(normalize(float64(g.At(i, j)), lo, hi))
			x0, y0 := margin+px*cell, plotTop+py*cell
			draw.Draw(img, image.Rect(x0, y0, x0+cell, y0+cell), image.NewUniform(c), image.Point{}, draw.Src)
		}
	}

	barH := max(plotH, minPlotPx)
	for y := 0; y < barH; y++ {
		t := 1.0
		if barH > 1 {
			t = 1 - float64(y)/float64(barH-1)
		}
		c := Viridis(t)
		for x := barX; x < barX+barWidth; x++ {
			img.SetRGBA(x, plotTop+y, c)
		}
	}
	tickX := barX + barWidth + tickGap
	drawText(img, face, maxLabel, tickX, plotTop+10)
	drawText(img, face, minLabel, tickX, plotTop+barH)

	return img
}

// RenderBytes renders g and encodes it in format f.
func (r *Renderer) RenderBytes(g raster.Grid, subtitle string, f Format) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, r.Render(g, subtitle), f); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Encode writes img to w in format f.
func Encode(w io.Writer, img image.Image, f Format) error {
	switch f {
	case FormatPNG:
		return png.Encode(w, img)
	case FormatTIFF:
		return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate, Predictor: true})
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, string(f))
	}
}

func drawText(dst draw.Image, face font.Face, s string, x, y int) {
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(ink),
		Face: face,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(s)
}

func measure(face font.Face, s string) int {
	return font.MeasureString(face, s).Ceil()
}
