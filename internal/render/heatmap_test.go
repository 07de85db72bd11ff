package render

import (
	"bytes"
	"errors"
	"image/color"
	"image/png"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/tiff"

	"github.com/kjstillabower/himalayan-rainfall-viewer/internal/raster"
)

func gradientGrid(lat, lon []float64) raster.Grid {
	vals := make([]float32, 0, len(lat)*len(lon))
	for _, la := range lat {
		for range lon {
			vals = append(vals, float32(la))
		}
	}
	return raster.Grid{Lat: lat, Lon: lon, Values: vals}
}

func TestViridis_Endpoints(t *testing.T) {
	assert.Equal(t, color.RGBA{0x44, 0x01, 0x54, 0xff}, Viridis(0))
	assert.Equal(t, color.RGBA{0xfd, 0xe7, 0x25, 0xff}, Viridis(1))
	assert.Equal(t, Viridis(0), Viridis(-3))
	assert.Equal(t, Viridis(1), Viridis(7))
	assert.Equal(t, NoDataColor, Viridis(math.NaN()))
	assert.Equal(t, color.RGBA{0x21, 0x91, 0x8c, 0xff}, Viridis(0.5))
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, 0.5, normalize(5, 0, 10))
	assert.Equal(t, 0.0, normalize(5, 5, 5))
	assert.True(t, math.IsNaN(normalize(math.NaN(), 0, 1)))
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("PNG")
	require.NoError(t, err)
	assert.Equal(t, FormatPNG, f)
	assert.Equal(t, "image/png", f.ContentType())

	f, err = ParseFormat("tif")
	require.NoError(t, err)
	assert.Equal(t, FormatTIFF, f)
	assert.Equal(t, "image/tiff", f.ContentType())

	_, err = ParseFormat("jpeg")
	assert.True(t, errors.Is(err, ErrUnknownFormat))
}

func TestNewRenderer_Defaults(t *testing.T) {
	r := NewRenderer(Options{})
	assert.Equal(t, DefaultOptions(), r.Options())
}

func TestRender_NorthUp(t *testing.T) {
	r := NewRenderer(Options{CellSize: 2})
	g := gradientGrid([]float64{26, 27, 28}, []float64{75, 76})
	img := r.Render(g, "01-11-2025")

	plotTop := margin + 2*lineH + 4
	top := img.RGBAAt(margin, plotTop)
	bottom := img.RGBAAt(margin, plotTop+3*2-1)
	assert.Equal(t, Viridis(1), top, "northernmost row must be drawn at the top")
	assert.Equal(t, Viridis(0), bottom)
}

func TestRender_DescendingLatitudeStillNorthUp(t *testing.T) {
	r := NewRenderer(Options{CellSize: 2})
	g := gradientGrid([]float64{28, 27, 26}, []float64{75, 76})
	img := r.Render(g, "")

	plotTop := margin + 2*lineH + 4
	assert.Equal(t, Viridis(1), img.RGBAAt(margin, plotTop))
}

func TestRender_NaNCellsGrey(t *testing.T) {
	r := NewRenderer(Options{CellSize: 3})
	nan := float32(math.NaN())
	g := raster.Grid{Lat: []float64{26, 27}, Lon: []float64{75, 76}, Values: []float32{1, 2, nan, 4}}
	img := r.Render(g, "")

	plotTop := margin + 2*lineH + 4
	// NaN is at lat 27 (top row), lon 75 (left column).
	assert.Equal(t, NoDataColor, img.RGBAAt(margin+1, plotTop+1))
}

func TestRender_AllNaN(t *testing.T) {
	r := NewRenderer(Options{})
	nan := float32(math.NaN())
	g := raster.Grid{Lat: []float64{26}, Lon: []float64{75}, Values: []float32{nan}}
	img := r.Render(g, "")
	assert.NotNil(t, img)
}

func TestRender_SizeScalesWithCells(t *testing.T) {
	g := gradientGrid(make([]float64, 11), make([]float64, 21))
	small := NewRenderer(Options{CellSize: 2}).Render(g, "")
	large := NewRenderer(Options{CellSize: 6}).Render(g, "")
	assert.Greater(t, large.Bounds().Dx(), small.Bounds().Dx())
	assert.Greater(t, large.Bounds().Dy(), small.Bounds().Dy())
}

func TestRenderBytes_Decodes(t *testing.T) {
	r := NewRenderer(Options{})
	g := gradientGrid([]float64{26, 27, 28}, []float64{75, 76, 77})

	pngBytes, err := r.RenderBytes(g, "02-11-2025", FormatPNG)
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(pngBytes))
	require.NoError(t, err)
	assert.Equal(t, r.Render(g, "02-11-2025").Bounds(), img.Bounds())

	tiffBytes, err := r.RenderBytes(g, "02-11-2025", FormatTIFF)
	require.NoError(t, err)
	timg, err := tiff.Decode(bytes.NewReader(tiffBytes))
	require.NoError(t, err)
	assert.Equal(t, img.Bounds(), timg.Bounds())

	_, err = r.RenderBytes(g, "", Format("gif"))
	assert.True(t, errors.Is(err, ErrUnknownFormat))
}
