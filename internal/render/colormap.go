package render

import (
	"image/color"
	"math"
)

// viridis holds evenly spaced stops of the Viridis scale.
var viridis = [...]color.RGBA{
	{0x44, 0x01, 0x54, 0xff},
	{0x48, 0x24, 0x75, 0xff},
	{0x41, 0x44, 0x87, 0xff},
	{0x35, 0x5f, 0x8d, 0xff},
	{0x2a, 0x78, 0x8e, 0xff},
	{0x21, 0x91, 0x8c, 0xff},
	{0x22, 0xa8, 0x84, 0xff},
	{0x44, 0xbf, 0x70, 0xff},
	{0x7a, 0xd1, 0x51, 0xff},
	{0xbd, 0xdf, 0x26, 0xff},
	{0xfd, 0xe7, 0x25, 0xff},
}

// NoDataColor is used for NaN cells.
var NoDataColor = color.RGBA{0xd3, 0xd3, 0xd3, 0xff}

// Viridis maps t in [0, 1] onto the Viridis scale by linear interpolation between stops.
// t is clamped; NaN maps to NoDataColor.
func Viridis(t float64) color.RGBA {
	if math.IsNaN(t) {
		return NoDataColor
	}
	if t <= 0 {
		return viridis[0]
	}
	if t >= 1 {
		return viridis[len(viridis)-1]
	}
	pos := t * float64(len(viridis)-1)
	i := int(pos)
	f := pos - float64(i)
	a, b := viridis[i], viridis[i+1]
	return color.RGBA{
		R: lerp(a.R, b.R, f),
		G: lerp(a.G, b.G, f),
		B: lerp(a.B, b.B, f),
		A: 0xff,
	}
}

func lerp(a, b uint8, f float64) uint8 {
	return uint8(math.Round(float64(a) + (float64(b)-float64(a))*f))
}

// normalize maps v from [lo, hi] onto [0, 1]. A degenerate range maps every valid value to 0.
func normalize(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return math.NaN()
	}
	if hi <= lo {
		return 0
	}
	return (v - lo) / (hi - lo)
}
