package imaging

import (
	"image"

	colorful "github.com/lucasb-eyer/go-colorful"
)

// placeholderSamples bounds how many pixels are averaged per axis.
const placeholderSamples = 16

// PlaceholderColor returns the average colour of img as "#rrggbb", suitable for
// painting a target while its image loads. Averaging happens in linear RGB so
// bright and dark regions blend the way they look. Fully transparent pixels are
// skipped; an empty or transparent image yields "#000000".
func PlaceholderColor(img *image.NRGBA) string {
	if img == nil {
		return "#000000"
	}
	b := img.Bounds()
	if b.Empty() {
		return "#000000"
	}

	stepX := max(1, b.Dx()/placeholderSamples)
	stepY := max(1, b.Dy()/placeholderSamples)

	var r, g, bl float64
	n := 0
	for y := b.Min.Y; y < b.Max.Y; y += stepY {
		for x := b.Min.X; x < b.Max.X; x += stepX {
			c := img.NRGBAAt(x, y)
			if c.A == 0 {
				continue
			}
			lr, lg, lb := colorful.Color{
				R: float64(c.R) / 255,
				G: float64(c.G) / 255,
				B: float64(c.B) / 255,
			}.LinearRgb()
			r += lr
			g += lg
			bl += lb
			n++
		}
	}
	if n == 0 {
		return "#000000"
	}
	return colorful.LinearRgb(r/float64(n), g/float64(n), bl/float64(n)).Clamped().Hex()
}
