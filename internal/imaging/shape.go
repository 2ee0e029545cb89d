package imaging

import (
	"errors"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"

	"github.com/ironsheep/imagepool-mcp/internal/spec"
)

// ErrEmptyImage is returned when the source image has no pixels.
var ErrEmptyImage = errors.New("image has no pixels")

// Shape scales and crops img for s. The result is always a new *image.NRGBA
// with its origin at (0,0).
func Shape(img image.Image, s spec.LoadSpec) (*image.NRGBA, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	b := img.Bounds()
	if b.Empty() {
		return nil, ErrEmptyImage
	}

	switch {
	case s.Width > 0 && s.Height > 0 && s.Mode == spec.ModeCrop:
		return imaging.Fill(img, s.Width, s.Height, imaging.Center, imaging.Lanczos), nil
	case s.Width > 0 && s.Height > 0 && s.Mode == spec.ModeFit:
		return imaging.Fit(img, s.Width, s.Height, imaging.Lanczos), nil
	case s.Width > 0 || s.Height > 0:
		// Resize derives the zero side from the source aspect ratio.
		return imaging.Resize(img, s.Width, s.Height, imaging.Lanczos), nil
	default:
		return nil, fmt.Errorf("cannot shape for %s: %w", s.Key(), spec.ErrInvalidSpec)
	}
}

// shapeInto scales img straight into dst for a crop spec and reports whether it
// did. Crop output has the spec's exact size, so dst can be sized before the
// source is seen. Other modes derive their size from the source and return false.
func shapeInto(dst *image.NRGBA, img image.Image, s spec.LoadSpec) bool {
	if dst == nil || s.Mode != spec.ModeCrop || s.Width <= 0 || s.Height <= 0 {
		return false
	}
	if dst.Rect != image.Rect(0, 0, s.Width, s.Height) {
		return false
	}
	b := img.Bounds()
	if b.Empty() {
		return false
	}
	draw.CatmullRom.Scale(dst, dst.Rect, img, centerCrop(b, s.Width, s.Height), draw.Src, nil)
	return true
}

// centerCrop returns the largest rectangle centred in b with the aspect ratio w:h.
func centerCrop(b image.Rectangle, w, h int) image.Rectangle {
	sw, sh := b.Dx(), b.Dy()
	cw, ch := sw, sw*h/w
	if ch > sh {
		cw, ch = sh*w/h, sh
	}
	cw, ch = max(cw, 1), max(ch, 1)
	x0 := b.Min.X + (sw-cw)/2
	y0 := b.Min.Y + (sh-ch)/2
	return image.Rect(x0, y0, x0+cw, y0+ch)
}

// copyInto copies src into dst when both have the same geometry and reports
// whether it did.
func copyInto(dst, src *image.NRGBA) bool {
	if dst == nil || src == nil {
		return false
	}
	if dst.Bounds().Size() != src.Bounds().Size() || len(dst.Pix) < len(src.Pix) {
		return false
	}
	dst.Rect = image.Rect(0, 0, src.Rect.Dx(), src.Rect.Dy())
	dst.Stride = src.Stride
	dst.Pix = dst.Pix[:len(src.Pix)]
	copy(dst.Pix, src.Pix)
	return true
}
