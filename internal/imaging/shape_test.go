package imaging

import (
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/ironsheep/imagepool-mcp/internal/spec"
)

func TestShape(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 200, 100))

	tests := []struct {
		name  string
		spec  spec.LoadSpec
		wantW int
		wantH int
	}{
		{"crop both", spec.LoadSpec{Name: "a", Width: 50, Height: 50, Mode: spec.ModeCrop}, 50, 50},
		{"crop width only", spec.LoadSpec{Name: "a", Width: 100, Mode: spec.ModeCrop}, 100, 50},
		{"crop height only", spec.LoadSpec{Name: "a", Height: 20, Mode: spec.ModeCrop}, 40, 20},
		{"fit both", spec.LoadSpec{Name: "a", Width: 50, Height: 50, Mode: spec.ModeFit}, 50, 25},
		{"fit larger than source", spec.LoadSpec{Name: "a", Width: 400, Height: 400, Mode: spec.ModeFit}, 200, 100},
		{"fit width only", spec.LoadSpec{Name: "a", Width: 400, Mode: spec.ModeFit}, 400, 200},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Shape(src, tt.spec)
			if err != nil {
				t.Fatalf("Shape failed: %v", err)
			}
			b := got.Bounds()
			if b.Dx() != tt.wantW || b.Dy() != tt.wantH {
				t.Errorf("got %dx%d, want %dx%d", b.Dx(), b.Dy(), tt.wantW, tt.wantH)
			}
			if b.Min != (image.Point{}) {
				t.Errorf("origin: got %v, want (0,0)", b.Min)
			}
		})
	}
}

func TestShape_EmptyImage(t *testing.T) {
	_, err := Shape(image.NewRGBA(image.Rectangle{}), spec.LoadSpec{Name: "a", Width: 1, Height: 1})
	if !errors.Is(err, ErrEmptyImage) {
		t.Errorf("expected ErrEmptyImage, got %v", err)
	}
}

func TestCopyInto(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	src.Pix[0] = 7

	if copyInto(image.NewNRGBA(image.Rect(0, 0, 3, 2)), src) {
		t.Error("copyInto must refuse a different geometry")
	}
	if copyInto(nil, src) {
		t.Error("copyInto must refuse a nil destination")
	}

	dst := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	if !copyInto(dst, src) {
		t.Fatal("copyInto refused matching geometry")
	}
	if dst.Pix[0] != 7 {
		t.Error("pixels were not copied")
	}
}

func TestShapeInto_CropWritesRecycledStorage(t *testing.T) {
	// A wide source whose middle half is blue and outer quarters red. The
	// centre crop for a square spec covers only the blue band.
	src := image.NewNRGBA(image.Rect(0, 0, 40, 20))
	for y := 0; y < 20; y++ {
		for x := 0; x < 40; x++ {
			c := color.NRGBA{255, 0, 0, 255}
			if x >= 10 && x < 30 {
				c = color.NRGBA{0, 0, 255, 255}
			}
			src.SetNRGBA(x, y, c)
		}
	}

	dst := image.NewNRGBA(image.Rect(0, 0, 20, 20))
	pix := &dst.Pix[0]
	s := spec.LoadSpec{Name: "thumb", Width: 20, Height: 20, Mode: spec.ModeCrop}
	if !shapeInto(dst, src, s) {
		t.Fatal("shapeInto refused matching crop geometry")
	}
	if &dst.Pix[0] != pix {
		t.Error("shapeInto replaced the destination storage")
	}
	for _, p := range []image.Point{{0, 0}, {10, 10}, {19, 19}} {
		if c := dst.NRGBAAt(p.X, p.Y); c.R > 5 || c.B < 250 {
			t.Errorf("pixel %v: got %v, want blue", p, c)
		}
	}
}

func TestShapeInto_Refuses(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 10, 10))
	crop := spec.LoadSpec{Name: "thumb", Width: 4, Height: 4, Mode: spec.ModeCrop}

	tests := []struct {
		name string
		dst  *image.NRGBA
		s    spec.LoadSpec
	}{
		{"nil destination", nil, crop},
		{"wrong size", image.NewNRGBA(image.Rect(0, 0, 4, 5)), crop},
		{"fit mode", image.NewNRGBA(image.Rect(0, 0, 4, 4)), spec.LoadSpec{Name: "f", Width: 4, Height: 4, Mode: spec.ModeFit}},
		{"single side", image.NewNRGBA(image.Rect(0, 0, 4, 4)), spec.LoadSpec{Name: "w", Width: 4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if shapeInto(tt.dst, src, tt.s) {
				t.Error("shapeInto should have refused")
			}
		})
	}
}

func TestCenterCrop(t *testing.T) {
	tests := []struct {
		b    image.Rectangle
		w, h int
		want image.Rectangle
	}{
		{image.Rect(0, 0, 40, 20), 1, 1, image.Rect(10, 0, 30, 20)},
		{image.Rect(0, 0, 20, 40), 1, 1, image.Rect(0, 10, 20, 30)},
		{image.Rect(0, 0, 100, 100), 2, 1, image.Rect(0, 25, 100, 75)},
		{image.Rect(5, 5, 15, 15), 1, 1, image.Rect(5, 5, 15, 15)},
	}
	for _, tt := range tests {
		if got := centerCrop(tt.b, tt.w, tt.h); got != tt.want {
			t.Errorf("centerCrop(%v, %d, %d): got %v, want %v", tt.b, tt.w, tt.h, got, tt.want)
		}
	}
}
