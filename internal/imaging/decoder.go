package imaging

import (
	"fmt"
	"image"
	"io"
	"os"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"
	_ "golang.org/x/image/webp" // Register WebP format decoder

	"github.com/ironsheep/imagepool-mcp/internal/bitmap"
	"github.com/ironsheep/imagepool-mcp/internal/spec"
)

// SourceInfo describes the encoded image a bitmap was decoded from.
type SourceInfo struct {
	// Width is the source width in pixels before shaping.
	Width int `json:"width"`

	// Height is the source height in pixels before shaping.
	Height int `json:"height"`

	// Format is the decoder name reported by the image package, e.g. "png" or "jpeg".
	Format string `json:"format"`

	// FileSizeBytes is the size of the encoded file.
	FileSizeBytes int64 `json:"file_size_bytes"`
}

// Result is the outcome of a decode.
type Result struct {
	Bitmap *bitmap.Bitmap
	// Reused is true when the pixels were written into the recycled bitmap.
	Reused bool
	Source SourceInfo
}

// Decoder turns disk-cache files into bitmaps. It holds no state besides its
// logger and is safe for concurrent use.
type Decoder struct {
	logger *zap.Logger
}

// NewDecoder creates a decoder. A nil logger disables logging.
func NewDecoder(logger *zap.Logger) *Decoder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Decoder{logger: logger}
}

// DecodeFile decodes the image at path for s and labels the bitmap with url.
//
// reuse may be a bitmap obtained from the memory cache for s. When its storage
// matches the shaped geometry the pixels are written into it and Result.Reused
// is set; otherwise a new bitmap is allocated and reuse is left untouched. Crop
// specs scale directly into the recycled storage. Other modes shape into a
// temporary image first and copy it over.
//
// # Errors
//
//   - the file cannot be opened or stat'd
//   - the file is not a supported image format
//   - the spec is invalid or the image is empty
func (d *Decoder) DecodeFile(path, url string, s spec.LoadSpec, reuse *bitmap.Bitmap) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	_, format, err := image.DecodeConfig(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image header: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to rewind image: %w", err)
	}

	img, err := imaging.Decode(f, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	res, err := d.decodeImage(img, url, s, reuse)
	if err != nil {
		return nil, err
	}
	res.Source = SourceInfo{
		Width:         img.Bounds().Dx(),
		Height:        img.Bounds().Dy(),
		Format:        format,
		FileSizeBytes: stat.Size(),
	}
	return res, nil
}

// DecodeImage shapes an already decoded image. It follows the same reuse rules as
// DecodeFile.
func (d *Decoder) DecodeImage(img image.Image, url string, s spec.LoadSpec, reuse *bitmap.Bitmap) (*Result, error) {
	res, err := d.decodeImage(img, url, s, reuse)
	if err != nil {
		return nil, err
	}
	res.Source = SourceInfo{Width: img.Bounds().Dx(), Height: img.Bounds().Dy()}
	return res, nil
}

func (d *Decoder) decodeImage(img image.Image, url string, s spec.LoadSpec, reuse *bitmap.Bitmap) (*Result, error) {
	if reuse != nil && reuse.Spec() == s {
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("failed to shape image for %s: %w", s.Key(), err)
		}
		if shapeInto(reuse.Image(), img, s) {
			reuse.SetURL(url)
			d.logger.Debug("scaled into recycled bitmap", zap.String("url", url), zap.String("spec", s.Key()))
			return &Result{Bitmap: reuse, Reused: true}, nil
		}
	}

	// Fit and single-side specs only know their size after shaping, so a
	// recycled bitmap receives a copy of the shaped pixels.
	shaped, err := Shape(img, s)
	if err != nil {
		return nil, fmt.Errorf("failed to shape image for %s: %w", s.Key(), err)
	}

	if reuse != nil && reuse.Spec() == s && copyInto(reuse.Image(), shaped) {
		reuse.SetURL(url)
		d.logger.Debug("decoded into recycled bitmap", zap.String("url", url), zap.String("spec", s.Key()))
		return &Result{Bitmap: reuse, Reused: true}, nil
	}

	bm := bitmap.New(url, s, shaped, bitmap.WithLogger(d.logger))
	return &Result{Bitmap: bm}, nil
}
