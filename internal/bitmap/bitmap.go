// Package bitmap wraps decoded pixel buffers with the metadata the memory cache
// needs to share, recycle, and dispose of them.
package bitmap

import (
	"fmt"
	"image"
	"sync"

	"go.uber.org/zap"

	"github.com/ironsheep/imagepool-mcp/internal/spec"
)

// ReleaseFunc disposes of the pixel storage when a bitmap is closed.
type ReleaseFunc func(pixels *image.NRGBA) error

// Option configures a Bitmap.
type Option func(*Bitmap)

// WithReleaseFunc sets the hook run on Close. Its error is logged, never returned.
func WithReleaseFunc(fn ReleaseFunc) Option {
	return func(b *Bitmap) { b.release = fn }
}

// WithLogger sets the logger used to report release failures.
func WithLogger(l *zap.Logger) Option {
	return func(b *Bitmap) {
		if l != nil {
			b.logger = l
		}
	}
}

// Bitmap is a decoded NRGBA image plus the URL it holds content for, the spec it
// was decoded for, and its in-use state.
//
// A bitmap is in use while it is claimed by a load (held by a request or acquired
// for reuse) or while one or more targets display it. The memory cache never
// recycles or discards a bitmap that is in use.
//
// Bitmap is safe for concurrent use.
type Bitmap struct {
	spec spec.LoadSpec

	mu        sync.Mutex
	url       string
	pixels    *image.NRGBA
	inLoadUse bool
	useCount  int
	closed    bool

	release ReleaseFunc
	logger  *zap.Logger
}

// New wraps pixels decoded from url for the given spec.
func New(url string, s spec.LoadSpec, pixels *image.NRGBA, opts ...Option) *Bitmap {
	b := &Bitmap{
		spec:   s,
		url:    url,
		pixels: pixels,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Spec returns the spec the bitmap was created for. It never changes.
func (b *Bitmap) Spec() spec.LoadSpec {
	return b.spec
}

// URL returns the URL whose content the bitmap holds, or "" once closed.
func (b *Bitmap) URL() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.url
}

// SetURL records that the bitmap now holds content for url. Used when recycled
// storage is decoded into.
func (b *Bitmap) SetURL(url string) {
	b.mu.Lock()
	b.url = url
	b.mu.Unlock()
}

// Image returns the pixel buffer, or nil once closed.
func (b *Bitmap) Image() *image.NRGBA {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pixels
}

// SetImage replaces the pixel buffer. It is a no-op on a closed bitmap.
func (b *Bitmap) SetImage(pixels *image.NRGBA) {
	b.mu.Lock()
	if !b.closed {
		b.pixels = pixels
	}
	b.mu.Unlock()
}

// ByteCount returns the size of the pixel buffer in bytes.
func (b *Bitmap) ByteCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pixels == nil {
		return 0
	}
	return len(b.pixels.Pix)
}

// InUse reports whether the bitmap is claimed by a load or displayed by a target.
func (b *Bitmap) InUse() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.inLoadUse || b.useCount > 0
}

// InLoadUse reports whether the bitmap is claimed by a load.
func (b *Bitmap) InLoadUse() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.inLoadUse
}

// SetInLoadUse sets or clears the load claim.
func (b *Bitmap) SetInLoadUse(inUse bool) {
	b.mu.Lock()
	b.inLoadUse = inUse
	b.mu.Unlock()
}

// IncrementInUse records that one more target displays the bitmap.
func (b *Bitmap) IncrementInUse() {
	b.mu.Lock()
	b.useCount++
	b.mu.Unlock()
}

// DecrementInUse records that a target stopped displaying the bitmap.
// The count never goes below zero.
func (b *Bitmap) DecrementInUse() {
	b.mu.Lock()
	if b.useCount > 0 {
		b.useCount--
	}
	b.mu.Unlock()
}

// UseCount returns the number of targets displaying the bitmap.
func (b *Bitmap) UseCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.useCount
}

// IsClosed reports whether Close has been called.
func (b *Bitmap) IsClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Close disposes of the pixel storage. It is idempotent and never fails: a
// release error is logged and dropped because eviction has no caller to report to.
func (b *Bitmap) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	pixels := b.pixels
	url := b.url
	b.closed = true
	b.pixels = nil
	b.url = ""
	b.mu.Unlock()

	if b.release == nil || pixels == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			b.logger.Warn("bitmap release panicked", zap.String("url", url), zap.Any("panic", r))
		}
	}()
	if err := b.release(pixels); err != nil {
		b.logger.Warn("failed to release bitmap", zap.String("url", url), zap.String("spec", b.spec.Key()), zap.Error(err))
	}
}

func (b *Bitmap) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var w, h int
	if b.pixels != nil {
		w, h = b.pixels.Bounds().Dx(), b.pixels.Bounds().Dy()
	}
	return fmt.Sprintf("Bitmap{url=%q, spec=%s, size=%dx%d, inLoadUse=%t, useCount=%d, closed=%t}",
		b.url, b.spec.Key(), w, h, b.inLoadUse, b.useCount, b.closed)
}
