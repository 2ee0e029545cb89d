// Package imaging decodes image files into bitmaps shaped for a load spec.
//
// The decoder is the collaborator the loader calls outside any cache lock. It
// reads a file from the disk cache, scales and crops it to the spec, and writes
// the pixels either into a recycled bitmap handed out by the memory cache or into
// a freshly allocated one.
//
// # Shaping
//
// Shape applies the spec mode using github.com/disintegration/imaging:
//   - crop with both dimensions: scale to cover, then center-crop (Fill)
//   - crop with one dimension: scale keeping aspect ratio (Resize with a 0 side)
//   - fit with both dimensions: scale down to fit inside, never up (Fit)
//   - fit with one dimension: same as crop with one dimension
//
// # Storage Reuse
//
// A recycled bitmap is only written into when its pixel buffer has exactly the
// shaped geometry. Otherwise the decoder allocates a new bitmap and reports that
// the recycled one was not used, so the caller can return it to the cache.
//
// # Supported Formats
//
// PNG, JPEG, GIF, BMP and TIFF come with the imaging package; WebP is registered
// from golang.org/x/image/webp.
package imaging
