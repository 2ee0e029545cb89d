// Package spec describes the target size and shape a bitmap is decoded for.
//
// A LoadSpec is an immutable value. Two specs that compare equal share the same
// memory-cache bucket, so LoadSpec is used directly as a map key throughout the
// cache and loader packages.
//
// # Bounded and Unbounded Specs
//
// A spec is size-bounded when both dimensions are fixed and the mode crops to
// exactly those dimensions. Every bitmap decoded for a bounded spec has the same
// pixel geometry, so its storage can be recycled for the next decode of that
// spec. Specs with a zero dimension, or that fit the source inside a box, produce
// bitmaps whose geometry depends on the source image and are never recycled.
//
// # Unique Keys
//
// UniqueKey combines the spec key with a digest of the normalized URL. The loader
// uses it to keep at most one in-flight request per URL and spec.
package spec
