package spec

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/cespare/xxhash/v2"
)

var (
	// ErrInvalidSpec is returned when a spec has negative or missing dimensions.
	ErrInvalidSpec = errors.New("invalid load spec")
)

// Mode controls how a source image is shaped into the target dimensions.
type Mode int

const (
	// ModeCrop scales the source to cover Width x Height and crops the overflow.
	ModeCrop Mode = iota
	// ModeFit scales the source to fit inside Width x Height, keeping its aspect ratio.
	// A zero dimension is derived from the other one.
	ModeFit
)

// String returns the lowercase name of the mode.
func (m Mode) String() string {
	switch m {
	case ModeCrop:
		return "crop"
	case ModeFit:
		return "fit"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode converts a mode name into a Mode. An empty name means ModeCrop.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "crop":
		return ModeCrop, nil
	case "fit":
		return ModeFit, nil
	default:
		return 0, fmt.Errorf("unknown mode %q: %w", s, ErrInvalidSpec)
	}
}

// LoadSpec is the immutable key describing the dimensions and shape a bitmap was
// decoded for. The zero value of Width or Height means that dimension is unbounded.
type LoadSpec struct {
	Name   string
	Width  int
	Height int
	Mode   Mode
}

// New creates a validated LoadSpec.
func New(name string, width, height int, mode Mode) (LoadSpec, error) {
	s := LoadSpec{Name: name, Width: width, Height: height, Mode: mode}
	if err := s.Validate(); err != nil {
		return LoadSpec{}, err
	}
	return s, nil
}

// Validate reports whether the spec describes a decodable target.
func (s LoadSpec) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("spec name is empty: %w", ErrInvalidSpec)
	}
	if s.Width < 0 || s.Height < 0 {
		return fmt.Errorf("spec %s has negative dimensions %dx%d: %w", s.Name, s.Width, s.Height, ErrInvalidSpec)
	}
	if s.Width == 0 && s.Height == 0 {
		return fmt.Errorf("spec %s has no bounded dimension: %w", s.Name, ErrInvalidSpec)
	}
	if s.Mode != ModeCrop && s.Mode != ModeFit {
		return fmt.Errorf("spec %s: %w", s.Name, ErrInvalidSpec)
	}
	return nil
}

// IsSizeBounded reports whether every bitmap decoded for this spec has the same
// pixel dimensions.
func (s LoadSpec) IsSizeBounded() bool {
	return s.Width > 0 && s.Height > 0 && s.Mode == ModeCrop
}

// PixelBytes is the size of an NRGBA buffer for a bounded spec, or 0 when unbounded.
func (s LoadSpec) PixelBytes() int {
	if !s.IsSizeBounded() {
		return 0
	}
	return s.Width * s.Height * 4
}

// Key returns a stable string identifying the spec.
func (s LoadSpec) Key() string {
	return fmt.Sprintf("%s:%dx%d:%s", s.Name, s.Width, s.Height, s.Mode)
}

func (s LoadSpec) String() string {
	return "LoadSpec{" + s.Key() + "}"
}

// UniqueKey derives the request deduplication key for loading uri with this spec.
func (s LoadSpec) UniqueKey(uri string) string {
	return fmt.Sprintf("%s|%016x", s.Key(), xxhash.Sum64String(NormalizeURI(uri)))
}

// NormalizeURI lowercases the scheme and host and drops the fragment, so URIs that
// address the same resource map to the same key. Unparseable URIs are returned
// trimmed but otherwise unchanged.
func NormalizeURI(uri string) string {
	uri = strings.TrimSpace(uri)
	u, err := url.Parse(uri)
	if err != nil {
		return uri
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}

// SameURI reports whether a and b address the same resource after normalization.
func SameURI(a, b string) bool {
	return a == b || NormalizeURI(a) == NormalizeURI(b)
}
