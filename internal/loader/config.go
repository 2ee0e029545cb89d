package loader

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrInvalidConfig is returned by Config.Validate.
var ErrInvalidConfig = errors.New("invalid loader config")

// Config holds loader settings.
type Config struct {
	// CacheDir is the directory fetched image files are kept in.
	CacheDir string

	// Workers is the number of loads that fetch or decode at the same time.
	Workers int

	// HTTPTimeout bounds a single network fetch.
	HTTPTimeout time.Duration
}

// DefaultConfig returns a config using a directory under the system temp dir.
func DefaultConfig() Config {
	return Config{
		CacheDir:    filepath.Join(os.TempDir(), "imagepool"),
		Workers:     4,
		HTTPTimeout: 30 * time.Second,
	}
}

// Validate checks that the config can be used.
func (c Config) Validate() error {
	if c.CacheDir == "" {
		return fmt.Errorf("cache dir is empty: %w", ErrInvalidConfig)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d: %w", c.Workers, ErrInvalidConfig)
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("http timeout must be positive, got %s: %w", c.HTTPTimeout, ErrInvalidConfig)
	}
	return nil
}
