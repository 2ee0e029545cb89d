package main

import (
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ironsheep/imagepool-mcp/internal/loader"
)

const (
	envLogLevel    = "IMAGEPOOL_LOG_LEVEL"
	envCacheDir    = "IMAGEPOOL_CACHE_DIR"
	envWorkers     = "IMAGEPOOL_WORKERS"
	envHTTPTimeout = "IMAGEPOOL_HTTP_TIMEOUT"
)

// configFromEnv builds the loader config from the defaults and the variables
// returned by getenv. Unset variables keep their defaults.
func configFromEnv(getenv func(string) string) (loader.Config, error) {
	cfg := loader.DefaultConfig()

	if v := getenv(envCacheDir); v != "" {
		cfg.CacheDir = v
	}
	if v := getenv(envWorkers); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("%s: %w", envWorkers, err)
		}
		cfg.Workers = n
	}
	if v := getenv(envHTTPTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("%s: %w", envHTTPTimeout, err)
		}
		cfg.HTTPTimeout = d
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// newLogger builds a logger writing to stderr, since stdout carries the
// protocol. An empty level means info; debug switches to the console encoder.
func newLogger(level string) (*zap.Logger, error) {
	lvl := zapcore.InfoLevel
	if level != "" {
		var err error
		if lvl, err = zapcore.ParseLevel(level); err != nil {
			return nil, fmt.Errorf("%s: %w", envLogLevel, err)
		}
	}

	zc := zap.NewProductionConfig()
	if lvl == zapcore.DebugLevel {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}
	return zc.Build()
}
