package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ironsheep/imagepool-mcp/internal/loader"
	"github.com/ironsheep/imagepool-mcp/internal/server"
)

// Version information - set by ldflags during build
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	// Handle --version and -v flags
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "--version", "-v", "version":
			fmt.Printf("imagepool-mcp %s\n", Version)
			fmt.Printf("  Build time: %s\n", BuildTime)
			fmt.Printf("  Git commit: %s\n", GitCommit)
			return
		case "--help", "-h", "help":
			fmt.Println("imagepool-mcp - MCP server for pooled image loading")
			fmt.Println()
			fmt.Println("Usage: imagepool-mcp [options]")
			fmt.Println()
			fmt.Println("Options:")
			fmt.Println("  --version, -v    Print version information")
			fmt.Println("  --help, -h       Print this help message")
			fmt.Println()
			fmt.Println("Environment variables (also read from .env):")
			fmt.Printf("  %s=debug       Log level (debug, info, warn, error)\n", envLogLevel)
			fmt.Printf("  %s=<dir>       Directory for downloaded images\n", envCacheDir)
			fmt.Printf("  %s=4             Concurrent fetch and decode workers\n", envWorkers)
			fmt.Printf("  %s=30s      Timeout for a single HTTP fetch\n", envHTTPTimeout)
			fmt.Println()
			fmt.Println("This server communicates via MCP protocol over stdin/stdout.")
			fmt.Println("Configure it in your MCP client (e.g., Claude Desktop).")
			return
		}
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "imagepool-mcp: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// A missing .env file is normal; the environment is used as is.
	envErr := godotenv.Load()

	logger, err := newLogger(os.Getenv(envLogLevel))
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if envErr != nil && !errors.Is(envErr, os.ErrNotExist) {
		logger.Warn("failed to read .env file", zap.Error(envErr))
	}

	cfg, err := configFromEnv(os.Getenv)
	if err != nil {
		return err
	}
	logger.Debug("starting imagepool-mcp",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("commit", GitCommit),
		zap.String("cache_dir", cfg.CacheDir),
		zap.Int("workers", cfg.Workers),
		zap.Duration("http_timeout", cfg.HTTPTimeout))

	ld, err := loader.New(cfg, loader.WithLogger(logger.Named("loader")))
	if err != nil {
		return err
	}
	defer ld.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(ld,
		server.WithLogger(logger.Named("server")),
		server.WithVersion(Version))
	if err := srv.Serve(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}
