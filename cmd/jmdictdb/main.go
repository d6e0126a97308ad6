package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"syscall"

	"github.com/japaniel/jmdictdb/pkg/config"
	"github.com/japaniel/jmdictdb/pkg/dictionary"
	"github.com/japaniel/jmdictdb/pkg/ingest"
)

func main() {
	// Setup context for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stderr)
	cancel()
	os.Exit(code)
}

// run executes one import and returns the process exit code:
// 0 on success, 1 when the import fails, 2 for unusable flags or settings.
func run(ctx context.Context, args []string, stderr io.Writer) int {
	cfg, err := config.Load(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "jmdictdb: %v\n", err)
		return 2
	}

	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))

	if cfg.Latest {
		if err := useLatestRelease(ctx, cfg, logger); err != nil {
			logger.Error("failed to resolve latest release", "error", err)
			return 1
		}
	}

	p := ingest.New(cfg.Pipeline())
	p.Logger = logger
	if _, err := p.Run(ctx); err != nil {
		// The pipeline has already logged the failure with its stats.
		return 1
	}
	return 0
}

// useLatestRelease points the download at the newest release and renames
// the expected input to the document that archive contains.
func useLatestRelease(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	assetURL, err := dictionary.LatestReleaseURL(ctx, nil, cfg.AssetPattern)
	if err != nil {
		return err
	}
	u, err := url.Parse(assetURL)
	if err != nil {
		return fmt.Errorf("parse asset url: %w", err)
	}
	cfg.DownloadURL = assetURL
	cfg.Input = filepath.Join(filepath.Dir(cfg.Input), dictionary.DocumentName(path.Base(u.Path)))
	logger.Info("using latest release", "url", assetURL, "input", cfg.Input)
	return nil
}
