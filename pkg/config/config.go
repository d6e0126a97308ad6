package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/japaniel/jmdictdb/pkg/ingest"
)

// Defaults point at the jmdict-simplified 3.5.0 English release.
const (
	DefaultInput       = "./downloads/jmdict-eng-3.5.0.json"
	DefaultDownloadURL = "https://github.com/scriptin/jmdict-simplified/releases/download/3.5.0%2B20230710121913/jmdict-eng-3.5.0+20230710121913.json.zip"
	DefaultOutput      = "./output/jmdict.sqlite3"
	DefaultEnvFile     = ".env"
	// DefaultAssetPattern selects the full English dictionary among release assets.
	DefaultAssetPattern = "jmdict-eng-3"
)

// Environment variables read when the matching flag is not given.
const (
	EnvInput       = "JMDICT_INPUT"
	EnvDownloadURL = "JMDICT_DOWNLOAD_URL"
	EnvOutput      = "JMDICT_OUTPUT"
	EnvWorkers     = "JMDICT_WORKERS"
	EnvBatchSize   = "JMDICT_BATCH_SIZE"
	EnvLogLevel    = "JMDICT_LOG_LEVEL"
)

// ErrInvalid marks a configuration value that cannot be used.
var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	Input       string
	DownloadURL string
	Output      string
	DownloadDir string

	MaxRecords int
	Workers    int
	BatchSize  int
	Retries    int
	Extractor  string

	// Latest resolves DownloadURL from the newest GitHub release matching AssetPattern.
	Latest       bool
	AssetPattern string

	LogLevel slog.Level
}

// Load reads configuration from args, then the environment (including an
// optional .env file), then built-in defaults, in that order of precedence.
// Usage text for a bad flag is written to output.
func Load(args []string, output io.Writer) (*Config, error) {
	cfg := &Config{}
	fset := flag.NewFlagSet("jmdictdb", flag.ContinueOnError)
	fset.SetOutput(output)

	fset.StringVar(&cfg.Input, "input", DefaultInput, "path to the jmdict-simplified JSON document ($"+EnvInput+")")
	fset.StringVar(&cfg.DownloadURL, "download-url", DefaultDownloadURL, "archive to fetch when the input is missing ($"+EnvDownloadURL+")")
	fset.StringVar(&cfg.Output, "output", DefaultOutput, "SQLite store to create or update ($"+EnvOutput+")")
	fset.StringVar(&cfg.DownloadDir, "download-dir", "", "directory for the temporary archive (default: the input's directory)")
	fset.IntVar(&cfg.MaxRecords, "max-records", 0, "stop after this many entries; 0 loads everything")
	fset.IntVar(&cfg.Workers, "workers", 1, "concurrent writers; entries with the same id always share one ($"+EnvWorkers+")")
	fset.IntVar(&cfg.BatchSize, "batch-size", 1, "rows per transaction; 1 writes each row on its own ($"+EnvBatchSize+")")
	fset.IntVar(&cfg.Retries, "retries", 0, "extra download attempts after a network failure")
	fset.StringVar(&cfg.Extractor, "extractor", ingest.ExtractorAuto, "archive extractor: auto, unzip or builtin")
	fset.BoolVar(&cfg.Latest, "latest", false, "download the newest release instead of -download-url")
	fset.StringVar(&cfg.AssetPattern, "asset", DefaultAssetPattern, "release asset name prefix used with -latest")
	logLevel := fset.String("log-level", "info", "debug, info, warn or error ($"+EnvLogLevel+")")
	envFile := fset.String("env-file", DefaultEnvFile, "dotenv file to read before the environment")

	if err := fset.Parse(args); err != nil {
		return nil, err
	}
	if fset.NArg() > 0 {
		return nil, fmt.Errorf("%w: unexpected arguments %q", ErrInvalid, fset.Args())
	}

	if err := loadEnvFile(*envFile); err != nil {
		return nil, err
	}

	set := map[string]bool{}
	fset.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if !set["input"] {
		cfg.Input = firstNonEmpty(strings.TrimSpace(os.Getenv(EnvInput)), cfg.Input)
	}
	if !set["download-url"] {
		cfg.DownloadURL = firstNonEmpty(strings.TrimSpace(os.Getenv(EnvDownloadURL)), cfg.DownloadURL)
	}
	if !set["output"] {
		cfg.Output = firstNonEmpty(strings.TrimSpace(os.Getenv(EnvOutput)), cfg.Output)
	}
	if !set["log-level"] {
		*logLevel = firstNonEmpty(strings.TrimSpace(os.Getenv(EnvLogLevel)), *logLevel)
	}
	var err error
	if !set["workers"] {
		if cfg.Workers, err = envInt(EnvWorkers, cfg.Workers); err != nil {
			return nil, err
		}
	}
	if !set["batch-size"] {
		if cfg.BatchSize, err = envInt(EnvBatchSize, cfg.BatchSize); err != nil {
			return nil, err
		}
	}

	if err := cfg.LogLevel.UnmarshalText([]byte(*logLevel)); err != nil {
		return nil, fmt.Errorf("%w: log level %q", ErrInvalid, *logLevel)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if err := cfg.resolvePaths(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	for name, v := range map[string]int{
		"max-records": c.MaxRecords,
		"workers":     c.Workers,
		"batch-size":  c.BatchSize,
		"retries":     c.Retries,
	} {
		if v < 0 {
			return fmt.Errorf("%w: %s must not be negative, got %d", ErrInvalid, name, v)
		}
	}
	switch c.Extractor {
	case ingest.ExtractorAuto, ingest.ExtractorUnzip, ingest.ExtractorBuiltin:
	default:
		return fmt.Errorf("%w: extractor %q", ErrInvalid, c.Extractor)
	}
	if c.Input == "" || c.Output == "" {
		return fmt.Errorf("%w: input and output paths are required", ErrInvalid)
	}
	return nil
}

func (c *Config) resolvePaths() error {
	for _, p := range []*string{&c.Input, &c.Output, &c.DownloadDir} {
		if *p == "" {
			continue
		}
		abs, err := filepath.Abs(*p)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", *p, err)
		}
		*p = abs
	}
	return nil
}

// Pipeline converts the configuration into a pipeline run description.
func (c *Config) Pipeline() ingest.Config {
	return ingest.Config{
		Input:       c.Input,
		DownloadURL: c.DownloadURL,
		Output:      c.Output,
		DownloadDir: c.DownloadDir,
		MaxRecords:  c.MaxRecords,
		Workers:     c.Workers,
		BatchSize:   c.BatchSize,
		Retries:     c.Retries,
		Extractor:   c.Extractor,
	}
}

// loadEnvFile applies a dotenv file without overriding variables that are
// already set. A missing file is not an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func envInt(key string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q is not an integer", ErrInvalid, key, raw)
	}
	return v, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
