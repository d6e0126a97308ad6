package config

import (
	"flag"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

var envKeys = []string{EnvInput, EnvDownloadURL, EnvOutput, EnvWorkers, EnvBatchSize, EnvLogLevel}

// clearEnv unsets every variable Load reads and restores them after the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func load(t *testing.T, args ...string) (*Config, error) {
	t.Helper()
	return Load(append([]string{"-env-file", ""}, args...), io.Discard)
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := load(t)
	require.NoError(t, err)

	wantInput, err := filepath.Abs(DefaultInput)
	require.NoError(t, err)
	wantOutput, err := filepath.Abs(DefaultOutput)
	require.NoError(t, err)

	require.Equal(t, wantInput, cfg.Input)
	require.Equal(t, wantOutput, cfg.Output)
	require.Equal(t, DefaultDownloadURL, cfg.DownloadURL)
	require.Equal(t, "", cfg.DownloadDir)
	require.Equal(t, 1, cfg.Workers)
	require.Equal(t, 1, cfg.BatchSize)
	require.Equal(t, 0, cfg.MaxRecords)
	require.Equal(t, "auto", cfg.Extractor)
	require.Equal(t, slog.LevelInfo, cfg.LogLevel)
	require.False(t, cfg.Latest)
}

func TestLoadEnvironmentOverridesDefaults(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	t.Setenv(EnvInput, filepath.Join(dir, "in.json"))
	t.Setenv(EnvOutput, filepath.Join(dir, "out.sqlite3"))
	t.Setenv(EnvDownloadURL, "https://example.com/jmdict.json.zip")
	t.Setenv(EnvWorkers, "4")
	t.Setenv(EnvBatchSize, "500")
	t.Setenv(EnvLogLevel, "debug")

	cfg, err := load(t)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "in.json"), cfg.Input)
	require.Equal(t, filepath.Join(dir, "out.sqlite3"), cfg.Output)
	require.Equal(t, "https://example.com/jmdict.json.zip", cfg.DownloadURL)
	require.Equal(t, 4, cfg.Workers)
	require.Equal(t, 500, cfg.BatchSize)
	require.Equal(t, slog.LevelDebug, cfg.LogLevel)
}

func TestLoadFlagsOverrideEnvironment(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	t.Setenv(EnvInput, filepath.Join(dir, "env.json"))
	t.Setenv(EnvWorkers, "4")
	t.Setenv(EnvLogLevel, "debug")

	cfg, err := load(t,
		"-input", filepath.Join(dir, "flag.json"),
		"-workers", "2",
		"-log-level", "warn",
		"-download-url", "",
		"-max-records", "1000",
		"-extractor", "builtin",
	)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "flag.json"), cfg.Input)
	require.Equal(t, 2, cfg.Workers)
	require.Equal(t, slog.LevelWarn, cfg.LogLevel)
	require.Equal(t, "", cfg.DownloadURL)
	require.Equal(t, 1000, cfg.MaxRecords)
	require.Equal(t, "builtin", cfg.Extractor)
}

func TestLoadReadsEnvFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	envFile := filepath.Join(dir, "jmdict.env")
	require.NoError(t, os.WriteFile(envFile, []byte("JMDICT_OUTPUT="+filepath.Join(dir, "dotenv.sqlite3")+"\nJMDICT_BATCH_SIZE=250\n"), 0o644))

	cfg, err := Load([]string{"-env-file", envFile}, io.Discard)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "dotenv.sqlite3"), cfg.Output)
	require.Equal(t, 250, cfg.BatchSize)
}

func TestLoadMissingEnvFileIsIgnored(t *testing.T) {
	clearEnv(t)
	_, err := Load([]string{"-env-file", filepath.Join(t.TempDir(), "absent.env")}, io.Discard)
	require.NoError(t, err)
}

func TestLoadRelativePathsBecomeAbsolute(t *testing.T) {
	clearEnv(t)
	cfg, err := load(t, "-input", "data/jmdict.json", "-download-dir", "tmp")
	require.NoError(t, err)
	require.True(t, filepath.IsAbs(cfg.Input))
	require.True(t, filepath.IsAbs(cfg.DownloadDir))
	require.Equal(t, "jmdict.json", filepath.Base(cfg.Input))
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string][]string{
		"negative workers":  {"-workers", "-1"},
		"negative retries":  {"-retries", "-2"},
		"unknown extractor": {"-extractor", "7z"},
		"bad log level":     {"-log-level", "loud"},
		"stray argument":    {"extra"},
		"empty output":      {"-output", ""},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			_, err := load(t, args...)
			require.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestLoadRejectsNonNumericEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvWorkers, "many")
	_, err := load(t)
	require.ErrorIs(t, err, ErrInvalid)
}

func TestLoadFlagErrors(t *testing.T) {
	clearEnv(t)
	_, err := load(t, "-no-such-flag")
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrInvalid)

	_, err = load(t, "-h")
	require.ErrorIs(t, err, flag.ErrHelp)
}

func TestPipelineConfig(t *testing.T) {
	cfg := &Config{
		Input: "/data/in.json", DownloadURL: "https://example.com/a.zip", Output: "/data/out.sqlite3",
		DownloadDir: "/tmp", MaxRecords: 10, Workers: 3, BatchSize: 50, Retries: 2, Extractor: "unzip",
	}
	pc := cfg.Pipeline()
	require.Equal(t, cfg.Input, pc.Input)
	require.Equal(t, cfg.DownloadURL, pc.DownloadURL)
	require.Equal(t, cfg.Output, pc.Output)
	require.Equal(t, cfg.DownloadDir, pc.DownloadDir)
	require.Equal(t, 10, pc.MaxRecords)
	require.Equal(t, 3, pc.Workers)
	require.Equal(t, 50, pc.BatchSize)
	require.Equal(t, 2, pc.Retries)
	require.Equal(t, "unzip", pc.Extractor)
}
