package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/japaniel/jmdictdb/pkg/db"
	"github.com/japaniel/jmdictdb/pkg/dictionary"
)

// State is a step of a pipeline run, reported through Pipeline.OnState.
type State string

const (
	StateCheckInput   State = "check_input"
	StateAcquireInput State = "acquire_input"
	StateExtractInput State = "extract_input"
	StateOpenSink     State = "open_sink"
	StateEnsureSchema State = "ensure_schema"
	StateStream       State = "stream"
	StateFinalize     State = "finalize"
	StateSuccess      State = "success"
	StateFailed       State = "failed"
)

// Extractor modes accepted by Config.Extractor.
const (
	ExtractorAuto    = "auto"    // in-process by archive suffix, else the unzip tool
	ExtractorUnzip   = "unzip"   // always the unzip tool
	ExtractorBuiltin = "builtin" // in-process only
)

var (
	// ErrNoDownloadURL means the input document is missing and there is nowhere to fetch it from.
	ErrNoDownloadURL = errors.New("input document missing and no download URL configured")
	// ErrInputMissing means extraction finished but did not produce the input document.
	ErrInputMissing = errors.New("input document not found after extraction")
	// ErrParseFault wraps a *dictionary.ParseFault that ended the stream.
	ErrParseFault = errors.New("dictionary document unreadable")
	// ErrUnknownExtractor is returned for an unsupported Config.Extractor value.
	ErrUnknownExtractor = errors.New("unknown extractor")
)

// DefaultReportInterval is how many entries pass between progress log lines.
const DefaultReportInterval = 10000

// Config describes one ingestion run.
type Config struct {
	// Input is the dictionary document. It is fetched when it does not exist.
	Input string
	// DownloadURL points at an archive containing Input's file name.
	DownloadURL string
	// Output is the SQLite store path.
	Output string
	// DownloadDir receives the temporary archive. Defaults to Input's directory.
	DownloadDir string
	// MaxRecords stops the run after that many entries. 0 means no limit.
	MaxRecords int
	Workers    int
	BatchSize  int
	Retries    int
	// Extractor is one of ExtractorAuto, ExtractorUnzip or ExtractorBuiltin.
	Extractor string

	ReportInterval int
}

// WorkerPoolInterface abstracts the worker pool so tests can inject failing implementations.
type WorkerPoolInterface interface {
	Start(ctx context.Context)
	Submit(ctx context.Context, key uint64, job Job) error
	Close() error
}

// Pipeline fetches, extracts and loads a dictionary document into the store.
type Pipeline struct {
	cfg Config

	// Fetcher downloads the archive. nil uses dictionary.NewFetcher with cfg.Retries.
	Fetcher *dictionary.Fetcher
	// Extractor overrides the one chosen from cfg.Extractor.
	Extractor dictionary.Extractor
	// Logger is used for progress and skipped entries. nil means no logging.
	Logger *slog.Logger
	// OnState is called on every state transition.
	OnState func(State)
	// OnMetadata receives the document metadata once, before the first entry.
	OnMetadata func(dictionary.Metadata)

	// PoolFactory allows tests to inject custom worker pool implementations.
	PoolFactory func(workers, queue int) WorkerPoolInterface

	state State
}

// New creates a Pipeline for cfg.
func New(cfg Config) *Pipeline {
	return &Pipeline{cfg: cfg}
}

func (p *Pipeline) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return p.Logger
}

func (p *Pipeline) enter(s State) {
	p.state = s
	p.logger().Debug("pipeline state", "state", string(s))
	if p.OnState != nil {
		p.OnState(s)
	}
}

// Run executes the pipeline once. The returned Stats are valid even when
// err is non-nil and reflect what was loaded before the failure.
func (p *Pipeline) Run(ctx context.Context) (stats *Stats, err error) {
	stats = &Stats{}
	log := p.logger()
	defer func() {
		if err != nil {
			failedIn := p.state
			p.enter(StateFailed)
			log.Error("ingest failed", "state", string(failedIn), "error", err, "stats", stats)
			return
		}
		p.enter(StateSuccess)
		log.Info("ingest complete", "output", p.cfg.Output, "stats", stats)
	}()

	p.enter(StateCheckInput)
	present, err := fileExists(p.cfg.Input)
	if err != nil {
		return stats, err
	}
	if present {
		log.Info("using existing dictionary document", "path", p.cfg.Input)
	} else if err := p.acquire(ctx); err != nil {
		return stats, err
	}

	p.enter(StateOpenSink)
	sink, err := db.Open(p.cfg.Output)
	if err != nil {
		return stats, err
	}
	defer sink.Close()

	p.enter(StateEnsureSchema)
	if err := sink.EnsureSchema(ctx); err != nil {
		return stats, err
	}

	p.enter(StateStream)
	if err := p.stream(ctx, sink, stats); err != nil {
		return stats, err
	}

	p.enter(StateFinalize)
	if err := sink.Close(); err != nil {
		return stats, fmt.Errorf("close store: %w", err)
	}
	return stats, nil
}

func fileExists(path string) (bool, error) {
	info, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("stat input: %w", err)
	case info.IsDir():
		return false, fmt.Errorf("input %s is a directory", path)
	}
	return true, nil
}

// acquire downloads the archive to a uniquely named temp file and extracts
// it next to Input. The temp file is removed whatever the outcome.
func (p *Pipeline) acquire(ctx context.Context) error {
	if p.cfg.DownloadURL == "" {
		return fmt.Errorf("%w: %s", ErrNoDownloadURL, p.cfg.Input)
	}
	extractor, err := p.extractor()
	if err != nil {
		return err
	}

	p.enter(StateAcquireInput)
	inputDir := filepath.Dir(p.cfg.Input)
	dir := p.cfg.DownloadDir
	if dir == "" {
		dir = inputDir
	}
	for _, d := range []string{dir, inputDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("ensure download dir: %w", err)
		}
	}

	archive := filepath.Join(dir, ".download-"+uuid.NewString())
	defer func() {
		if err := os.Remove(archive); err != nil && !errors.Is(err, fs.ErrNotExist) {
			p.logger().Warn("failed to remove temporary download", "path", archive, "error", err)
		}
	}()

	p.logger().Info("downloading dictionary", "url", p.cfg.DownloadURL)
	if err := p.fetcher().Fetch(ctx, p.cfg.DownloadURL, archive); err != nil {
		return fmt.Errorf("download: %w", err)
	}

	p.enter(StateExtractInput)
	if err := extractor.Extract(ctx, archive, inputDir); err != nil {
		return fmt.Errorf("extract: %w", err)
	}
	present, err := fileExists(p.cfg.Input)
	if err != nil {
		return err
	}
	if !present {
		return fmt.Errorf("%w: %s", ErrInputMissing, p.cfg.Input)
	}
	return nil
}

func (p *Pipeline) fetcher() *dictionary.Fetcher {
	if p.Fetcher != nil {
		return p.Fetcher
	}
	f := dictionary.NewFetcher()
	f.Retries = p.cfg.Retries
	f.Logger = p.Logger
	return f
}

func (p *Pipeline) extractor() (dictionary.Extractor, error) {
	if p.Extractor != nil {
		return p.Extractor, nil
	}
	return ResolveExtractor(p.cfg.Extractor, p.cfg.DownloadURL)
}

// ResolveExtractor picks the extractor for mode given the archive URL.
func ResolveExtractor(mode, sourceURL string) (dictionary.Extractor, error) {
	name := sourceURL
	if u, err := url.Parse(sourceURL); err == nil {
		name = u.Path
	}
	switch mode {
	case "", ExtractorAuto:
		if ex := dictionary.ExtractorFor(name); ex != nil {
			return ex, nil
		}
		return dictionary.UnzipCommand(), nil
	case ExtractorUnzip:
		return dictionary.UnzipCommand(), nil
	case ExtractorBuiltin:
		if ex := dictionary.ExtractorFor(name); ex != nil {
			return ex, nil
		}
		return nil, fmt.Errorf("%w: no built-in extractor for %q", ErrUnknownExtractor, name)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownExtractor, mode)
}

// stream drives the document through the writer. Per-entry decode and
// write failures are counted and skipped; anything else ends the run.
func (p *Pipeline) stream(ctx context.Context, sink *db.Sink, stats *Stats) (err error) {
	log := p.logger()
	w, err := p.newWriter(ctx, sink, stats)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := w.close(); err == nil {
			err = cerr
		}
	}()

	interval := int64(p.cfg.ReportInterval)
	if interval <= 0 {
		interval = DefaultReportInterval
	}

	src := dictionary.NewStream(dictionary.KindAuto, p.cfg.Input)
	src.OnMetadata = func(m dictionary.Metadata) {
		log.Info("dictionary metadata", "version", m.Version, "dict_date", m.DictDate, "languages", m.Languages)
		if p.OnMetadata != nil {
			p.OnMetadata(m)
		}
	}
	src.OnComplete = func() {
		log.Debug("dictionary document read to end", "path", p.cfg.Input)
	}

	for entry, err := range src.Records(ctx) {
		if err != nil {
			var re *dictionary.RecordError
			if errors.As(err, &re) {
				stats.incParseErrors()
				log.Warn("skipping undecodable value", "index", re.Index, "error", err)
				continue
			}
			var pf *dictionary.ParseFault
			if errors.As(err, &pf) {
				return fmt.Errorf("%w: %w", ErrParseFault, err)
			}
			return err
		}

		n := stats.incExtracted()
		if err := w.write(ctx, entry); err != nil {
			return err
		}
		if n%interval == 0 {
			log.Info("ingest progress", "stats", stats)
		}
		if p.cfg.MaxRecords > 0 && n >= int64(p.cfg.MaxRecords) {
			log.Info("record limit reached", "max_records", p.cfg.MaxRecords)
			break
		}
	}
	return nil
}
