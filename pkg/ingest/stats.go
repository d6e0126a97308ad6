package ingest

import (
	"log/slog"
	"sync/atomic"
)

// Stats counts what happened during one run. Counters are updated from the
// writer goroutines, so every access goes through atomics.
type Stats struct {
	extracted   atomic.Int64
	parseErrors atomic.Int64
	loaded      atomic.Int64
	writeErrors atomic.Int64
}

// Extracted is the number of entries decoded from the document.
func (s *Stats) Extracted() int64 { return s.extracted.Load() }

// ParseErrors is the number of array elements skipped because they did not decode.
func (s *Stats) ParseErrors() int64 { return s.parseErrors.Load() }

// Loaded is the number of rows upserted. Batched rows count once their
// transaction commits.
func (s *Stats) Loaded() int64 { return s.loaded.Load() }

// WriteErrors is the number of rows the store rejected.
func (s *Stats) WriteErrors() int64 { return s.writeErrors.Load() }

// LogValue implements slog.LogValuer.
func (s *Stats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int64("extracted", s.Extracted()),
		slog.Int64("parse_errors", s.ParseErrors()),
		slog.Int64("loaded", s.Loaded()),
		slog.Int64("write_errors", s.WriteErrors()),
	)
}

func (s *Stats) incExtracted() int64   { return s.extracted.Add(1) }
func (s *Stats) incParseErrors() int64 { return s.parseErrors.Add(1) }
func (s *Stats) incLoaded() int64      { return s.loaded.Add(1) }
func (s *Stats) incWriteErrors() int64 { return s.writeErrors.Add(1) }
func (s *Stats) addLoaded(n int64)     { s.loaded.Add(n) }
