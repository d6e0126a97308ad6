package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/japaniel/jmdictdb/pkg/dictionary"
)

// SinkOp identifies which Sink operation failed.
type SinkOp string

const (
	OpenFailed   SinkOp = "open"
	SchemaFailed SinkOp = "schema"
	WriteFailed  SinkOp = "write"
)

// SinkError wraps a store failure with the operation that caused it.
type SinkError struct {
	Op   SinkOp
	Path string
	ID   int64 // set for WriteFailed
	Err  error
}

func (e *SinkError) Error() string {
	if e.Op == WriteFailed {
		return fmt.Sprintf("sink %s: word %d: %v", e.Op, e.ID, e.Err)
	}
	return fmt.Sprintf("sink %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *SinkError) Unwrap() error { return e.Err }

// Sink owns the SQLite store for one ingestion run.
type Sink struct {
	path string
	conn *sql.DB

	closeOnce sync.Once
	closeErr  error
}

// Open opens or creates the store at path, creating its directory if needed.
func Open(path string) (*Sink, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, &SinkError{Op: OpenFailed, Path: path, Err: fmt.Errorf("ensure data dir: %w", err)}
		}
	}
	conn, err := openSQLite(path)
	if err != nil {
		return nil, &SinkError{Op: OpenFailed, Path: path, Err: err}
	}
	return &Sink{path: path, conn: conn}, nil
}

// Path returns the store's file path.
func (s *Sink) Path() string { return s.path }

// DB exposes the connection for batched transactional writes.
func (s *Sink) DB() *sql.DB { return s.conn }

// EnsureSchema creates the words table if it does not exist.
func (s *Sink) EnsureSchema(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return &SinkError{Op: SchemaFailed, Path: s.path, Err: err}
	}
	if err := InitDB(s.conn); err != nil {
		return &SinkError{Op: SchemaFailed, Path: s.path, Err: err}
	}
	return nil
}

// Upsert writes one record in its own statement.
func (s *Sink) Upsert(ctx context.Context, rec dictionary.NormalizedRecord) error {
	if err := ctx.Err(); err != nil {
		return &SinkError{Op: WriteFailed, Path: s.path, ID: rec.ID, Err: err}
	}
	if err := UpsertWord(s.conn, rec); err != nil {
		return &SinkError{Op: WriteFailed, Path: s.path, ID: rec.ID, Err: err}
	}
	return nil
}

// Close releases the store. Calling it again returns the first result.
func (s *Sink) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}
