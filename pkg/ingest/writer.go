package ingest

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/japaniel/jmdictdb/pkg/db"
	"github.com/japaniel/jmdictdb/pkg/dictionary"
)

// batchFlushInterval bounds how long a partial batch waits for more rows.
const batchFlushInterval = time.Second

// recordWriter normalizes and persists entries. write returns an error only
// when the run must stop; rejected rows are counted in Stats instead.
type recordWriter interface {
	write(ctx context.Context, e dictionary.JMdictEntry) error
	close() error
}

func (p *Pipeline) newWriter(ctx context.Context, sink *db.Sink, stats *Stats) (recordWriter, error) {
	log := p.logger()
	var w recordWriter
	if p.cfg.BatchSize > 1 {
		w = newBatchedWriter(sink, p.cfg.BatchSize, stats, log)
	} else {
		w = &directWriter{sink: sink, stats: stats, log: log}
	}
	if p.cfg.Workers <= 1 {
		return w, nil
	}

	var pool WorkerPoolInterface
	if p.PoolFactory != nil {
		pool = p.PoolFactory(p.cfg.Workers, 2)
	} else {
		pool = NewWorkerPool(p.cfg.Workers, 2)
	}
	pool.Start(ctx)
	return &pooledWriter{pool: pool, next: w}, nil
}

// directWriter upserts each entry before returning, so the stream never runs
// ahead of the store.
type directWriter struct {
	sink  *db.Sink
	stats *Stats
	log   *slog.Logger
}

func (w *directWriter) write(ctx context.Context, e dictionary.JMdictEntry) error {
	rec := dictionary.Normalize(e)
	if err := w.sink.Upsert(ctx, rec); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		w.stats.incWriteErrors()
		w.log.Warn("failed to write entry", "id", rec.ID, "error", err)
		return nil
	}
	w.stats.incLoaded()
	return nil
}

func (w *directWriter) close() error { return nil }

// batchedWriter groups upserts into transactions of BatchSize rows.
type batchedWriter struct {
	bw *BatchWriter
}

func newBatchedWriter(sink *db.Sink, size int, stats *Stats, log *slog.Logger) *batchedWriter {
	bw := NewBatchWriter(sink.DB(), size, batchFlushInterval)
	bw.OnError = func(err error) {
		log.Error("batch write failed", "error", err)
	}
	bw.OnItemError = func(err error) {
		stats.incWriteErrors()
		log.Warn("failed to write entry", "error", err)
	}
	bw.OnCommit = func(n int) { stats.addLoaded(int64(n)) }
	return &batchedWriter{bw: bw}
}

func (w *batchedWriter) write(ctx context.Context, e dictionary.JMdictEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := w.bw.Err(); err != nil {
		return err
	}
	rec := dictionary.Normalize(e)
	return w.bw.Submit(func(ctx context.Context, tx *sql.Tx) error {
		if err := db.UpsertWord(tx, rec); err != nil {
			return &db.SinkError{Op: db.WriteFailed, ID: rec.ID, Err: err}
		}
		return nil
	})
}

func (w *batchedWriter) close() error { return w.bw.Close() }

// pooledWriter hands entries to a keyed worker pool. The key is the entry
// id, so repeated ids reach next in stream order.
type pooledWriter struct {
	pool WorkerPoolInterface
	next recordWriter
}

func (w *pooledWriter) write(ctx context.Context, e dictionary.JMdictEntry) error {
	err := w.pool.Submit(ctx, uint64(e.ID), func(ctx context.Context) error {
		return w.next.write(ctx, e)
	})
	if err != nil {
		// A failed job is the more useful error than the closed queue it caused.
		if perr := w.pool.Close(); perr != nil {
			return perr
		}
		return err
	}
	return nil
}

func (w *pooledWriter) close() error {
	err := w.pool.Close()
	if nerr := w.next.close(); err == nil {
		err = nerr
	}
	return err
}
