package ingest

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"
)

// WriteFunc is a callback that performs database writes inside a transaction.
type WriteFunc func(ctx context.Context, tx *sql.Tx) error

// BatchWriter buffers write operations and flushes them in batches inside a transaction.
type BatchWriter struct {
	mu          sync.Mutex
	buf         []WriteFunc
	cap         int
	flushTicker *time.Ticker
	closed      bool
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc

	commitCh chan []WriteFunc
	db       *sql.DB

	// OnError receives batch-level failures (begin, commit, dropped batches).
	OnError func(error)
	// OnItemError, when set, makes item failures non-fatal: the failing
	// WriteFunc is reported here and the rest of the batch still commits.
	// When nil, any item failure rolls back its whole batch.
	OnItemError func(error)
	// OnCommit receives the number of items that succeeded in a batch,
	// once that batch has committed.
	OnCommit func(n int)

	// lastErr stores the first asynchronous error seen by the writer. Protected by errMu.
	errMu   sync.Mutex
	lastErr error
}

// NewBatchWriter creates a new BatchWriter.
// db: the database connection to use for transactions.
// bufferSize: flush when buffer reaches this size.
// flushInterval: flush after this duration (0 to disable).
func NewBatchWriter(db *sql.DB, bufferSize int, flushInterval time.Duration) *BatchWriter {
	if bufferSize <= 0 {
		bufferSize = 10
	}
	ctx, cancel := context.WithCancel(context.Background())
	bw := &BatchWriter{
		buf:         make([]WriteFunc, 0, bufferSize),
		cap:         bufferSize,
		flushTicker: nil,
		ctx:         ctx,
		cancel:      cancel,
		commitCh:    make(chan []WriteFunc, 2), // Buffer a couple of batches
		db:          db,
	}

	bw.wg.Add(1)
	go bw.committer()

	if flushInterval > 0 {
		bw.flushTicker = time.NewTicker(flushInterval)
		bw.wg.Add(1)
		go bw.loop()
	}
	return bw
}

// Submit enqueues a write function. It blocks while two full batches are
// already waiting on the committer.
func (bw *BatchWriter) Submit(w WriteFunc) error {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	if bw.closed {
		return ErrBatchWriterClosed
	}
	bw.buf = append(bw.buf, w)
	if len(bw.buf) >= bw.cap {
		bw.flushLocked()
	}
	return nil
}

// flushLocked assumes bw.mu is held.
func (bw *BatchWriter) flushLocked() {
	if len(bw.buf) == 0 {
		return
	}
	batch := bw.buf
	bw.buf = make([]WriteFunc, 0, bw.cap)

	// Blocking here while holding the lock is the back-pressure: Submit
	// stalls until the committer takes a batch.
	select {
	case bw.commitCh <- batch:
	case <-bw.ctx.Done():
		bw.recordErr(fmt.Errorf("batch writer: dropping batch of %d items due to context cancellation", len(batch)))
	}
}

func (bw *BatchWriter) recordErr(err error) {
	bw.errMu.Lock()
	if bw.lastErr == nil {
		bw.lastErr = err
	}
	bw.errMu.Unlock()
	if bw.OnError != nil {
		bw.OnError(err)
	}
}

// Err returns the first asynchronous error recorded so far, without waiting.
func (bw *BatchWriter) Err() error {
	bw.errMu.Lock()
	defer bw.errMu.Unlock()
	return bw.lastErr
}

func (bw *BatchWriter) committer() {
	defer bw.wg.Done()
	for batch := range bw.commitCh {
		if err := bw.executeBatch(batch); err != nil {
			// Persist the first async error so callers can retrieve it after Close().
			bw.recordErr(err)
		}
	}
}

// runItem reports whether w succeeded. A failure handed to OnItemError is
// not returned.
func (bw *BatchWriter) runItem(ctx context.Context, tx *sql.Tx, w WriteFunc) (bool, error) {
	err := w(ctx, tx)
	if err != nil && bw.OnItemError != nil {
		bw.OnItemError(err)
		return false, nil
	}
	return err == nil, err
}

func (bw *BatchWriter) committed(n int) {
	if n > 0 && bw.OnCommit != nil {
		bw.OnCommit(n)
	}
}

func (bw *BatchWriter) executeBatch(batch []WriteFunc) error {
	written := 0

	// If no DB is configured (e.g. testing without DB), just run callbacks with nil tx
	if bw.db == nil {
		for _, w := range batch {
			ok, err := bw.runItem(bw.ctx, nil, w)
			if err != nil {
				return err
			}
			if ok {
				written++
			}
		}
		bw.committed(written)
		return nil
	}

	// Use background context for flushing to avoid "context canceled" if bw is closing.
	ctx := context.Background()

	tx, err := bw.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin batch tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback() // ignored if committed
	}()

	for _, w := range batch {
		ok, err := bw.runItem(ctx, tx, w)
		if err != nil {
			return err
		}
		if ok {
			written++
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch (%d items): %w", len(batch), err)
	}
	bw.committed(written)
	return nil
}

func (bw *BatchWriter) loop() {
	defer bw.wg.Done()
	for {
		select {
		case <-bw.ctx.Done():
			return
		case <-bw.flushTicker.C:
			bw.mu.Lock()
			if len(bw.buf) > 0 {
				bw.flushLocked()
			}
			bw.mu.Unlock()
		}
	}
}

// Close stops accepting submissions and waits for pending writes to complete.
func (bw *BatchWriter) Close() error {
	bw.mu.Lock()
	if bw.closed {
		bw.mu.Unlock()
		return ErrBatchWriterClosed
	}
	bw.closed = true
	if bw.flushTicker != nil {
		bw.flushTicker.Stop()
	}
	// flush remaining
	if len(bw.buf) > 0 {
		bw.flushLocked()
	}
	bw.mu.Unlock()

	bw.cancel()        // Stop ticker loop
	close(bw.commitCh) // Stop committer loop
	bw.wg.Wait()

	// Return any async error that was recorded during execution
	bw.errMu.Lock()
	defer bw.errMu.Unlock()
	if bw.lastErr != nil {
		return bw.lastErr
	}
	return nil
}

var ErrBatchWriterClosed = &BatchWriterError{"batch writer closed"}

type BatchWriterError struct{ msg string }

func (e *BatchWriterError) Error() string { return e.msg }
