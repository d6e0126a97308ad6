package ingest

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/japaniel/jmdictdb/pkg/db"
	"github.com/japaniel/jmdictdb/pkg/dictionary"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
)

// openWords returns an in-memory store with the words table. A single
// connection keeps every transaction on the same database.
func openWords(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	conn.SetMaxOpenConns(1)
	require.NoError(t, db.InitDB(conn))
	return conn
}

func upsertKana(id int64, kana string) WriteFunc {
	rec := dictionary.NormalizedRecord{ID: id, Kana: fmt.Sprintf(`[{"c":0,"x":%q}]`, kana)}
	return func(ctx context.Context, tx *sql.Tx) error {
		return db.UpsertWord(tx, rec)
	}
}

func closeWithin(t *testing.T, bw *BatchWriter, d time.Duration) error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- bw.Close() }()
	select {
	case err := <-done:
		return err
	case <-time.After(d):
		t.Fatal("timeout waiting for batch commit/close")
		return nil
	}
}

func TestBatchWriterTransactions(t *testing.T) {
	conn := openWords(t)

	bw := NewBatchWriter(conn, 2, 0)
	var mu sync.Mutex
	var errs []error
	var commits []int
	bw.OnError = func(e error) {
		mu.Lock()
		errs = append(errs, e)
		mu.Unlock()
	}
	bw.OnCommit = func(n int) {
		mu.Lock()
		commits = append(commits, n)
		mu.Unlock()
	}

	require.NoError(t, bw.Submit(upsertKana(1000000, "ヽ")))
	require.NoError(t, bw.Submit(upsertKana(1000010, "ゝ")))
	require.NoError(t, closeWithin(t, bw, time.Second))

	require.Empty(t, errs)
	require.Equal(t, []int{2}, commits)
	n, err := db.CountWords(conn)
	require.NoError(t, err)
	require.EqualValues(t, 2, n)
	w, err := db.GetWord(conn, 1000010)
	require.NoError(t, err)
	require.Equal(t, `[{"c":0,"x":"ゝ"}]`, w.Kana)
}

func TestBatchWriterRollback(t *testing.T) {
	conn := openWords(t)
	require.NoError(t, db.UpsertWord(conn, dictionary.NormalizedRecord{ID: 1, Kana: `[{"c":0,"x":"あ"}]`}))

	bw := NewBatchWriter(conn, 2, 0)
	errCh := make(chan error, 1)
	bw.OnError = func(e error) { errCh <- e }
	committed := 0
	bw.OnCommit = func(n int) { committed += n }

	// First item overwrites row 1, second fails: the whole batch rolls back.
	require.NoError(t, bw.Submit(upsertKana(1, "ア")))
	require.NoError(t, bw.Submit(func(ctx context.Context, tx *sql.Tx) error {
		return fmt.Errorf("intentional error")
	}))
	require.Error(t, bw.Close())

	select {
	case err := <-errCh:
		require.ErrorContains(t, err, "intentional error")
	default:
		t.Fatal("expected OnError to be called")
	}
	require.Zero(t, committed, "a rolled back batch must not be counted")

	w, err := db.GetWord(conn, 1)
	require.NoError(t, err)
	require.Equal(t, `[{"c":0,"x":"あ"}]`, w.Kana)
}

func TestBatchWriterItemErrorsAreReported(t *testing.T) {
	conn := openWords(t)

	bw := NewBatchWriter(conn, 3, 0)
	var itemErrs []error
	bw.OnItemError = func(e error) { itemErrs = append(itemErrs, e) }
	committed := 0
	bw.OnCommit = func(n int) { committed += n }

	require.NoError(t, bw.Submit(upsertKana(1, "あ")))
	require.NoError(t, bw.Submit(func(ctx context.Context, tx *sql.Tx) error {
		return fmt.Errorf("rejected")
	}))
	require.NoError(t, bw.Submit(upsertKana(2, "い")))
	require.NoError(t, bw.Close())

	require.Len(t, itemErrs, 1)
	require.Equal(t, 2, committed)
	n, err := db.CountWords(conn)
	require.NoError(t, err)
	require.EqualValues(t, 2, n, "the rest of the batch should commit")
}

func TestBatchWriterErrIsVisibleBeforeClose(t *testing.T) {
	bw := NewBatchWriter(nil, 1, 0)
	require.NoError(t, bw.Submit(func(ctx context.Context, tx *sql.Tx) error {
		return fmt.Errorf("intentional error")
	}))
	require.Eventually(t, func() bool { return bw.Err() != nil }, time.Second, 5*time.Millisecond,
		"expected Err to report the failed batch")
	require.Error(t, bw.Close())
	require.Equal(t, ErrBatchWriterClosed, bw.Close())
}

func TestBatchWriterFlushesBySize(t *testing.T) {
	bw := NewBatchWriter(nil, 5, 0)
	var mu sync.Mutex
	called := 0
	var commits []int
	bw.OnCommit = func(n int) { commits = append(commits, n) }
	for i := 0; i < 12; i++ {
		require.NoError(t, bw.Submit(func(ctx context.Context, tx *sql.Tx) error {
			mu.Lock()
			called++
			mu.Unlock()
			return nil
		}))
	}
	require.NoError(t, bw.Close())
	require.Equal(t, 12, called)
	require.Equal(t, []int{5, 5, 2}, commits)
}

func TestBatchWriterFlushesOnInterval(t *testing.T) {
	conn := openWords(t)
	bw := NewBatchWriter(conn, 10, 50*time.Millisecond)
	defer bw.Close()

	require.NoError(t, bw.Submit(upsertKana(7, "犬")))
	require.Eventually(t, func() bool {
		n, err := db.CountWords(conn)
		return err == nil && n == 1
	}, time.Second, 10*time.Millisecond, "partial batch was not flushed by the ticker")
}

func TestBatchWriterDropsBatchOnCancel(t *testing.T) {
	// Keep the committer busy on the first batch. commitCh holds two
	// batches, so by the fourth submit a canceled writer must drop one.
	bw := NewBatchWriter(nil, 1, 0)
	defer bw.Close()
	errCh := make(chan error, 1)
	bw.OnError = func(e error) {
		select {
		case errCh <- e:
		default:
		}
	}

	blocker := make(chan struct{})
	require.NoError(t, bw.Submit(func(ctx context.Context, tx *sql.Tx) error {
		<-blocker
		return nil
	}))
	require.NoError(t, bw.Submit(func(ctx context.Context, tx *sql.Tx) error { return nil }))

	bw.cancel()

	for i := 0; i < 2; i++ {
		require.NoError(t, bw.Submit(func(ctx context.Context, tx *sql.Tx) error { return nil }))
	}
	close(blocker)

	select {
	case e := <-errCh:
		require.ErrorContains(t, e, "dropping batch")
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected OnError to be called when batch dropped")
	}
}
