package dictionary

import (
	"bufio"
	"context"
	stdjson "encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"sync"
	"sync/atomic"

	"github.com/goccy/go-json"
)

// DocumentKind selects the top-level layout of a dictionary document.
type DocumentKind int

const (
	// KindAuto sniffs the first token: '{' is KindJMdict, '[' is KindJMdictArray.
	KindAuto DocumentKind = iota
	// KindJMdict is the jmdict-simplified release layout: metadata fields plus a "words" array.
	KindJMdict
	// KindJMdictArray is a bare array of entries with no metadata.
	KindJMdictArray
)

// State is the lifecycle of a Stream.
type State int32

const (
	StateIdle State = iota
	StateStreaming
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "idle"
	}
}

// ErrStreamConsumed is yielded when Records is ranged over a second time.
var ErrStreamConsumed = errors.New("dictionary: stream already consumed")

const wordsKey = "words"

// Stream reads entries from a dictionary document one at a time. Only the
// entry being decoded is held in memory, never the whole document.
type Stream struct {
	kind DocumentKind
	path string

	// OnMetadata receives the document metadata at most once, before the
	// first entry. For the object layout it holds the fields preceding
	// "words"; fields after the array are not reported. The bare array
	// layout reports a zero Metadata.
	OnMetadata func(Metadata)
	// OnComplete fires once after the last entry, when the document has been
	// read to the end.
	OnComplete func()

	state    atomic.Int32
	used     atomic.Bool
	complete sync.Once
	metadata sync.Once

	errMu sync.Mutex
	err   error
}

// NewStream prepares a stream over the document at path. Nothing is opened
// until Records is ranged over.
func NewStream(kind DocumentKind, path string) *Stream {
	return &Stream{kind: kind, path: path}
}

// State returns the current lifecycle state.
func (s *Stream) State() State { return State(s.state.Load()) }

// Err returns the terminal error once the stream is StateFailed.
func (s *Stream) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *Stream) fail(err error) error {
	s.errMu.Lock()
	s.err = err
	s.errMu.Unlock()
	s.state.Store(int32(StateFailed))
	return err
}

// Records returns a single-use iterator over the entries in document order.
//
// A yielded error is one of:
//   - *RecordError: one element could not be decoded; iteration continues.
//   - *ParseFault: the document is unreadable; iteration ends.
//   - the context's error; iteration ends.
func (s *Stream) Records(ctx context.Context) iter.Seq2[JMdictEntry, error] {
	return func(yield func(JMdictEntry, error) bool) {
		if !s.used.CompareAndSwap(false, true) {
			yield(JMdictEntry{}, ErrStreamConsumed)
			return
		}
		s.state.Store(int32(StateStreaming))

		f, err := os.Open(s.path)
		if err != nil {
			yield(JMdictEntry{}, s.fail(&ParseFault{Path: s.path, Err: err}))
			return
		}
		defer f.Close()

		w := &walker{
			ctx:    ctx,
			path:   s.path,
			dec:    stdjson.NewDecoder(bufio.NewReaderSize(f, 64*1024)),
			yield:  yield,
			onMeta: s.reportMetadata,
		}
		ok, err := w.document(s.kind)
		if err != nil {
			w.yield(JMdictEntry{}, s.fail(err))
			return
		}
		if !ok {
			// Consumer stopped early.
			return
		}
		s.state.Store(int32(StateCompleted))
		s.complete.Do(func() {
			if s.OnComplete != nil {
				s.OnComplete()
			}
		})
	}
}

func (s *Stream) reportMetadata(m Metadata) {
	s.metadata.Do(func() {
		if s.OnMetadata != nil {
			s.OnMetadata(m)
		}
	})
}

// walker holds the decoder state for one pass over a document.
type walker struct {
	ctx    context.Context
	path   string
	dec    *stdjson.Decoder
	yield  func(JMdictEntry, error) bool
	onMeta func(Metadata)
	index  int
}

func (w *walker) fault(err error) error {
	return &ParseFault{Path: w.path, Offset: w.dec.InputOffset(), Err: err}
}

// document walks the top-level value. ok is false when the consumer stopped.
func (w *walker) document(kind DocumentKind) (ok bool, err error) {
	tok, err := w.dec.Token()
	if err != nil {
		return false, w.fault(err)
	}
	delim, _ := tok.(stdjson.Delim)
	switch {
	case delim == '{' && kind != KindJMdictArray:
		ok, err = w.object()
	case delim == '[' && kind != KindJMdict:
		w.onMeta(Metadata{})
		ok, err = w.array()
	default:
		return false, w.fault(fmt.Errorf("unexpected top-level token %v", tok))
	}
	if err != nil || !ok {
		return ok, err
	}
	if _, err := w.dec.Token(); err != io.EOF {
		if err == nil {
			err = errors.New("trailing data after document")
		}
		return false, w.fault(err)
	}
	return true, nil
}

// object walks {"version": ..., "words": [...], ...}. The opening brace has
// already been consumed. Metadata is reported when "words" is reached.
func (w *walker) object() (bool, error) {
	fields := make(map[string]stdjson.RawMessage)
	seenWords := false
	for w.dec.More() {
		tok, err := w.dec.Token()
		if err != nil {
			return false, w.fault(err)
		}
		key, isKey := tok.(string)
		if !isKey {
			return false, w.fault(fmt.Errorf("expected object key, got %v", tok))
		}
		if key != wordsKey || seenWords {
			var raw stdjson.RawMessage
			if err := w.dec.Decode(&raw); err != nil {
				return false, w.fault(err)
			}
			if !seenWords {
				fields[key] = raw
			}
			continue
		}
		seenWords = true

		tok, err = w.dec.Token()
		if err != nil {
			return false, w.fault(err)
		}
		if tok == nil {
			return false, w.fault(fmt.Errorf("%q is null", wordsKey))
		}
		if d, _ := tok.(stdjson.Delim); d != '[' {
			return false, w.fault(fmt.Errorf("%q is not an array", wordsKey))
		}
		if !w.metadata(fields) {
			return false, nil
		}
		ok, err := w.array()
		if err != nil || !ok {
			return ok, err
		}
	}
	if _, err := w.dec.Token(); err != nil {
		return false, w.fault(err)
	}
	if !seenWords {
		return false, w.fault(fmt.Errorf("document has no %q array", wordsKey))
	}
	return true, nil
}

// metadata decodes the collected top-level fields and reports them. A
// field of the wrong type is a non-fatal RecordError with Index -1. It
// returns false when the consumer stopped.
func (w *walker) metadata(fields map[string]stdjson.RawMessage) bool {
	var meta Metadata
	if len(fields) > 0 {
		b, err := json.Marshal(fields)
		if err == nil {
			err = json.Unmarshal(b, &meta)
		}
		if err != nil {
			recErr := &RecordError{Index: -1, Err: fmt.Errorf("metadata: %w", err)}
			if !w.yield(JMdictEntry{}, recErr) {
				return false
			}
		}
	}
	w.onMeta(meta)
	return true
}

// array streams the elements of an array whose opening bracket has already
// been consumed, then consumes the closing bracket.
func (w *walker) array() (bool, error) {
	for w.dec.More() {
		if err := w.ctx.Err(); err != nil {
			return false, err
		}
		var raw stdjson.RawMessage
		if err := w.dec.Decode(&raw); err != nil {
			return false, w.fault(err)
		}
		idx := w.index
		w.index++

		var entry JMdictEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			if !w.yield(JMdictEntry{}, &RecordError{Index: idx, Err: err}) {
				return false, nil
			}
			continue
		}
		if !w.yield(entry, nil) {
			return false, nil
		}
	}
	if _, err := w.dec.Token(); err != nil {
		return false, w.fault(err)
	}
	return true, nil
}
