package dictionary

import (
	"fmt"
	"strings"
)

// FetchErrorKind classifies a failed download.
type FetchErrorKind int

const (
	TransportFault FetchErrorKind = iota
	MissingRedirectTarget
	BadStatus
	TooManyRedirects
)

func (k FetchErrorKind) String() string {
	switch k {
	case MissingRedirectTarget:
		return "missing redirect target"
	case BadStatus:
		return "bad status"
	case TooManyRedirects:
		return "too many redirects"
	default:
		return "transport fault"
	}
}

// FetchError is returned by Fetcher.Fetch.
type FetchError struct {
	Kind   FetchErrorKind
	URL    string
	Status int      // set for BadStatus and MissingRedirectTarget
	Chain  []string // redirect chain followed before the failure
	Err    error
}

func (e *FetchError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "fetch %s: %s", e.URL, e.Kind)
	if e.Status != 0 {
		fmt.Fprintf(&b, " (%d)", e.Status)
	}
	if len(e.Chain) > 0 {
		fmt.Fprintf(&b, " after %d redirect(s)", len(e.Chain))
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *FetchError) Unwrap() error { return e.Err }

// ExtractError reports a failed archive extraction. ExitCode is -1 when the
// failure did not come from an external tool's exit status.
type ExtractError struct {
	Tool     string
	Archive  string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ExtractError) Error() string {
	msg := fmt.Sprintf("extract %s with %s", e.Archive, e.Tool)
	if e.ExitCode >= 0 {
		msg += fmt.Sprintf(": exit status %d", e.ExitCode)
	}
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ExtractError) Unwrap() error { return e.Err }

// ParseFault is an unrecoverable stream error: malformed JSON syntax or an
// I/O failure. The stream ends after yielding it.
type ParseFault struct {
	Path   string
	Offset int64
	Err    error
}

func (e *ParseFault) Error() string {
	return fmt.Sprintf("parse %s at offset %d: %v", e.Path, e.Offset, e.Err)
}

func (e *ParseFault) Unwrap() error { return e.Err }

// RecordError is a per-record decoding failure. Streaming continues past it.
type RecordError struct {
	Index int
	Err   error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("record %d: %v", e.Index, e.Err)
}

func (e *RecordError) Unwrap() error { return e.Err }
