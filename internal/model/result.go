package model

import (
	"io"
	"net/http"
)

// ResultKind tags how a Result was produced.
type ResultKind int

const (
	// ResultPassthrough is an upstream body forwarded unchanged.
	ResultPassthrough ResultKind = iota
	// ResultRecovered is a JSON object salvaged from a malformed upstream body.
	ResultRecovered
	// ResultAuthError is a normalized 401/403 from the upstream.
	ResultAuthError
	// ResultMock is a canned response served while the upstream is down.
	ResultMock
	// ResultFailure is a synthesized error envelope.
	ResultFailure
)

var resultKindNames = map[ResultKind]string{
	ResultPassthrough: "passthrough",
	ResultRecovered:   "recovered",
	ResultAuthError:   "auth_error",
	ResultMock:        "mock",
	ResultFailure:     "failure",
}

func (k ResultKind) String() string {
	if s, ok := resultKindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Result is the normalized outcome of one forwarded request.
// Exactly one of Body and Stream carries the payload; Stream is only set for
// non-JSON passthrough responses and must be closed by the consumer.
type Result struct {
	Kind       ResultKind
	StatusCode int
	Header     http.Header
	Body       []byte
	Stream     io.ReadCloser
}

// Close releases the stream, if any.
func (r *Result) Close() error {
	if r.Stream == nil {
		return nil
	}
	return r.Stream.Close()
}

// Clone returns a copy that is safe to hand to another consumer.
// Buffered bodies are shared because they are never mutated.
func (r *Result) Clone() *Result {
	c := *r
	c.Header = r.Header.Clone()
	return &c
}
