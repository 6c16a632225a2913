// Package syncerr defines the small, closed error taxonomy shared across
// watchers, the upload queue, and the sync orchestrator. It is intentionally
// stdlib-only: the taxonomy is five fixed kinds with no parsing or formatting
// surface that a third-party library would meaningfully improve on.
package syncerr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for propagation and retry decisions.
type Kind string

const (
	Configuration Kind = "configuration"
	Environment   Kind = "environment"
	Decoding      Kind = "decoding"
	Transient     Kind = "transient_upload"
	Permanent     Kind = "permanent_upload"
	Invariant     Kind = "invariant"
)

// Error wraps an underlying error with a Kind so callers can branch on
// errors.As without parsing strings.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with kind.
func New(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// Newf builds a Kind-tagged error from a format string.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// As extracts the Kind from err, if it (or something it wraps) is a *Error.
func As(err error) (Kind, bool) {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind, true
	}
	return "", false
}

// ClassifyStatus maps an HTTP status code to a Kind for the upload path:
// 2xx is not an error (callers should not call this for success), 4xx is
// Permanent (no retry), everything else (5xx, or no response at all) is
// Transient (retry with backoff).
func ClassifyStatus(statusCode int) Kind {
	if statusCode >= 400 && statusCode < 500 {
		return Permanent
	}
	return Transient
}

// ClassifyUpload inspects an HTTP response and a transport error to decide
// whether an upload attempt should be retried.
func ClassifyUpload(resp *http.Response, err error) Kind {
	if err != nil {
		return Transient
	}
	if resp == nil {
		return Transient
	}
	return ClassifyStatus(resp.StatusCode)
}

// Retryable reports whether a Kind should be retried with backoff.
func Retryable(k Kind) bool {
	return k == Transient
}
