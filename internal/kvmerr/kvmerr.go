// Package kvmerr defines the error taxonomy from spec.md §7, so callers
// can tell at a glance which scope should recover from a given failure.
package kvmerr

import "errors"

// Kind classifies an error by the scope that should recover from it.
type Kind int

const (
	// KindConfig covers invalid CLI input or missing required paths —
	// fail fast at startup.
	KindConfig Kind = iota
	// KindCapture covers capture syscall failures — logged, retried
	// with backoff, pipeline keeps serving the last frame.
	KindCapture
	// KindProtocol covers malformed RFB bytes, unsupported security
	// choices, short reads — close the offending session only.
	KindProtocol
	// KindTransport covers TLS handshake failure or socket reset —
	// close the session.
	KindTransport
	// KindHID covers gadget write failure or short report — drop the
	// event, log, keep the session alive.
	KindHID
	// KindFatal covers startup bind failure or an unreachable message
	// bus on Linux — terminate the process.
	KindFatal
)

// Error wraps an underlying error with its taxonomy Kind.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string { return e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

// New wraps err with kind. Returns nil if err is nil.
func New(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
