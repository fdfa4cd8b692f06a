// Package starerrors defines the sentinel error taxonomy shared across the
// STAR retrieval core, so callers at every layer can branch on Code rather
// than matching error strings.
package starerrors

import (
	"fmt"

	"starcore/internal/logging"
)

// Code classifies a failure into one of the taxonomy's fixed categories.
type Code string

const (
	// QueryMalformed means a query could not be parsed.
	QueryMalformed Code = "query_malformed"
	// IndexUnavailable means the SQLite index store could not be opened
	// or queried.
	IndexUnavailable Code = "index_unavailable"
	// VectorIndexMissing means sqlite-vec/ANN search is unavailable; search
	// degrades to brute-force rather than failing.
	VectorIndexMissing Code = "vector_index_missing"
	// EmbedderUnavailable means the embedding backend could not be reached;
	// callers fall back to a zero-vector embedding and mark the molecule
	// for later re-embedding.
	EmbedderUnavailable Code = "embedder_unavailable"
	// MirrorMiss means a byte range requested from the mirror store could
	// not be read because the underlying file is gone or truncated.
	MirrorMiss Code = "mirror_miss"
	// Deadline means a query or ingestion step exceeded its context
	// deadline.
	Deadline Code = "deadline"
	// InternalInvariantViolated marks a bug: an invariant the rest of the
	// system assumes always holds (edge ordering, budget partitioning,
	// SimHash symmetry, ...) did not. Never swallowed silently.
	InternalInvariantViolated Code = "internal_invariant_violated"
)

// Error is the concrete error type returned across package boundaries.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New constructs an *Error with no wrapped cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap constructs an *Error that wraps cause, preserving it for errors.Is/As.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// CodeOf extracts the Code from err if it is (or wraps) an *Error, and the
// empty Code otherwise.
func CodeOf(err error) Code {
	var e *Error
	for err != nil {
		if ae, ok := err.(*Error); ok {
			e = ae
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	if e == nil {
		return ""
	}
	return e.Code
}

// assertInvariant panics with an InternalInvariantViolated error when cond
// is false. Reserved for invariants the rest of the system assumes always
// hold (edge ordering, budget partitioning, SimHash symmetry); a panic
// here means a real bug, not a recoverable input error, and it is never
// meant to be recovered silently.
func assertInvariant(cond bool, message string) {
	if !cond {
		err := New(InternalInvariantViolated, message)
		logging.Get(logging.CategoryBoot).Error("%v", err)
		panic(err)
	}
}

// AssertInvariant is the exported form of assertInvariant for other
// packages' invariant checks (edge ordering, budget partitioning,
// fingerprint symmetry, and similar).
func AssertInvariant(cond bool, message string) {
	assertInvariant(cond, message)
}
