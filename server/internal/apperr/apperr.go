// Package apperr classifies core-level failures into the error taxonomy the
// HTTP layer maps to status codes (spec.md §7). The execution engine itself
// never throws through the Event Bus — every execution outcome is recorded
// as job/step status, not as an apperr; apperr is reserved for the request
// path (validation, lookups, dispatch routing).
package apperr

import (
	"errors"
	"fmt"

	"github.com/ccxuy/easyrun/shared/types"
)

// Error carries a taxonomy Kind alongside the usual message/wrapped error.
type Error struct {
	Kind types.ErrorKind
	msg  string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.msg, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.msg)
}

func (e *Error) Unwrap() error { return e.err }

// New creates an apperr.Error of the given kind.
func New(kind types.ErrorKind, msg string) error {
	return &Error{Kind: kind, msg: msg}
}

// Wrap creates an apperr.Error of the given kind, wrapping err.
func Wrap(kind types.ErrorKind, msg string, err error) error {
	return &Error{Kind: kind, msg: msg, err: err}
}

// KindOf extracts the taxonomy Kind from err, defaulting to StoreError for
// any error that was not explicitly classified (spec.md §7: persistence
// faults surface as 500).
func KindOf(err error) types.ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return types.ErrKindStoreError
}
