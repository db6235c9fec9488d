// Package apperr defines the error kinds shared by every layer.
//
// A coded error matches both itself and its kind with errors.Is, so callers
// can branch on the broad category (ErrConflict) or the exact condition
// (enrollment.ErrDuplicateIdentity) as they need.
package apperr

import "errors"

// Kinds.
var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrExternal   = errors.New("external failure")
)

// Error is a coded error belonging to one kind.
type Error struct {
	Kind    error
	Code    string
	Message string
}

// New returns a coded error of the given kind.
func New(kind error, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func (e *Error) Error() string {
	return e.Message
}

// Is reports whether target is this error's kind.
func (e *Error) Is(target error) bool {
	return target == e.Kind
}

// CodeOf returns the code of the first *Error in err's chain.
func CodeOf(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}

// KindOf returns the kind of err, or nil when err carries none.
func KindOf(err error) error {
	for _, k := range []error{ErrValidation, ErrNotFound, ErrConflict, ErrExternal} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// MessageOf returns the human-facing message of the first *Error in err's
// chain, or fallback when err is not coded.
func MessageOf(err error, fallback string) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Message
	}
	return fallback
}
