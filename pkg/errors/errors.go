package errors

import (
	"fmt"

	crdb "github.com/cockroachdb/errors"
)

// TranslationError reports a translation unit that could not be produced.
type TranslationError struct {
	Addr    uint64
	Message string
	Cause   error
}

func (e *TranslationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("translate 0x%x: %s: %v", e.Addr, e.Message, e.Cause)
	}
	return fmt.Sprintf("translate 0x%x: %s", e.Addr, e.Message)
}

func (e *TranslationError) Unwrap() error {
	return e.Cause
}

// IsTranslationError checks if err (or anything it wraps) is a translation error
func IsTranslationError(err error) bool {
	var te *TranslationError
	return crdb.As(err, &te)
}

// WrapTranslationError wraps an existing error as a translation error
func WrapTranslationError(err error, addr uint64, message string) *TranslationError {
	return &TranslationError{
		Addr:    addr,
		Message: message,
		Cause:   err,
	}
}

// TranslationErrorf creates a new translation error with formatted message
func TranslationErrorf(addr uint64, format string, args ...interface{}) *TranslationError {
	return &TranslationError{
		Addr:    addr,
		Message: fmt.Sprintf(format, args...),
	}
}

// Invariantf panics with an assertion failure. Emission code calls it for
// programming errors (bad register index, branching out of a terminated
// block) that must abort the unit instead of producing malformed IR.
func Invariantf(format string, args ...interface{}) {
	panic(crdb.AssertionFailedf(format, args...))
}

// IsInvariant reports whether err is an assertion failure raised by Invariantf.
func IsInvariant(err error) bool {
	return crdb.HasAssertionFailure(err)
}

// Recover converts a panic raised by Invariantf into *errp. Any other panic
// value is re-raised. It must be called directly by a deferred function.
func Recover(errp *error) {
	r := recover()
	if r == nil {
		return
	}
	if err, ok := r.(error); ok && crdb.HasAssertionFailure(err) {
		*errp = err
		return
	}
	panic(r)
}
