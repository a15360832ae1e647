package commons

import (
	"github.com/cockroachdb/errors"
)

// Error classes shared by every stage of the audit. Concrete errors are marked
// with one of these and tested with errors.Is.
var (
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrBufferTooSmall    = errors.New("buffer too small")
	ErrOutOfMemory       = errors.New("out of memory")
	ErrResourceExhausted = errors.New("resources exhausted")
	ErrNotFound          = errors.New("not found")
)

// InvalidArgf returns a formatted error marked as ErrInvalidArgument.
func InvalidArgf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrInvalidArgument)
}

// TooSmallf returns a formatted error marked as ErrBufferTooSmall.
func TooSmallf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrBufferTooSmall)
}

// OutOfMemoryf returns a formatted error marked as ErrOutOfMemory.
func OutOfMemoryf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrOutOfMemory)
}

// Exhaustedf returns a formatted error marked as ErrResourceExhausted.
func Exhaustedf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrResourceExhausted)
}

// NotFoundf returns a formatted error marked as ErrNotFound.
func NotFoundf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrNotFound)
}

// Check panics if the condition does not hold. It guards invariants that only
// a programming error can break, never input validation.
func Check(condition bool) {
	if !condition {
		panic("Condition is not satisfied")
	}
}
