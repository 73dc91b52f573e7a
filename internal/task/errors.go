package task

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors for executor failure classification. Executors wrap their
// errors with one of these; anything unwrapped is assumed transient, which
// matches how upstream AI-service failures usually behave.
var (
	// ErrTransient marks failures that may resolve on retry (network,
	// rate limits, upstream overload).
	ErrTransient = errors.New("transient task error")

	// ErrPermanent marks failures a retry cannot fix (malformed payload
	// discovered mid-execution, content rejected by the provider).
	ErrPermanent = errors.New("permanent task error")

	// ErrHardTimeout marks executions aborted by the hard execution limit.
	// Retried like a transient failure but recorded distinctly.
	ErrHardTimeout = errors.New("task execution exceeded hard timeout")
)

// ErrorClass is the retry-relevant classification of an executor failure.
type ErrorClass int

// Error classes
const (
	ClassTransient ErrorClass = iota
	ClassPermanent
	ClassTimeout
)

// Classify maps an executor error to its retry class.
func Classify(err error) ErrorClass {
	switch {
	case errors.Is(err, ErrHardTimeout), errors.Is(err, context.DeadlineExceeded):
		return ClassTimeout
	case errors.Is(err, ErrPermanent):
		return ClassPermanent
	default:
		return ClassTransient
	}
}

// Transient wraps err as a transient failure.
func Transient(err error) error {
	return fmt.Errorf("%w: %v", ErrTransient, err)
}

// Permanent wraps err as a permanent failure.
func Permanent(err error) error {
	return fmt.Errorf("%w: %v", ErrPermanent, err)
}
