// Package failure defines the error kinds shared by the analysis pipeline.
//
// Kinds are sentinel errors; operations wrap them with WrapKind so callers can
// match with errors.Is against both the kind and the underlying cause.
package failure

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel kinds.
var (
	ErrValidation            = errors.New("validation error")
	ErrQueueUnavailable      = errors.New("queue unavailable")
	ErrStoreUnavailable      = errors.New("store unavailable")
	ErrDataSourceUnavailable = errors.New("data source unavailable")
	ErrTaskTimeout           = errors.New("task timeout")
	ErrTaskFailure           = errors.New("task failure")
	ErrCancelled             = errors.New("cancelled")
	ErrNotFound              = errors.New("not found")
)

// KindError attaches an operation name and a sentinel kind to a cause.
type KindError struct {
	Op   string
	Kind error
	Err  error
}

func (e *KindError) Error() string {
	switch {
	case e.Err == nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	case e.Op == "":
		return fmt.Sprintf("%v: %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
	}
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *KindError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NewKind returns an error of the given kind without a cause.
func NewKind(op string, kind error) error {
	return &KindError{Op: op, Kind: kind}
}

// WrapKind wraps err with an operation name and kind. A nil err yields nil.
func WrapKind(op string, kind, err error) error {
	if err == nil {
		return nil
	}
	return &KindError{Op: op, Kind: kind, Err: err}
}

// Validation builds an ErrValidation with a formatted message.
func Validation(op, format string, args ...any) error {
	return &KindError{Op: op, Kind: ErrValidation, Err: fmt.Errorf(format, args...)}
}

type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient marks err as retryable by the worker.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether the worker should retry after err.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var te *transientError
	if errors.As(err, &te) {
		return true
	}
	return errors.Is(err, ErrTaskTimeout) ||
		errors.Is(err, ErrStoreUnavailable) ||
		errors.Is(err, context.DeadlineExceeded)
}
