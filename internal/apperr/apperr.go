package apperr

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a failure so callers can branch without string matching.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindNotFound
	KindEngineTimeout
	KindEngineFailure
	KindEmptyResult
	KindCanceled
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindEngineTimeout:
		return "engine_timeout"
	case KindEngineFailure:
		return "engine_failure"
	case KindEmptyResult:
		return "empty_result"
	case KindCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Error is the typed outcome returned across package boundaries.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if e.Op == "" {
		return fmt.Sprintf("%s: %s", e.Kind, msg)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by kind, so errors.Is(err, apperr.ErrNotFound) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Msg == "" && t.Err == nil && t.Kind == e.Kind
}

// Sentinels for errors.Is comparisons.
var (
	ErrValidation    = &Error{Kind: KindValidation}
	ErrNotFound      = &Error{Kind: KindNotFound}
	ErrEngineTimeout = &Error{Kind: KindEngineTimeout}
	ErrEngineFailure = &Error{Kind: KindEngineFailure}
	ErrEmptyResult   = &Error{Kind: KindEmptyResult}
	ErrCanceled      = &Error{Kind: KindCanceled}
)

func New(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, op string, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...), Err: err}
}

func Validation(op, format string, args ...any) *Error {
	return New(KindValidation, op, format, args...)
}

func NotFound(op, format string, args ...any) *Error {
	return New(KindNotFound, op, format, args...)
}

func EmptyResult(op, format string, args ...any) *Error {
	return New(KindEmptyResult, op, format, args...)
}

// Checkpoint returns a Canceled error once ctx is done, nil otherwise.
func Checkpoint(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return &Error{Kind: KindCanceled, Op: op, Msg: "run canceled", Err: err}
	}
	return nil
}

// KindOf reports the kind of err. Bare context errors are mapped so that a
// deadline becomes an engine timeout and a cancellation becomes KindCanceled.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return KindEngineTimeout
	case errors.Is(err, context.Canceled):
		return KindCanceled
	}
	return KindUnknown
}

// FromEngine classifies an error returned by an engine call made under ctx.
// The parent context decides between cancellation and a per-call timeout.
func FromEngine(parent context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	if parent.Err() != nil {
		return &Error{Kind: KindCanceled, Op: op, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindEngineTimeout, Op: op, Err: err}
	}
	return &Error{Kind: KindEngineFailure, Op: op, Err: err}
}

// ExitCode maps a kind to the CLI process exit status.
func ExitCode(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return 2
	case KindNotFound:
		return 3
	case KindEmptyResult:
		return 4
	case KindEngineTimeout:
		return 5
	case KindEngineFailure:
		return 6
	case KindCanceled:
		return 7
	default:
		return 1
	}
}
