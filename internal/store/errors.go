package store

import (
	"errors"
	"fmt"
)

// Kind classifies store failures.
type Kind int

const (
	KindDriverUnavailable Kind = iota + 1
	KindConnectionFailed
	KindInvalidConfig
	KindQueryFailed
	KindWriteFailed
	KindNotInitialized
)

func (k Kind) String() string {
	switch k {
	case KindDriverUnavailable:
		return "driver unavailable"
	case KindConnectionFailed:
		return "connection failed"
	case KindInvalidConfig:
		return "invalid config"
	case KindQueryFailed:
		return "query failed"
	case KindWriteFailed:
		return "write failed"
	case KindNotInitialized:
		return "not initialized"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is returned by Store operations. Field is set for KindInvalidConfig.
type Error struct {
	Kind  Kind
	Field string
	Err   error
}

// Sentinels for errors.Is. They match any *Error of the same kind.
var (
	ErrDriverUnavailable = &Error{Kind: KindDriverUnavailable}
	ErrConnectionFailed  = &Error{Kind: KindConnectionFailed}
	ErrInvalidConfig     = &Error{Kind: KindInvalidConfig}
	ErrQueryFailed       = &Error{Kind: KindQueryFailed}
	ErrWriteFailed       = &Error{Kind: KindWriteFailed}
	ErrNotInitialized    = &Error{Kind: KindNotInitialized}
)

// ErrInvalidID is returned for the nil uuid.
var ErrInvalidID = errors.New("player id is required")

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Field != "" {
		msg += " (" + e.Field + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on Kind, and on Field when the target names one.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Field == "" || t.Field == e.Field)
}

func newError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

func invalidConfig(field string, format string, args ...any) *Error {
	return &Error{Kind: KindInvalidConfig, Field: field, Err: fmt.Errorf(format, args...)}
}

// KindOf reports the Kind of err, or 0 when err is not a store error.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return 0
}
