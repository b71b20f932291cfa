// Package apperr classifies failures so callers can tell configuration
// problems, timeouts, transport failures and user cancellations apart.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"
)

// Kind is the category of a failure.
type Kind int

const (
	KindTransport Kind = iota
	KindConfig
	KindTimeout
	KindCancelled
	KindEmpty
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindTimeout:
		return "timeout"
	case KindCancelled:
		return "cancelled"
	case KindEmpty:
		return "empty"
	default:
		return "transport"
	}
}

// MaxDetail caps diagnostic text (response bodies, stderr) carried in messages.
const MaxDetail = 500

// ErrCancelled is matched by errors.Is for every cancellation error.
var ErrCancelled = errors.New("Request cancelled")

// Error is a classified failure. Msg is safe to show to a user; Err keeps
// the underlying cause for logs.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Op + " failed"
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrCancelled) match cancellation errors.
func (e *Error) Is(target error) bool {
	return target == ErrCancelled && e.Kind == KindCancelled
}

// Config reports a missing or invalid prerequisite.
func Config(op, format string, args ...interface{}) error {
	return &Error{Kind: KindConfig, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Timeout reports an operation that exceeded its deadline. hint should name
// the likely cause.
func Timeout(op string, err error, hint string) error {
	return &Error{Kind: KindTimeout, Op: op, Msg: hint, Err: err}
}

// Transport reports a failed exchange with a process or remote service.
func Transport(op string, err error, format string, args ...interface{}) error {
	return &Error{Kind: KindTransport, Op: op, Msg: fmt.Sprintf(format, args...), Err: err}
}

// Empty reports a provider reply with no usable content.
func Empty(op, format string, args ...interface{}) error {
	return &Error{Kind: KindEmpty, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Cancelled reports a user-initiated abort.
func Cancelled(op string, err error) error {
	return &Error{Kind: KindCancelled, Op: op, Msg: ErrCancelled.Error(), Err: err}
}

// KindOf returns the kind of err, treating unclassified errors as transport.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindTransport
}

// IsCancelled reports whether err is a user cancellation.
func IsCancelled(err error) bool {
	return err != nil && KindOf(err) == KindCancelled
}

// IsTimeout reports whether err is a deadline failure.
func IsTimeout(err error) bool {
	return err != nil && KindOf(err) == KindTimeout
}

// IsConfig reports whether err is a configuration failure.
func IsConfig(err error) bool {
	return err != nil && KindOf(err) == KindConfig
}

// FromContext classifies a failure that happened while ctx or one of its
// parents was done. parent is the caller's context: if it is done the user
// cancelled, otherwise the operation's own deadline fired. It returns nil
// when neither context is done.
func FromContext(op string, parent, ctx context.Context, err error, timeoutHint string) error {
	if parent.Err() != nil {
		return Cancelled(op, parent.Err())
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return Timeout(op, err, timeoutHint)
	}
	if ctx.Err() != nil {
		return Cancelled(op, ctx.Err())
	}
	return nil
}

// Truncate shortens s to at most n bytes, marking the cut. The cut never
// splits a UTF-8 sequence.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
