// Package kv provides the durable string key-value substrate that backs the storefront's
// per-shopper state, with memory, SQL and Firestore implementations.
package kv

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is matched (via errors.Is) by errors for absent keys.
	ErrNotFound = errors.New("kv: key not found")
	// ErrConflict is matched by errors for a SwapIf whose guard value had changed.
	ErrConflict = errors.New("kv: guard value changed")
	// ErrUnavailable is matched by errors for backend outages.
	ErrUnavailable = errors.New("kv: backend unavailable")
)

// Entry is one key/value pair written alongside a guarded swap.
type Entry struct {
	Key   string
	Value string
}

// Guard is the condition SwapIf checks against the current value of its key. The zero
// Guard requires the key to be absent.
type Guard struct {
	Value   string
	Present bool
}

// Absent requires the key not to exist.
func Absent() Guard { return Guard{} }

// Holds requires the key to exist with exactly value, which may be empty.
func Holds(value string) Guard { return Guard{Value: value, Present: true} }

// Allows reports whether a key in the given state satisfies the guard.
func (g Guard) Allows(current string, exists bool) bool {
	if !g.Present {
		return !exists
	}
	return exists && current == g.Value
}

func (g Guard) String() string {
	if !g.Present {
		return "absent"
	}
	return fmt.Sprintf("holds %q", g.Value)
}

// Store is a string key-value store.
//
// SwapIf atomically replaces the value of key with next, provided guard holds for its
// current value, and writes every entry of also in the same atomic step. When the guard
// does not hold nothing is written and the returned error matches ErrConflict.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	SwapIf(ctx context.Context, key string, guard Guard, next string, also ...Entry) error
	Ping(ctx context.Context) error
	Close() error
}

// Kind classifies store failures.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindConflict
	KindUnavailable
)

// Error carries the failing operation and its classification. It satisfies the repository
// error contract (IsNotFound, IsConflict, IsUnavailable).
type Error struct {
	Op   string
	Kind Kind
	Err  error
}

// NewError wraps err for op with the given classification.
func NewError(op string, kind Kind, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := "kv error"
	if e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, msg)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is lets errors.Is match the package sentinels by classification.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	switch target {
	case ErrNotFound:
		return e.Kind == KindNotFound
	case ErrConflict:
		return e.Kind == KindConflict
	case ErrUnavailable:
		return e.Kind == KindUnavailable
	}
	return false
}

func (e *Error) IsNotFound() bool    { return e != nil && e.Kind == KindNotFound }
func (e *Error) IsConflict() bool    { return e != nil && e.Kind == KindConflict }
func (e *Error) IsUnavailable() bool { return e != nil && e.Kind == KindUnavailable }

// NotFound builds the error returned for an absent key.
func NotFound(op, key string) *Error {
	return NewError(op, KindNotFound, fmt.Errorf("%w: %q", ErrNotFound, key))
}

// Conflict builds the error returned when a SwapIf guard fails.
func Conflict(op, key string) *Error {
	return NewError(op, KindConflict, fmt.Errorf("%w: %q", ErrConflict, key))
}
