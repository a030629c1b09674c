package market

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a marketplace failure. Callers switch on Kind to pick
// user-facing messaging; the set is closed.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindNotFound
	KindNotOwner
	KindInvalidTransition
	KindOverlap
	KindSlotInUse
	KindInvalidRate
	KindConflict
	KindTimeout
	KindDuplicate
	KindInvalidInput
)

var kindNames = map[Kind]string{
	KindUnknown:           "unknown",
	KindNotFound:          "not found",
	KindNotOwner:          "not owner",
	KindInvalidTransition: "invalid transition",
	KindOverlap:           "overlap",
	KindSlotInUse:         "slot in use",
	KindInvalidRate:       "invalid rate",
	KindConflict:          "conflict",
	KindTimeout:           "timeout",
	KindDuplicate:         "duplicate",
	KindInvalidInput:      "invalid input",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Error is the single error type returned by the marketplace core.
type Error struct {
	Kind   Kind
	Op     string // e.g. "lifecycle.AssignProvider"
	Entity string // e.g. "task"
	ID     string
	Detail string
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Entity != "" {
		b.WriteString(e.Entity)
		if e.ID != "" {
			b.WriteString(" ")
			b.WriteString(e.ID)
		}
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports kind equality so that errors.Is(err, ErrConflict) works for any
// *Error carrying KindConflict.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrNotOwner          = &Error{Kind: KindNotOwner}
	ErrInvalidTransition = &Error{Kind: KindInvalidTransition}
	ErrOverlap           = &Error{Kind: KindOverlap}
	ErrSlotInUse         = &Error{Kind: KindSlotInUse}
	ErrInvalidRate       = &Error{Kind: KindInvalidRate}
	ErrConflict          = &Error{Kind: KindConflict}
	ErrTimeout           = &Error{Kind: KindTimeout}
	ErrDuplicate         = &Error{Kind: KindDuplicate}
	ErrInvalidInput      = &Error{Kind: KindInvalidInput}
)

// Errorf builds an *Error with a formatted detail.
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Detail: fmt.Sprintf(format, args...)}
}

// NotFound is shorthand for a missing entity.
func NotFound(op, entity, id string) *Error {
	return &Error{Kind: KindNotFound, Op: op, Entity: entity, ID: id}
}

// KindOf extracts the Kind of err. Context deadlines map to KindTimeout.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var me *Error
	if errors.As(err, &me) {
		return me.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindUnknown
}

// Normalize converts context deadline failures into a typed Timeout and
// leaves everything else untouched.
func Normalize(op string, err error) error {
	if err == nil {
		return nil
	}
	var me *Error
	if errors.As(err, &me) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Op: op, Err: err}
	}
	return err
}
