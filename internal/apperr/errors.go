// Package apperr defines the error kinds surfaced by the game services.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an application error.
type Kind string

const (
	KindConflict           Kind = "conflict"
	KindNotFound           Kind = "not_found"
	KindDeleted            Kind = "deleted"
	KindClosed             Kind = "closed"
	KindInsufficientPoints Kind = "insufficient_points"
	KindUpstream           Kind = "upstream_unavailable"
	KindPersistence        Kind = "persistence_failure"
	KindInvalid            Kind = "invalid"
)

// Error carries a kind, a user-facing message and an optional cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports kind equality so sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && t.Message == ""
}

// Sentinels for errors.Is checks. They match any error of the same kind.
var (
	ErrConflict           = &Error{Kind: KindConflict}
	ErrNotFound           = &Error{Kind: KindNotFound}
	ErrDeleted            = &Error{Kind: KindDeleted}
	ErrClosed             = &Error{Kind: KindClosed}
	ErrInsufficientPoints = &Error{Kind: KindInsufficientPoints}
	ErrUpstream           = &Error{Kind: KindUpstream}
	ErrPersistence        = &Error{Kind: KindPersistence}
	ErrInvalid            = &Error{Kind: KindInvalid}
)

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the kind of the first *Error in the chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// MessageOf returns the user-facing message of the first *Error in the chain.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return ""
}
