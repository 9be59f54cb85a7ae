package services

import (
	"errors"
	"fmt"

	"git.solsynth.dev/hypernet/kolab/pkg/internal/database"
	"gorm.io/gorm"
)

type ErrorKind = string

const (
	KindUnauthenticated   = ErrorKind("UNAUTHENTICATED")
	KindForbidden         = ErrorKind("FORBIDDEN")
	KindNotFound          = ErrorKind("NOT_FOUND")
	KindInvalidArgument   = ErrorKind("INVALID_ARGUMENT")
	KindConflict          = ErrorKind("CONFLICT")
	KindDependencyFailure = ErrorKind("DEPENDENCY_FAILURE")
	KindInternal          = ErrorKind("INTERNAL")
)

// Error is the structured failure every operation returns.
// Status carries the current call status when a transition was refused.
type Error struct {
	Kind    ErrorKind
	Message string
	Status  string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Retryable() bool {
	return e.Kind == KindDependencyFailure
}

func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func conflictError(status string, format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...), Status: status}
}

func dependencyError(err error, format string, args ...any) *Error {
	return &Error{Kind: KindDependencyFailure, Message: fmt.Sprintf(format, args...), Err: err}
}

// storeError turns a store failure into the taxonomy, missing records become NotFound.
func storeError(err error, what string) *Error {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return NewError(KindNotFound, "%s not found", what)
	case errors.Is(err, database.ErrStaleRecord):
		return &Error{Kind: KindConflict, Message: fmt.Sprintf("%s was modified concurrently", what), Err: err}
	default:
		return dependencyError(err, "unable to access %s", what)
	}
}

// KindOf reports the kind of any error, unknown errors are internal.
func KindOf(err error) ErrorKind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindInternal
}

func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}
