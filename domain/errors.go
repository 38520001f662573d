package domain

import (
	"errors"
	"fmt"
)

// Kind classifies domain failures so the transport layer can map them to
// status codes without inspecting messages.
type Kind string

const (
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindForbidden  Kind = "forbidden"
	KindInternal   Kind = "internal"
)

// Error is returned by every Registry and Ledger operation.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func validationError(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func notFound(entity string) *Error {
	return &Error{Kind: KindNotFound, Message: entity + " not found"}
}

func forbidden() *Error {
	return &Error{Kind: KindForbidden, Message: "user not authorized"}
}

// storeError wraps a store fault; the cause is kept for logs and debug
// responses only.
func storeError(op string, err error) *Error {
	var de *Error
	if errors.As(err, &de) {
		return de
	}
	return &Error{Kind: KindInternal, Message: op + " failed", Err: err}
}

// KindOf reports the kind of err, treating unknown errors as internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

// ErrBatchTooLarge is returned by stores that cannot apply a batch
// atomically because it exceeds their transaction limit.
var ErrBatchTooLarge = &Error{Kind: KindValidation, Message: "too many tasks in a single batch"}
