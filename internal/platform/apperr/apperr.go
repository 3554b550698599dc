// Package apperr defines the error taxonomy shared by the clinic services.
//
// Every failure surfaced by a service carries one Kind. Callers outside the
// service layer only distinguish Validation from everything else; the finer
// kinds exist for logging and HTTP status mapping.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error.
type Kind string

const (
	Validation  Kind = "validation"
	Auth        Kind = "auth"
	NotFound    Kind = "not_found"
	Persistence Kind = "persistence"
)

// Error is a classified error. Op names the operation that failed, for
// example "records.CreatePatient".
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	default:
		return e.Message
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same Kind and Message. This
// lets package-level sentinels match errors that were re-wrapped with an Op.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == e.Message && t.Op == ""
}

func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

func Wrap(kind Kind, op, message string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: err}
}

// Validationf builds a Validation error with a formatted message.
func Validationf(op, format string, args ...interface{}) *Error {
	return New(Validation, op, fmt.Sprintf(format, args...))
}

// Persist wraps a store failure. An error that is already classified keeps
// its kind so a NotFound from a repository is not promoted to Persistence.
func Persist(op string, err error) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return err
	}
	return Wrap(Persistence, op, "store operation failed", err)
}

// KindOf returns the Kind of err, or Persistence for unclassified errors.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return Persistence
}

func IsValidation(err error) bool { return err != nil && KindOf(err) == Validation }
func IsNotFound(err error) bool   { return err != nil && KindOf(err) == NotFound }
func IsAuth(err error) bool       { return err != nil && KindOf(err) == Auth }

// Sentinels.
var (
	ErrInvalidCredentials = New(Auth, "", "invalid username or password")
	ErrRoleNotFound       = New(Auth, "", "no role assigned to user")
	ErrRoleMissing        = New(Persistence, "", "required role does not exist")
	ErrNotDoctor          = New(NotFound, "", "no doctor record for user")
	ErrNotOwner           = New(NotFound, "", "record not found")
	ErrOwnedByOther       = New(Persistence, "", "patient already belongs to another doctor")
	ErrHasVisits          = New(Persistence, "", "patient has visits")
	ErrUsernameTaken      = New(Persistence, "", "username already exists")
)
