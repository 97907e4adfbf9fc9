package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a record does not exist or is not visible.
	ErrNotFound = errors.New("not found")
	// ErrForbidden is returned when the caller may not touch the record.
	ErrForbidden = errors.New("forbidden")
	// ErrAlreadyInCart is returned when a cart already holds the item.
	ErrAlreadyInCart = errors.New("item already in cart")
	// ErrAlreadyReviewed is returned when an order line already carries a review.
	ErrAlreadyReviewed = errors.New("item already reviewed")
)

// AuthError reports a failure from the authentication provider: bad
// credentials, expired token or an unreachable provider.
type AuthError struct {
	Op      string
	Message string
	Err     error
}

func (e *AuthError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op == "" {
		return msg
	}
	return fmt.Sprintf("%s: %s", e.Op, msg)
}

func (e *AuthError) Unwrap() error { return e.Err }

// NotAuthenticatedError is returned when a mutating action needs a session.
type NotAuthenticatedError struct {
	Op string
}

func (e *NotAuthenticatedError) Error() string {
	if e.Op == "" {
		return "not authenticated"
	}
	return e.Op + ": not authenticated"
}

// ValidationError reports an input constraint violated before submission.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// Invalid builds a ValidationError.
func Invalid(field, msg string) error {
	return &ValidationError{Field: field, Message: msg}
}

// RemoteOperationError wraps a failure reported by the record store or a
// backend function. Message is passed through verbatim.
type RemoteOperationError struct {
	Op      string
	Status  int
	Message string
	Err     error
}

func (e *RemoteOperationError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op == "" {
		return msg
	}
	return fmt.Sprintf("%s: %s", e.Op, msg)
}

func (e *RemoteOperationError) Unwrap() error { return e.Err }

// Remote wraps err as a RemoteOperationError unless it already carries one of
// the typed errors above.
func Remote(op string, err error) error {
	if err == nil {
		return nil
	}
	var (
		remote *RemoteOperationError
		valErr *ValidationError
		auth   *AuthError
		noAuth *NotAuthenticatedError
	)
	if errors.As(err, &remote) || errors.As(err, &valErr) || errors.As(err, &auth) || errors.As(err, &noAuth) ||
		errors.Is(err, ErrNotFound) || errors.Is(err, ErrForbidden) || errors.Is(err, ErrAlreadyInCart) ||
		errors.Is(err, ErrAlreadyReviewed) {
		return err
	}
	return &RemoteOperationError{Op: op, Err: err}
}

// IsNotAuthenticated reports whether err is a NotAuthenticatedError.
func IsNotAuthenticated(err error) bool {
	var target *NotAuthenticatedError
	return errors.As(err, &target)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// IsAuth reports whether err is an AuthError.
func IsAuth(err error) bool {
	var target *AuthError
	return errors.As(err, &target)
}

// IsRemote reports whether err is a RemoteOperationError.
func IsRemote(err error) bool {
	var target *RemoteOperationError
	return errors.As(err, &target)
}
