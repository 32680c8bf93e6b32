// Package coreerr defines the error kinds from spec section 7 as typed,
// wrappable errors so callers can branch with this package's Is or errors.As the way
// the rest of the module branches on zerolog fields and sentinel errors.
package coreerr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindValidation Kind = iota
	KindEventNotAccepting
	KindAuthorization
	KindInsufficientBalance
	KindNotFound
	KindLockTimeout
	KindSettlementFailure
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "ValidationError"
	case KindEventNotAccepting:
		return "EventNotAccepting"
	case KindAuthorization:
		return "AuthorizationError"
	case KindInsufficientBalance:
		return "InsufficientBalance"
	case KindNotFound:
		return "NotFound"
	case KindLockTimeout:
		return "LockTimeout"
	case KindSettlementFailure:
		return "SettlementFailure"
	default:
		return "Internal"
	}
}

// Error wraps an underlying cause with one of the eight kinds above.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

func Wrap(kind Kind, msg string, err error) error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

func Validation(msg string) error          { return New(KindValidation, msg) }
func EventNotAccepting(msg string) error   { return New(KindEventNotAccepting, msg) }
func Authorization(msg string) error       { return New(KindAuthorization, msg) }
func InsufficientBalance(msg string) error { return New(KindInsufficientBalance, msg) }
func NotFound(msg string) error            { return New(KindNotFound, msg) }
func LockTimeout(msg string) error         { return New(KindLockTimeout, msg) }
func SettlementFailure(msg string, err error) error {
	return Wrap(KindSettlementFailure, msg, err)
}
func Internal(msg string) error { return New(KindInternal, msg) }
