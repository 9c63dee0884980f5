/**
 * @description
 * Typed error taxonomy shared by every layer of the earnings-service. Business
 * operations return *Error values (or wrap them) so the HTTP layer and the
 * queue workers can decide, without string matching, whether a failure is the
 * caller's fault, a state conflict, or something worth retrying.
 *
 * @dependencies
 * - errors, fmt: Standard Go libraries.
 */

package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies an error for propagation decisions.
type ErrorKind string

const (
	KindValidation   ErrorKind = "validation"
	KindNotFound     ErrorKind = "not_found"
	KindConflict     ErrorKind = "conflict"
	KindInsufficient ErrorKind = "insufficient_resource"
	KindRateLimited  ErrorKind = "rate_limited"
	KindExternal     ErrorKind = "external"
	KindInternal     ErrorKind = "internal"
)

// Error is a structured, user-visible business error.
type Error struct {
	Kind    ErrorKind `json:"-"`
	Code    string    `json:"code"`
	Message string    `json:"message"`
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Is reports whether target carries the same code. This lets callers compare
// against the package-level sentinels even when the message was customised.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithMessage returns a copy of e with a more specific message.
func (e *Error) WithMessage(format string, args ...interface{}) *Error {
	return &Error{Kind: e.Kind, Code: e.Code, Message: fmt.Sprintf(format, args...), cause: e.cause}
}

// Wrap returns a copy of e that records cause.
func (e *Error) Wrap(cause error) *Error {
	return &Error{Kind: e.Kind, Code: e.Code, Message: e.Message, cause: cause}
}

var (
	ErrValidation            = &Error{Kind: KindValidation, Code: "E0001", Message: "validation failed"}
	ErrNotFound              = &Error{Kind: KindNotFound, Code: "E2000", Message: "resource not found"}
	ErrAlreadyExists         = &Error{Kind: KindConflict, Code: "E3000", Message: "resource already exists"}
	ErrNotUnlocked           = &Error{Kind: KindConflict, Code: "E3101", Message: "achievement is not unlocked"}
	ErrAlreadyClaimed        = &Error{Kind: KindConflict, Code: "E3102", Message: "reward already claimed"}
	ErrChallengeEnded        = &Error{Kind: KindConflict, Code: "E3103", Message: "challenge has ended"}
	ErrChallengeNotCompleted = &Error{Kind: KindConflict, Code: "E3104", Message: "challenge not yet completed"}
	ErrSessionNotSettleable  = &Error{Kind: KindConflict, Code: "E3201", Message: "session is not ready for settlement"}
	ErrSessionAlreadySettled = &Error{Kind: KindConflict, Code: "E3202", Message: "session already settled"}
	ErrPayoutMethodInUse     = &Error{Kind: KindConflict, Code: "E3301", Message: "payout method has withdrawals in flight"}
	ErrInsufficientBalance   = &Error{Kind: KindInsufficient, Code: "E4001", Message: "insufficient balance"}
	ErrBelowMinWithdrawal    = &Error{Kind: KindValidation, Code: "E4002", Message: "amount is below the minimum withdrawal"}
	ErrAboveMaxWithdrawal    = &Error{Kind: KindValidation, Code: "E4003", Message: "amount is above the maximum withdrawal"}
	ErrInvalidPayoutMethod   = &Error{Kind: KindValidation, Code: "E4004", Message: "invalid payout method"}
	ErrExceedsAvailable      = &Error{Kind: KindConflict, Code: "E4005", Message: "amount exceeds available cash"}
	ErrDailyLimitExceeded    = &Error{Kind: KindConflict, Code: "E4006", Message: "daily withdrawal limit exceeded"}
	ErrRateLimited           = &Error{Kind: KindRateLimited, Code: "E4290", Message: "too many requests"}
	ErrInternal              = &Error{Kind: KindInternal, Code: "E9001", Message: "internal error"}
	ErrExternal              = &Error{Kind: KindExternal, Code: "E9003", Message: "external service error"}
)

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

// IsPermanent reports whether retrying the operation cannot change its outcome.
func IsPermanent(err error) bool {
	switch KindOf(err) {
	case KindValidation, KindNotFound, KindConflict, KindInsufficient:
		return true
	default:
		return false
	}
}
