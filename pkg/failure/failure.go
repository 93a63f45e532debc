// Package failure classifies errors into the business outcomes callers branch on.
//
// Domain packages declare their sentinels with New so that a handler can tell an
// expected rejection (coupon exhausted, invoice not payable) apart from an
// unexpected storage failure without knowing every sentinel by name.
package failure

import (
	"errors"
	"fmt"
)

// Kind is a coarse failure category.
type Kind string

const (
	KindNotFound             Kind = "not_found"
	KindUsageLimitExceeded   Kind = "usage_limit_exceeded"
	KindPlanNotApplicable    Kind = "plan_not_applicable"
	KindBelowMinimumPurchase Kind = "below_minimum_purchase"
	KindInvalidState         Kind = "invalid_state"
	KindInvalidRequest       Kind = "invalid_request"
	KindTransactionAborted   Kind = "transaction_aborted"
)

// Error is a classified business error. Code is a stable snake_case identifier.
type Error struct {
	Kind Kind
	Code string
}

// New declares a classified sentinel.
func New(kind Kind, code string) *Error {
	return &Error{Kind: kind, Code: code}
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return e.Code
}

// Is reports a match for the same sentinel or for a bare kind marker.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) || t == nil {
		return false
	}
	if t.Code == "" {
		return e.Kind == t.Kind
	}
	return e == t
}

// Kind markers usable with errors.Is(err, failure.ErrNotFound).
var (
	ErrNotFound             = &Error{Kind: KindNotFound}
	ErrUsageLimitExceeded   = &Error{Kind: KindUsageLimitExceeded}
	ErrPlanNotApplicable    = &Error{Kind: KindPlanNotApplicable}
	ErrBelowMinimumPurchase = &Error{Kind: KindBelowMinimumPurchase}
	ErrInvalidState         = &Error{Kind: KindInvalidState}
	ErrInvalidRequest       = &Error{Kind: KindInvalidRequest}
	ErrTransactionAborted   = &Error{Kind: KindTransactionAborted, Code: "transaction_aborted"}
)

type abortedError struct {
	cause error
}

func (e *abortedError) Error() string {
	return fmt.Sprintf("transaction_aborted: %v", e.cause)
}

func (e *abortedError) Unwrap() []error {
	return []error{ErrTransactionAborted, e.cause}
}

// Aborted wraps an unexpected storage error. Classified errors pass through unchanged.
func Aborted(err error) error {
	if err == nil {
		return nil
	}
	var classified *Error
	if errors.As(err, &classified) {
		return err
	}
	return &abortedError{cause: err}
}

// KindOf classifies err. Unclassified errors are treated as aborted transactions.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var classified *Error
	if errors.As(err, &classified) && classified != nil {
		return classified.Kind
	}
	return KindTransactionAborted
}

// CodeOf returns the stable code carried by err, or the kind when none is set.
func CodeOf(err error) string {
	var classified *Error
	if errors.As(err, &classified) && classified != nil {
		if classified.Code != "" {
			return classified.Code
		}
		return string(classified.Kind)
	}
	if err == nil {
		return ""
	}
	return string(KindTransactionAborted)
}

// IsBusiness reports whether err is an expected business outcome.
func IsBusiness(err error) bool {
	kind := KindOf(err)
	return kind != "" && kind != KindTransactionAborted
}

// IsRetryable reports whether resubmitting the same input may succeed.
func IsRetryable(err error) bool {
	return KindOf(err) == KindTransactionAborted
}
