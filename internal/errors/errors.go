// Package errors re-exports github.com/cockroachdb/errors and adds the
// error classes the advancement engine reasons about.
//
// Every class is a sentinel marked onto the concrete error with Mark, so the
// message and stack of the original failure are kept while callers classify
// with Is or the Is* helpers:
//
//	if errors.IsRetryable(err) {
//	    // back off and try again
//	}
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Creation and wrapping.
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
	Join         = crdb.Join
	Mark         = crdb.Mark
)

// Hints and details.
var (
	WithHint       = crdb.WithHint
	WithHintf      = crdb.WithHintf
	WithDetail     = crdb.WithDetail
	WithDetailf    = crdb.WithDetailf
	GetAllHints    = crdb.GetAllHints
	GetAllDetails  = crdb.GetAllDetails
	FlattenDetails = crdb.FlattenDetails
)

// Inspection.
var (
	Is        = crdb.Is
	IsAny     = crdb.IsAny
	As        = crdb.As
	Unwrap    = crdb.Unwrap
	UnwrapAll = crdb.UnwrapAll
)

var (
	// ErrValidation marks malformed inbound data. Never retried.
	ErrValidation = New("validation error")

	// ErrConfiguration marks operator mistakes such as duplicate active rules
	// or a missing archive reason.
	ErrConfiguration = New("configuration error")

	// ErrNotFound marks a missing rule, stage or schedule.
	ErrNotFound = New("not found")

	// ErrPersistence marks an unavailable or failing store.
	ErrPersistence = New("persistence error")

	// ErrExternalRetryable marks transient collaborator failures (network, 429, 5xx).
	ErrExternalRetryable = New("external service error (retryable)")

	// ErrExternalPermanent marks collaborator failures that will not go away on retry (4xx).
	ErrExternalPermanent = New("external service error (permanent)")
)

// NewValidationError returns a formatted error marked as ErrValidation.
func NewValidationError(format string, args ...any) error {
	return Mark(Newf(format, args...), ErrValidation)
}

// NewConfigurationError returns a formatted error marked as ErrConfiguration.
func NewConfigurationError(format string, args ...any) error {
	return Mark(Newf(format, args...), ErrConfiguration)
}

// NewNotFoundError returns a formatted error marked as ErrNotFound.
func NewNotFoundError(format string, args ...any) error {
	return Mark(Newf(format, args...), ErrNotFound)
}

// NewPersistenceError wraps a store failure. Nil stays nil.
func NewPersistenceError(err error, msg string) error {
	if err == nil {
		return nil
	}
	return Mark(Wrap(err, msg), ErrPersistence)
}

// NewExternalError wraps a collaborator failure with its retry class. Nil stays nil.
func NewExternalError(err error, retryable bool, msg string) error {
	if err == nil {
		return nil
	}
	if retryable {
		return Mark(Wrap(err, msg), ErrExternalRetryable)
	}
	return Mark(Wrap(err, msg), ErrExternalPermanent)
}

func IsValidation(err error) bool    { return Is(err, ErrValidation) }
func IsConfiguration(err error) bool { return Is(err, ErrConfiguration) }
func IsNotFound(err error) bool      { return Is(err, ErrNotFound) }
func IsPersistence(err error) bool   { return Is(err, ErrPersistence) }

// IsRetryable reports whether err is worth another attempt. Errors that carry
// no external class are treated as permanent.
func IsRetryable(err error) bool {
	return Is(err, ErrExternalRetryable)
}
