// Package apperr implements the closed error taxonomy shared across every
// subsystem: a stable code, a human message, an optional suggestion, a
// recoverable bit, and free-form context for the outermost driver to render.
package apperr

import (
	"errors"
	"fmt"
)

// Code is a stable enum identifying the kind of failure.
type Code string

const (
	// Skill domain
	NotFound        Code = "not_found"
	Invalid         Code = "invalid"
	CyclicInherit   Code = "cyclic_inheritance"
	ParentNotFound  Code = "parent_not_found"
	DeepInheritance Code = "deep_inheritance" // warn only

	// Storage
	DbOpen        Code = "db_open"
	DbIntegrity   Code = "db_integrity"
	DbMigration   Code = "db_migration"
	ArchiveOpen   Code = "archive_open"
	ArchiveCorrupt Code = "archive_corrupt"
	LockHeld      Code = "lock_held"
	LockStale     Code = "lock_stale"

	// Transaction
	TxConflict   Code = "tx_conflict"
	TxAbandoned  Code = "tx_abandoned"
	TxRecovered  Code = "tx_recovered" // info

	// Resolution / Disclosure
	MissingCapability    Code = "missing_capability" // warn
	BudgetTooSmall       Code = "budget_too_small"
	ContractUnsatisfiable Code = "contract_unsatisfiable"

	// Sync
	RemoteUnreachable Code = "remote_unreachable"
	AuthFailed        Code = "auth_failed"
	MergeConflict     Code = "merge_conflict"
	ForkedKeepBoth    Code = "forked_keep_both"

	// Config
	ConfigInvalid   Code = "config_invalid"
	UnknownRemote   Code = "unknown_remote"
	UnknownStrategy Code = "unknown_strategy"

	// Network
	Timeout     Code = "timeout"
	HTTPStatus  Code = "http_status"
	RateLimited Code = "rate_limited"

	// Validation
	ValidationFailed Code = "validation_failed"
	AliasCollision   Code = "alias_collision"
)

// recoverableByDefault reflects whether a code is recoverable absent an
// explicit override at construction time.
var recoverableByDefault = map[Code]bool{
	DeepInheritance:    true,
	MissingCapability:  true,
	TxRecovered:        true,
	RemoteUnreachable:  true,
	Timeout:            true,
	RateLimited:        true,
	ForkedKeepBoth:     true,
}

// Error is the concrete error type returned across the core. It wraps an
// optional cause and carries free-form context for structured logging and
// the robot output envelope.
type Error struct {
	Code        Code
	Message     string
	Suggestion  string
	Recoverable bool
	Context     map[string]string
	Cause       error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs an Error with no cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message, Recoverable: recoverableByDefault[code]}
}

// Wrap constructs an Error around cause, propagating the offending path or
// other context via WithContext.
func Wrap(code Code, cause error, message string) *Error {
	return &Error{Code: code, Message: message, Cause: cause, Recoverable: recoverableByDefault[code]}
}

// WithSuggestion attaches a human-actionable suggestion.
func (e *Error) WithSuggestion(s string) *Error {
	e.Suggestion = s
	return e
}

// WithContext attaches a key/value pair of diagnostic context (e.g. the
// offending file path).
func (e *Error) WithContext(key, value string) *Error {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// CodeOf extracts the Code from err if it (or something it wraps) is an
// *Error, and ok=false otherwise.
func CodeOf(err error) (Code, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return "", false
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	c, ok := CodeOf(err)
	return ok && c == code
}
