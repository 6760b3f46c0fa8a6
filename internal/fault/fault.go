// Package fault defines the error taxonomy surfaced by mindcore.
// Every terminal error carries a Kind, the operation that produced it, and a
// suggestion for the caller. Callers match with errors.Is / errors.As rather
// than string comparison.
package fault

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind classifies an error for propagation policy decisions.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindAuthorization Kind = "authorization"
	KindState         Kind = "state"
	KindIntegrity     Kind = "integrity"
	KindOperational   Kind = "operational"
	KindConsistency   Kind = "consistency"
)

// Sentinel errors. Structured variants below wrap these so that
// errors.Is(err, ErrTableNotFound) works regardless of payload.
var (
	ErrNotInitialized          = &Error{Kind: KindState, Code: "not_initialized", Suggestion: "open a cortex with mindcore.Open; a closed cortex cannot be reused"}
	ErrTableNotFound           = &Error{Kind: KindValidation, Code: "table_not_found"}
	ErrColumnNotFound          = &Error{Kind: KindValidation, Code: "column_not_found"}
	ErrRelationshipNotFound    = &Error{Kind: KindValidation, Code: "relationship_not_found"}
	ErrInvalidIdentifier       = &Error{Kind: KindValidation, Code: "invalid_identifier", Suggestion: "identifiers must match [A-Za-z_][A-Za-z0-9_]* and avoid SQL keywords"}
	ErrDDLNotAllowed           = &Error{Kind: KindAuthorization, Code: "ddl_not_allowed", Suggestion: "autonomous DDL is limited to CREATE TABLE, CREATE INDEX, ALTER TABLE ADD COLUMN, DROP INDEX"}
	ErrVectorDimensionMismatch = &Error{Kind: KindValidation, Code: "vector_dimension_mismatch"}
	ErrActionAlreadyFinalized  = &Error{Kind: KindState, Code: "action_already_finalized", Suggestion: "an action leaves pending exactly once"}
	ErrRuleVeto                = &Error{Kind: KindAuthorization, Code: "rule_veto"}
	ErrPolicyDeny              = &Error{Kind: KindAuthorization, Code: "policy_deny"}
	ErrRateLimitExceeded       = &Error{Kind: KindAuthorization, Code: "rate_limit_exceeded", Suggestion: "back off and retry after the window refills"}
	ErrTimeout                 = &Error{Kind: KindOperational, Code: "timeout"}
	ErrIntegrityViolation      = &Error{Kind: KindIntegrity, Code: "integrity_violation"}
	ErrMigrationFailed         = &Error{Kind: KindOperational, Code: "migration_failed"}
	ErrIO                      = &Error{Kind: KindOperational, Code: "io"}
)

// Error is the terminal error type. Op names the failing operation,
// Suggestion tells the caller what to do about it. Sensitive payloads
// (full SQL, embeddings, parameter values) never appear in Msg.
type Error struct {
	Kind       Kind
	Code       string
	Op         string
	Msg        string
	Suggestion string
	base       *Error
	cause      error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Code)
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.cause != nil {
		b.WriteString(": ")
		b.WriteString(e.cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	if e.cause != nil {
		return e.cause
	}
	if e.base != nil && e.base != e {
		return e.base
	}
	return nil
}

// Is reports identity by Code so wrapped variants match their sentinel.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New derives a contextualized error from a sentinel.
func New(base *Error, op, format string, args ...interface{}) *Error {
	return &Error{
		Kind:       base.Kind,
		Code:       base.Code,
		Op:         op,
		Msg:        fmt.Sprintf(format, args...),
		Suggestion: base.Suggestion,
		base:       base,
	}
}

// Wrap derives a contextualized error carrying a cause.
func Wrap(base *Error, op string, cause error) *Error {
	if cause == nil {
		return nil
	}
	return &Error{
		Kind:       base.Kind,
		Code:       base.Code,
		Op:         op,
		Suggestion: base.Suggestion,
		base:       base,
		cause:      cause,
	}
}

// TableNotFound reports an unknown table together with the catalog the
// caller may pick from instead.
func TableNotFound(op, table string, available []string) *Error {
	e := New(ErrTableNotFound, op, "table %q not found", table)
	e.Suggestion = "available tables: " + strings.Join(available, ", ")
	return e
}

// ColumnNotFound reports an unknown column on a known table.
func ColumnNotFound(op, column, table string, available []string) *Error {
	e := New(ErrColumnNotFound, op, "column %q not found on %q", column, table)
	e.Suggestion = "available columns: " + strings.Join(available, ", ")
	return e
}

// DimensionMismatch reports an embedding of the wrong length.
func DimensionMismatch(op string, want, got int) *Error {
	e := New(ErrVectorDimensionMismatch, op, "expected dimension %d, got %d", want, got)
	e.Suggestion = fmt.Sprintf("embeddings for this store must have exactly %d components", want)
	return e
}

// Timeout reports a deadline expiry after the given elapsed duration.
func Timeout(op string, elapsed time.Duration) *Error {
	if elapsed > 0 {
		return New(ErrTimeout, op, "deadline exceeded after %s", elapsed)
	}
	return New(ErrTimeout, op, "deadline exceeded")
}

// IsKind reports whether err (or anything it wraps) has the given kind.
func IsKind(err error, k Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == k
	}
	return false
}

// Retryable reports whether the storage adapter may retry the operation.
// Only transient I/O failures qualify: lock contention, busy handles, disk
// I/O. Classified errors retry only when they carry the IO code; constraint
// violations and every other classified error surface immediately.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code == ErrIO.Code
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "locked") ||
		strings.Contains(msg, "busy") ||
		strings.Contains(msg, "i/o error")
}
