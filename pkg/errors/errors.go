// Package errors defines the typed error taxonomy shared by the
// reconciliation core.
//
// Every failure surfaced by the parser, importer, merge engine, or undo
// manager is a *ReconcilerError carrying a category, a specific code, and
// optional context. Callers branch on the category to decide how to react:
//   - CategoryParse: the statement document is unusable, abort the import
//   - CategoryValidation: the request was malformed, fix and retry
//   - CategoryNotFound: the target state has moved on (group resolved,
//     tombstone consumed), retrying the same request is pointless
//   - CategoryExpired: the undo window has lapsed; the UI should say
//     "too late" rather than "unknown"
//   - CategoryConflict: a concurrent actor won the race; re-read and retry
//
// Validation errors additionally carry a field-level violation list so the
// caller can report every problem with a request at once.
package errors

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ErrorCategory represents different categories of errors
type ErrorCategory string

const (
	CategoryParse      ErrorCategory = "parse"
	CategoryValidation ErrorCategory = "validation"
	CategoryNotFound   ErrorCategory = "not_found"
	CategoryExpired    ErrorCategory = "expired"
	CategoryConflict   ErrorCategory = "conflict"
	CategoryStore      ErrorCategory = "store"
	CategoryInternal   ErrorCategory = "internal"
)

// ErrorCode represents specific error codes within categories
type ErrorCode string

const (
	// Parse errors
	CodeUnknownSchema  ErrorCode = "unknown_schema"
	CodeMalformedEntry ErrorCode = "malformed_entry"

	// Validation errors
	CodeMissingField  ErrorCode = "missing_field"
	CodeInvalidPolicy ErrorCode = "invalid_policy"
	CodeCommentLength ErrorCode = "comment_too_short"
	CodeNotInGroup    ErrorCode = "canonical_not_in_group"
	CodeInvalidValue  ErrorCode = "invalid_value"

	// Not-found errors
	CodeGroupNotFound     ErrorCode = "group_not_found"
	CodeLineNotFound      ErrorCode = "invoice_line_not_found"
	CodeGroupResolved     ErrorCode = "group_already_resolved"
	CodeTombstoneNotFound ErrorCode = "tombstone_not_found"
	CodeTombstoneUsed     ErrorCode = "tombstone_already_undone"

	// Expired errors
	CodeUndoWindowLapsed ErrorCode = "undo_window_lapsed"

	// Conflict errors
	CodeConcurrentMerge  ErrorCode = "concurrent_merge"
	CodeActiveTombstone  ErrorCode = "active_tombstone_exists"

	// Store errors
	CodeStoreUnavailable ErrorCode = "store_unavailable"
	CodeWriteFailed      ErrorCode = "write_failed"

	// Internal errors
	CodeUnexpectedError ErrorCode = "unexpected_error"
)

// FieldViolation describes a single precondition failure on a request field
type FieldViolation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ReconcilerError is the base error type for all application errors
type ReconcilerError struct {
	Category   ErrorCategory     `json:"category"`
	Code       ErrorCode         `json:"code"`
	Message    string            `json:"message"`
	Suggestion string            `json:"suggestion,omitempty"`
	Violations []FieldViolation  `json:"violations,omitempty"`
	Context    Context           `json:"context,omitempty"`
	Cause      error             `json:"-"`
	StackTrace errors.StackTrace `json:"-"`
}

// Context provides additional information about the error
type Context map[string]interface{}

// Error implements the error interface
func (e *ReconcilerError) Error() string {
	if len(e.Violations) > 0 {
		parts := make([]string, 0, len(e.Violations))
		for _, v := range e.Violations {
			parts = append(parts, fmt.Sprintf("%s: %s", v.Field, v.Message))
		}
		return fmt.Sprintf("%s (%s)", e.Message, strings.Join(parts, "; "))
	}
	if e.Suggestion != "" {
		return fmt.Sprintf("%s (suggestion: %s)", e.Message, e.Suggestion)
	}
	return e.Message
}

// Unwrap returns the underlying cause error
func (e *ReconcilerError) Unwrap() error {
	return e.Cause
}

// GetExitCode returns an appropriate exit code for the error
func (e *ReconcilerError) GetExitCode() int {
	switch e.Category {
	case CategoryParse:
		return 2
	case CategoryValidation:
		return 3
	case CategoryNotFound, CategoryExpired:
		return 4
	case CategoryConflict:
		return 5
	case CategoryStore:
		return 6
	case CategoryInternal:
		return 7
	default:
		return 1
	}
}

// WithContext adds context information to the error
func (e *ReconcilerError) WithContext(key string, value interface{}) *ReconcilerError {
	if e.Context == nil {
		e.Context = make(Context)
	}
	e.Context[key] = value
	return e
}

// WithSuggestion adds a suggestion for fixing the error
func (e *ReconcilerError) WithSuggestion(suggestion string) *ReconcilerError {
	e.Suggestion = suggestion
	return e
}

// WithViolation appends a field-level violation to the error
func (e *ReconcilerError) WithViolation(field, message string) *ReconcilerError {
	e.Violations = append(e.Violations, FieldViolation{Field: field, Message: message})
	return e
}

// New creates a new ReconcilerError
func New(category ErrorCategory, code ErrorCode, message string) *ReconcilerError {
	return &ReconcilerError{
		Category:   category,
		Code:       code,
		Message:    message,
		StackTrace: errors.New("").(stackTracer).StackTrace(),
	}
}

// Wrap wraps an existing error with ReconcilerError context
func Wrap(err error, category ErrorCategory, code ErrorCode, message string) *ReconcilerError {
	if err == nil {
		return nil
	}

	return &ReconcilerError{
		Category:   category,
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: errors.WithStack(err).(stackTracer).StackTrace(),
	}
}

// stackTracer interface for extracting stack traces
type stackTracer interface {
	StackTrace() errors.StackTrace
}

// Specific error constructors

// ParseError creates a terminal statement-parse error
func ParseError(code ErrorCode, detail string, err error) *ReconcilerError {
	var message string
	var suggestion string

	switch code {
	case CodeUnknownSchema:
		message = fmt.Sprintf("document matches no known statement schema: %s", detail)
		suggestion = "only camt.053 (BkToCstmrStmt) and camt.054 (BkToCstmrDbtCdtNtfctn) documents are supported"
	case CodeMalformedEntry:
		message = fmt.Sprintf("statement structure is malformed: %s", detail)
		suggestion = "verify the export from the bank is complete and not truncated"
	default:
		message = fmt.Sprintf("parse error: %s", detail)
		suggestion = "check the statement document and try again"
	}

	var result *ReconcilerError
	if err != nil {
		result = Wrap(err, CategoryParse, code, message)
	} else {
		result = New(CategoryParse, code, message)
	}

	return result.WithSuggestion(suggestion).WithContext("detail", detail)
}

// ValidationError creates a precondition-failure error with one initial violation
func ValidationError(code ErrorCode, field, message string) *ReconcilerError {
	return New(CategoryValidation, code, "request validation failed").
		WithViolation(field, message)
}

// NotFoundError signals that the request was well-formed but its target
// state no longer qualifies
func NotFoundError(code ErrorCode, kind, id string) *ReconcilerError {
	var message string
	switch code {
	case CodeGroupResolved:
		message = fmt.Sprintf("duplicate group %s has already been resolved", id)
	case CodeTombstoneUsed:
		message = fmt.Sprintf("tombstone %s has already been undone", id)
	default:
		message = fmt.Sprintf("%s %s not found", kind, id)
	}
	return New(CategoryNotFound, code, message).
		WithContext(kind+"_id", id)
}

// ExpiredError signals that a tombstone exists but its undo window has lapsed
func ExpiredError(tombstoneID string) *ReconcilerError {
	return New(CategoryExpired, CodeUndoWindowLapsed,
		fmt.Sprintf("undo window for tombstone %s has expired", tombstoneID)).
		WithSuggestion("the merge can no longer be undone automatically; re-create the lines manually if needed").
		WithContext("tombstone_id", tombstoneID)
}

// ConflictError signals a lost race against a concurrent actor
func ConflictError(code ErrorCode, groupKey string) *ReconcilerError {
	var message string
	switch code {
	case CodeActiveTombstone:
		message = fmt.Sprintf("duplicate group %s already has an active tombstone", groupKey)
	default:
		message = fmt.Sprintf("duplicate group %s was resolved by a concurrent merge", groupKey)
	}
	return New(CategoryConflict, code, message).
		WithSuggestion("reload the duplicate group list; the group may already be resolved").
		WithContext("group_key", groupKey)
}

// StoreError wraps a failure from a backing store collaborator
func StoreError(operation string, err error) *ReconcilerError {
	return Wrap(err, CategoryStore, CodeWriteFailed,
		fmt.Sprintf("store operation %s failed", operation)).
		WithContext("operation", operation)
}

// InternalError creates an internal error
func InternalError(operation string, err error) *ReconcilerError {
	return Wrap(err, CategoryInternal, CodeUnexpectedError,
		fmt.Sprintf("unexpected error during %s", operation)).
		WithSuggestion("this is likely a bug - please report it with the error details").
		WithContext("operation", operation)
}

// Utility functions

// IsReconcilerError checks if an error is a ReconcilerError
func IsReconcilerError(err error) bool {
	_, ok := err.(*ReconcilerError)
	return ok
}

// AsReconcilerError extracts a ReconcilerError from an error chain
func AsReconcilerError(err error) (*ReconcilerError, bool) {
	var reconcilerErr *ReconcilerError
	if errors.As(err, &reconcilerErr) {
		return reconcilerErr, true
	}
	return nil, false
}

// IsCategory reports whether err is a ReconcilerError of the given category
func IsCategory(err error, category ErrorCategory) bool {
	if re, ok := AsReconcilerError(err); ok {
		return re.Category == category
	}
	return false
}

// IsNotFound reports whether err represents a missing or moved-on target
func IsNotFound(err error) bool {
	return IsCategory(err, CategoryNotFound)
}

// IsExpired reports whether err represents a lapsed undo window
func IsExpired(err error) bool {
	return IsCategory(err, CategoryExpired)
}

// IsValidation reports whether err represents a failed precondition
func IsValidation(err error) bool {
	return IsCategory(err, CategoryValidation)
}

// IsConflict reports whether err represents a lost concurrent race
func IsConflict(err error) bool {
	return IsCategory(err, CategoryConflict)
}

// WrapIfNeeded wraps an error if it's not already a ReconcilerError
func WrapIfNeeded(err error, category ErrorCategory, code ErrorCode, message string) *ReconcilerError {
	if err == nil {
		return nil
	}

	if reconcilerErr, ok := AsReconcilerError(err); ok {
		return reconcilerErr
	}

	return Wrap(err, category, code, message)
}
