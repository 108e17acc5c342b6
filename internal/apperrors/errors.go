package apperrors

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies an error by the workflow stage it belongs to
type Kind string

const (
	// KindCollection represents audit-log collection failures
	KindCollection Kind = "collection"
	// KindParse represents a single malformed audit record
	KindParse Kind = "parse"
	// KindResolution represents instance/network lookup failures
	KindResolution Kind = "resolution"
	// KindSelection represents failed HA resource selection
	KindSelection Kind = "selection"
	// KindExistenceCheck represents an ambiguous endpoint existence query
	KindExistenceCheck Kind = "existence_check"
	// KindProvisioning represents endpoint creation failures
	KindProvisioning Kind = "provisioning"
	// KindConfiguration represents invalid configuration
	KindConfiguration Kind = "configuration"
	// KindNotification represents notifier delivery failures
	KindNotification Kind = "notification"
)

// Error is a structured error carrying its workflow classification
type Error struct {
	Kind      Kind                   `json:"kind"`
	Message   string                 `json:"message"`
	Cause     error                  `json:"-"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// New creates a new classified error
func New(kind Kind, message string) *Error {
	return &Error{
		Kind:      kind,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// Newf creates a new classified error with a formatted message
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return New(kind, fmt.Sprintf(format, args...))
}

// Wrap creates a new classified error wrapping a cause
func Wrap(kind Kind, cause error, message string) *Error {
	e := New(kind, message)
	e.Cause = cause
	return e
}

// WithDetail attaches a key/value detail to the error
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the cause for errors.Is/As chains
func (e *Error) Unwrap() error {
	return e.Cause
}

// IsKind reports whether err (or anything it wraps) is a classified error of
// the given kind
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf returns the classification of err, or empty if unclassified
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
