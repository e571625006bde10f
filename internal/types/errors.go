package types

import (
	"errors"
	"fmt"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Error code constants. All components MUST use these constants instead of
// hardcoded strings.
const (
	// Domain (surfaced to the triggering caller)
	ErrCodeNotFoundReport     ErrorCode = "not_found_report"
	ErrCodeNotFoundUser       ErrorCode = "not_found_user"
	ErrCodeNotFoundMessage    ErrorCode = "not_found_message"
	ErrCodeInvalidTransition  ErrorCode = "invalid_transition"
	ErrCodeWatcherIsCreator   ErrorCode = "conflict_watcher_is_creator"
	ErrCodeReportNotDeletable ErrorCode = "conflict_report_not_deletable"
	ErrCodeValidationWatchers ErrorCode = "validation_watchers_required"

	// Infrastructure (handled internally, log-and-retry-or-drop)
	ErrCodeInternalDB         ErrorCode = "internal_database_error"
	ErrCodeInternalUnexpected ErrorCode = "internal_unexpected_error"
	ErrCodeQueuePublish       ErrorCode = "queue_publish_failed"
)

// AppError is the standard application error type. Domain errors cross the
// producer boundary as AppError so callers can map codes to their own
// surfaces; everything past job enqueue stays internal.
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError creates a new AppError with the given code, message, and
// optional underlying error.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// IsNotFound reports whether err is an AppError with one of the not_found
// codes. Recipient resolution uses this to degrade absent entities to an
// empty recipient set instead of failing.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	var ae *AppError
	if errors.As(err, &ae) {
		switch ae.Code {
		case ErrCodeNotFoundReport, ErrCodeNotFoundUser, ErrCodeNotFoundMessage:
			return true
		}
	}
	return false
}
