package errors

import (
	"errors"
	"fmt"
	"net/http"
	"runtime"
)

// ErrorType represents the class of an error as seen by callers of the core
type ErrorType string

const (
	// Domain errors
	ErrorTypeValidation    ErrorType = "VALIDATION_FAILED"
	ErrorTypeNotFound      ErrorType = "NOT_FOUND"
	ErrorTypeAlreadyExists ErrorType = "ALREADY_EXISTS"
	ErrorTypeConflict      ErrorType = "CONFLICT"

	// Storage errors
	ErrorTypeTransaction ErrorType = "TRANSACTION_FAILED"
	ErrorTypeDatabase    ErrorType = "DATABASE"

	// Application / infrastructure errors
	ErrorTypeInternal    ErrorType = "INTERNAL"
	ErrorTypeUnavailable ErrorType = "UNAVAILABLE"
	ErrorTypeExternal    ErrorType = "EXTERNAL"
)

// Error codes carried in AppError.Code. They are part of the API contract.
const (
	CodeEntityNotFound         = "ENTITY_NOT_FOUND"
	CodeMutualNotFound         = "MUTUAL_NOT_FOUND"
	CodeEntityExists           = "ENTITY_EXISTS"
	CodeEmailExists            = "EMAIL_EXISTS"
	CodeMutualExists           = "MUTUAL_EXISTS"
	CodeEntityIsUndefined      = "ENTITY_IS_UNDEFINED"
	CodeConditionalCheckFailed = "CONDITIONAL_CHECK_FAILED"
	CodeTransactionFailed      = "TRANSACTION_FAILED"
	CodeValidation             = "API_VALIDATION_ERROR"
	CodeNotFound               = "NOT_FOUND"
)

// AppError represents an application-specific error
type AppError struct {
	Type       ErrorType              `json:"type"`
	Message    string                 `json:"message"`
	Code       string                 `json:"code,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Cause      error                  `json:"-"`
	StackTrace string                 `json:"-"`
	HTTPStatus int                    `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithCode adds an error code
func (e *AppError) WithCode(code string) *AppError {
	e.Code = code
	return e
}

// WithDetails adds error details
func (e *AppError) WithDetails(details map[string]interface{}) *AppError {
	e.Details = details
	return e
}

// WithCause wraps an underlying error
func (e *AppError) WithCause(err error) *AppError {
	e.Cause = err
	return e
}

func captureStackTrace() string {
	const depth = 32
	var pcs [depth]uintptr
	n := runtime.Callers(3, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])

	stack := ""
	for {
		frame, more := frames.Next()
		stack += fmt.Sprintf("%s:%d %s\n", frame.File, frame.Line, frame.Function)
		if !more {
			break
		}
	}
	return stack
}

// NewValidationError creates a validation error
func NewValidationError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Message:    message,
		Code:       CodeValidation,
		HTTPStatus: http.StatusBadRequest,
		StackTrace: captureStackTrace(),
	}
}

// NewNotFoundError creates a not found error. The message is used verbatim.
func NewNotFoundError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeNotFound,
		Message:    message,
		HTTPStatus: http.StatusNotFound,
		StackTrace: captureStackTrace(),
	}
}

// NewAlreadyExistsError creates an error for a duplicate id or unique value
func NewAlreadyExistsError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeAlreadyExists,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
		StackTrace: captureStackTrace(),
	}
}

// NewConflictError creates a conflict error
func NewConflictError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeConflict,
		Message:    message,
		HTTPStatus: http.StatusConflict,
		StackTrace: captureStackTrace(),
	}
}

// NewConditionalCheckError reports that at least one write condition did not hold.
// failed lists the positions of the rejected operations, when known.
func NewConditionalCheckError(cause error, failed []int) *AppError {
	return &AppError{
		Type:       ErrorTypeConflict,
		Message:    "conditional check failed",
		Code:       CodeConditionalCheckFailed,
		Details:    map[string]interface{}{"failedOperations": failed},
		Cause:      cause,
		HTTPStatus: http.StatusConflict,
		StackTrace: captureStackTrace(),
	}
}

// NewTransactionError wraps any non-conditional write failure together with the
// parameters of the attempted write.
func NewTransactionError(cause error, params interface{}) *AppError {
	return &AppError{
		Type:       ErrorTypeTransaction,
		Message:    "transaction failed",
		Code:       CodeTransactionFailed,
		Details:    map[string]interface{}{"params": params},
		Cause:      cause,
		HTTPStatus: http.StatusInternalServerError,
		StackTrace: captureStackTrace(),
	}
}

// NewInternalError creates an internal error
func NewInternalError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeInternal,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		StackTrace: captureStackTrace(),
	}
}

// NewUnavailableError creates a service unavailable error
func NewUnavailableError(service string) *AppError {
	return &AppError{
		Type:       ErrorTypeUnavailable,
		Message:    fmt.Sprintf("service '%s' is unavailable", service),
		HTTPStatus: http.StatusServiceUnavailable,
		StackTrace: captureStackTrace(),
	}
}

// NewDatabaseError creates a database error
func NewDatabaseError(operation string, err error) *AppError {
	return &AppError{
		Type:       ErrorTypeDatabase,
		Message:    fmt.Sprintf("database operation '%s' failed", operation),
		Cause:      err,
		HTTPStatus: http.StatusInternalServerError,
		StackTrace: captureStackTrace(),
	}
}

// NewExternalError creates an external service error
func NewExternalError(service string, err error) *AppError {
	return &AppError{
		Type:       ErrorTypeExternal,
		Message:    fmt.Sprintf("external service '%s' error", service),
		Cause:      err,
		HTTPStatus: http.StatusBadGateway,
		StackTrace: captureStackTrace(),
	}
}

// Helper functions

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// GetAppError extracts AppError from an error chain
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// IsType checks if an error is of a specific type
func IsType(err error, errType ErrorType) bool {
	appErr := GetAppError(err)
	return appErr != nil && appErr.Type == errType
}

// HasCode checks if an error carries a specific code
func HasCode(err error, code string) bool {
	appErr := GetAppError(err)
	return appErr != nil && appErr.Code == code
}

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	return IsType(err, ErrorTypeNotFound)
}

// IsAlreadyExists checks if an error is a duplicate error
func IsAlreadyExists(err error) bool {
	return IsType(err, ErrorTypeAlreadyExists)
}

// IsValidation checks if an error is a validation error
func IsValidation(err error) bool {
	return IsType(err, ErrorTypeValidation)
}

// IsConditionalCheckFailed checks if a write was rejected by its condition
func IsConditionalCheckFailed(err error) bool {
	return HasCode(err, CodeConditionalCheckFailed)
}

// FailedOperations returns the indexes of rejected operations of a conditional
// check failure, or nil when unknown.
func FailedOperations(err error) []int {
	appErr := GetAppError(err)
	if appErr == nil || appErr.Code != CodeConditionalCheckFailed {
		return nil
	}
	failed, _ := appErr.Details["failedOperations"].([]int)
	return failed
}

// IsTerminal reports whether redelivering the work that produced err can never
// succeed. Terminal errors are dead-lettered instead of retried.
func IsTerminal(err error) bool {
	appErr := GetAppError(err)
	if appErr == nil {
		return false
	}
	switch appErr.Type {
	case ErrorTypeValidation, ErrorTypeNotFound, ErrorTypeAlreadyExists:
		return true
	}
	return appErr.Code == CodeMutualExists || appErr.Code == CodeEntityIsUndefined
}

// HTTPStatusCode returns the HTTP status to use when err reaches a client
func HTTPStatusCode(err error) int {
	if appErr := GetAppError(err); appErr != nil && appErr.HTTPStatus != 0 {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}
