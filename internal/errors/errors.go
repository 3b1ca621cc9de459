// Package errors provides structured application errors with typed kinds,
// HTTP status mapping, and operator-safe messages.
package errors

import (
	"fmt"
	"net/http"
)

// ErrorType classifies an error for propagation and HTTP mapping.
type ErrorType string

const (
	// ErrorTypeInvalidRequest covers malformed or out-of-range scan requests
	// and unknown connection ids.
	ErrorTypeInvalidRequest ErrorType = "invalid_request"
	// ErrorTypeNotFound covers lookups of unknown job ids.
	ErrorTypeNotFound ErrorType = "not_found"
	// ErrorTypeNotReady covers report access before a scan completed.
	ErrorTypeNotReady ErrorType = "not_ready"
	// ErrorTypeUnsupportedFormat covers report export in an unknown format.
	ErrorTypeUnsupportedFormat ErrorType = "unsupported_format"
	// ErrorTypeMetadataExtraction covers schema introspection failures.
	ErrorTypeMetadataExtraction ErrorType = "metadata_extraction"
	// ErrorTypeDataSampling covers sampling-phase failures where every column failed.
	ErrorTypeDataSampling ErrorType = "data_sampling"
	// ErrorTypePiiDetection covers detection pipeline failures.
	ErrorTypePiiDetection ErrorType = "pii_detection"
	// ErrorTypeReportGeneration covers report builder or renderer failures.
	ErrorTypeReportGeneration ErrorType = "report_generation"
	// ErrorTypeCancelled marks jobs failed by cooperative cancellation.
	ErrorTypeCancelled ErrorType = "cancelled"
	// ErrorTypeDatabase covers connection and query failures outside a scan phase.
	ErrorTypeDatabase ErrorType = "database"
	// ErrorTypeTimeout covers operations that exceeded their deadline.
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeInternal is the fallback for unclassified errors.
	ErrorTypeInternal ErrorType = "internal"
)

// statusCodes maps each error type to the HTTP status the API surface returns.
var statusCodes = map[ErrorType]int{
	ErrorTypeInvalidRequest:     http.StatusBadRequest,
	ErrorTypeNotFound:           http.StatusNotFound,
	ErrorTypeNotReady:           http.StatusConflict,
	ErrorTypeUnsupportedFormat:  http.StatusBadRequest,
	ErrorTypeMetadataExtraction: http.StatusInternalServerError,
	ErrorTypeDataSampling:       http.StatusInternalServerError,
	ErrorTypePiiDetection:       http.StatusInternalServerError,
	ErrorTypeReportGeneration:   http.StatusInternalServerError,
	ErrorTypeCancelled:          http.StatusConflict,
	ErrorTypeDatabase:           http.StatusInternalServerError,
	ErrorTypeTimeout:            http.StatusRequestTimeout,
	ErrorTypeInternal:           http.StatusInternalServerError,
}

// AppError is a structured error carrying a type, a message, an optional
// details string, and an optional wrapped cause.
type AppError struct {
	Type       ErrorType
	Message    string
	StatusCode int
	Details    string
	Cause      error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Type, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the wrapped cause, if any.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithDetails attaches a details string to the error and returns it.
func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

// WithDetailsf attaches a formatted details string to the error and returns it.
func (e *AppError) WithDetailsf(format string, args ...interface{}) *AppError {
	e.Details = fmt.Sprintf(format, args...)
	return e
}

// New creates an AppError of the given type.
func New(errorType ErrorType, message string) *AppError {
	return &AppError{
		Type:       errorType,
		Message:    message,
		StatusCode: statusCode(errorType),
	}
}

// Newf creates an AppError of the given type with a formatted message.
func Newf(errorType ErrorType, format string, args ...interface{}) *AppError {
	return New(errorType, fmt.Sprintf(format, args...))
}

// Wrap wraps an underlying error into an AppError of the given type.
func Wrap(err error, errorType ErrorType, message string) *AppError {
	return &AppError{
		Type:       errorType,
		Message:    message,
		StatusCode: statusCode(errorType),
		Cause:      err,
	}
}

// Wrapf wraps an underlying error with a formatted message.
func Wrapf(err error, errorType ErrorType, format string, args ...interface{}) *AppError {
	return Wrap(err, errorType, fmt.Sprintf(format, args...))
}

// NewInvalidRequestError creates an invalid-request error.
func NewInvalidRequestError(message string) *AppError {
	return New(ErrorTypeInvalidRequest, message)
}

// NewNotFoundError creates a not-found error for the named resource.
func NewNotFoundError(resource string) *AppError {
	return Newf(ErrorTypeNotFound, "%s not found", resource)
}

// NewNotReadyError creates a not-ready error for the named resource.
func NewNotReadyError(resource string) *AppError {
	return Newf(ErrorTypeNotReady, "%s is not ready", resource)
}

// NewUnsupportedFormatError creates an unsupported-format error.
func NewUnsupportedFormatError(format string) *AppError {
	return Newf(ErrorTypeUnsupportedFormat, "unsupported report format: %s", format)
}

// NewDatabaseError wraps a database failure for the named operation.
func NewDatabaseError(operation string, err error) *AppError {
	return Wrapf(err, ErrorTypeDatabase, "database operation failed: %s", operation)
}

// NewTimeoutError creates a timeout error for the named operation.
func NewTimeoutError(operation string) *AppError {
	return Newf(ErrorTypeTimeout, "operation timed out: %s", operation)
}

// NewCancelledError creates a cancellation error with reason "cancelled".
func NewCancelledError() *AppError {
	return New(ErrorTypeCancelled, "cancelled")
}

// IsType reports whether err is an AppError of the given type.
func IsType(err error, errorType ErrorType) bool {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Type == errorType
	}
	return false
}

// GetType returns the error type of err, or ErrorTypeInternal for plain errors.
func GetType(err error) ErrorType {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Type
	}
	return ErrorTypeInternal
}

// GetStatusCode returns the HTTP status code for err.
func GetStatusCode(err error) int {
	if appErr, ok := err.(*AppError); ok {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}

// ErrorMessages holds the operator-safe messages returned for error types whose
// internal message may leak connection details.
var ErrorMessages = struct {
	ResourceNotFound  string
	OperationTimeout  string
	ReportNotReady    string
	UnsupportedFormat string
	ScanFailed        string
}{
	ResourceNotFound:  "The requested resource was not found",
	OperationTimeout:  "The operation timed out",
	ReportNotReady:    "The report is not ready yet",
	UnsupportedFormat: "The requested report format is not supported",
	ScanFailed:        "The scan failed",
}

// SafeErrorMessage returns a message safe to expose to API clients.
// Invalid-request messages pass through; infrastructure errors are masked.
func SafeErrorMessage(err error) string {
	appErr, ok := err.(*AppError)
	if !ok {
		return "An unexpected error occurred"
	}
	switch appErr.Type {
	case ErrorTypeInvalidRequest, ErrorTypeCancelled:
		return appErr.Message
	case ErrorTypeNotFound:
		return ErrorMessages.ResourceNotFound
	case ErrorTypeNotReady:
		return ErrorMessages.ReportNotReady
	case ErrorTypeUnsupportedFormat:
		return ErrorMessages.UnsupportedFormat
	case ErrorTypeTimeout:
		return ErrorMessages.OperationTimeout
	case ErrorTypeMetadataExtraction, ErrorTypeDataSampling, ErrorTypePiiDetection, ErrorTypeReportGeneration:
		return ErrorMessages.ScanFailed
	default:
		return "An internal error occurred"
	}
}

func statusCode(errorType ErrorType) int {
	if code, ok := statusCodes[errorType]; ok {
		return code
	}
	return http.StatusInternalServerError
}
