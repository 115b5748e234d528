package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a specific application error type
type ErrorCode string

const (
	// Name/index resolution errors
	ErrCodeNotFound      ErrorCode = "NOT_FOUND"
	ErrCodeAlreadyExists ErrorCode = "ALREADY_EXISTS"

	// Payload and document errors
	ErrCodeMalformedPayload   ErrorCode = "MALFORMED_PAYLOAD"
	ErrCodeMissingPrimaryKey  ErrorCode = "MISSING_PRIMARY_KEY"
	ErrCodePrimaryKeyMismatch ErrorCode = "PRIMARY_KEY_MISMATCH"

	// Engine/index lifecycle errors
	ErrCodeIndexUnavailable ErrorCode = "INDEX_UNAVAILABLE"
	ErrCodeEngineError      ErrorCode = "ENGINE_ERROR"

	// System errors
	ErrCodeIoError            ErrorCode = "IO_ERROR"
	ErrCodeInternal           ErrorCode = "INTERNAL_ERROR"
	ErrCodeConfigurationError ErrorCode = "CONFIGURATION_ERROR"
)

// AppError represents an application error with context
type AppError struct {
	Code       ErrorCode              `json:"code"`
	Message    string                 `json:"message"`
	HTTPStatus int                    `json:"-"`
	Cause      error                  `json:"-"`
	Context    map[string]interface{} `json:"context,omitempty"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context information to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithCause sets the underlying cause of the error
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// New creates a new AppError
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: getHTTPStatus(code),
		Context:    make(map[string]interface{}),
	}
}

// Newf creates a new AppError with formatted message
func Newf(code ErrorCode, format string, args ...interface{}) *AppError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap wraps an existing error with an AppError
func Wrap(code ErrorCode, message string, cause error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: getHTTPStatus(code),
		Cause:      cause,
		Context:    make(map[string]interface{}),
	}
}

// Wrapf wraps an existing error with a formatted message
func Wrapf(code ErrorCode, cause error, format string, args ...interface{}) *AppError {
	return Wrap(code, fmt.Sprintf(format, args...), cause)
}

// IsErrorCode checks if an error is a specific AppError code
func IsErrorCode(err error, code ErrorCode) bool {
	var appErr *AppError
	if As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// As is a wrapper around errors.As for convenience
func As(err error, target interface{}) bool {
	return stderrors.As(err, target)
}

// getHTTPStatus maps error codes to a status-like class, kept for parity
// with the error model even though this module exposes no HTTP surface.
func getHTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeAlreadyExists:
		return http.StatusConflict
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeMalformedPayload, ErrCodeMissingPrimaryKey, ErrCodePrimaryKeyMismatch:
		return http.StatusBadRequest
	case ErrCodeIndexUnavailable:
		return http.StatusServiceUnavailable
	case ErrCodeEngineError, ErrCodeIoError, ErrCodeInternal, ErrCodeConfigurationError:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// Predefined common errors for convenience
var (
	ErrIndexNotFound      = New(ErrCodeNotFound, "the specified index does not exist")
	ErrIndexAlreadyExists = New(ErrCodeAlreadyExists, "an index with this name already exists")
	ErrUpdateNotFound     = New(ErrCodeNotFound, "the specified update does not exist")
	ErrDocumentNotFound   = New(ErrCodeNotFound, "the specified document does not exist")
	ErrMalformedPayload   = New(ErrCodeMalformedPayload, "the document payload could not be parsed")
	ErrMissingPrimaryKey  = New(ErrCodeMissingPrimaryKey, "no primary key could be inferred for this index")
	ErrPrimaryKeyMismatch = New(ErrCodePrimaryKeyMismatch, "the job's declared primary key differs from the index's primary key")
	ErrIndexUnavailable   = New(ErrCodeIndexUnavailable, "the index is not currently available")
	ErrInternal           = New(ErrCodeInternal, "we encountered an internal error, please try again")
)
