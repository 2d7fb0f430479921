// Package errors provides a structured error system for cradle with error codes, categories, and context.
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"strings"
	"time"
)

// ErrorCode represents a structured error code for cradle operations.
type ErrorCode string

const (
	// Configuration errors
	ErrCodeInvalidConfig ErrorCode = "INVALID_CONFIG"
	ErrCodeConfigLoad    ErrorCode = "CONFIG_LOAD"
	ErrCodeConfigSave    ErrorCode = "CONFIG_SAVE"

	// Cache errors
	ErrCodeDiskCacheRead    ErrorCode = "DISK_CACHE_READ"
	ErrCodeDiskCacheWrite   ErrorCode = "DISK_CACHE_WRITE"
	ErrCodeDiskCacheCorrupt ErrorCode = "DISK_CACHE_CORRUPT"
	ErrCodeDiskIndex        ErrorCode = "DISK_INDEX"
	ErrCodeEntryNotFound    ErrorCode = "ENTRY_NOT_FOUND"

	// Remote storage errors
	ErrCodeObjectNotFound     ErrorCode = "OBJECT_NOT_FOUND"
	ErrCodeStorageRead        ErrorCode = "STORAGE_READ"
	ErrCodeStorageUnavailable ErrorCode = "STORAGE_UNAVAILABLE"
	ErrCodeAccessDenied       ErrorCode = "ACCESS_DENIED"

	// State errors
	ErrCodeNotInitialized     ErrorCode = "NOT_INITIALIZED"
	ErrCodeShutdownInProgress ErrorCode = "SHUTDOWN_IN_PROGRESS"

	// Operation errors
	ErrCodeOperationCanceled ErrorCode = "OPERATION_CANCELED"
	ErrCodeOperationTimeout  ErrorCode = "OPERATION_TIMEOUT"
	ErrCodeValidationFailed  ErrorCode = "VALIDATION_FAILED"

	// Internal errors
	ErrCodeInternalError  ErrorCode = "INTERNAL_ERROR"
	ErrCodePanicRecovered ErrorCode = "PANIC_RECOVERED"
)

// ErrorCategory represents the general category of an error.
type ErrorCategory string

const (
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryCache         ErrorCategory = "cache"
	CategoryStorage       ErrorCategory = "storage"
	CategoryState         ErrorCategory = "state"
	CategoryOperation     ErrorCategory = "operation"
	CategoryInternal      ErrorCategory = "internal"
)

// CradleError represents a structured error with context and metadata.
type CradleError struct {
	Code     ErrorCode              `json:"code"`
	Category ErrorCategory          `json:"category"`
	Message  string                 `json:"message"`
	Details  map[string]interface{} `json:"details,omitempty"`

	Context   map[string]string `json:"context,omitempty"`
	Cause     error             `json:"-"`
	Timestamp time.Time         `json:"timestamp"`

	Component string `json:"component"`
	Operation string `json:"operation,omitempty"`
	RequestID string `json:"request_id,omitempty"`

	Retryable  bool `json:"retryable"`
	HTTPStatus int  `json:"http_status,omitempty"`

	Stack string `json:"stack,omitempty"`
}

// Error implements the error interface.
func (e *CradleError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Component != "" {
		if e.Operation != "" {
			msg = fmt.Sprintf("[%s:%s] %s", e.Component, e.Operation, msg)
		} else {
			msg = fmt.Sprintf("[%s] %s", e.Component, msg)
		}
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause error for error wrapping compatibility.
func (e *CradleError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target error (for errors.Is compatibility).
func (e *CradleError) Is(target error) bool {
	if other, ok := target.(*CradleError); ok {
		return e.Code == other.Code
	}
	return false
}

// String returns a detailed string representation for logging.
func (e *CradleError) String() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("Code=%s", e.Code))
	parts = append(parts, fmt.Sprintf("Category=%s", e.Category))
	parts = append(parts, fmt.Sprintf("Message=%q", e.Message))

	if e.Component != "" {
		parts = append(parts, fmt.Sprintf("Component=%s", e.Component))
	}
	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("Operation=%s", e.Operation))
	}
	if e.RequestID != "" {
		parts = append(parts, fmt.Sprintf("RequestID=%s", e.RequestID))
	}
	if e.Retryable {
		parts = append(parts, "Retryable=true")
	}
	if len(e.Details) > 0 {
		details, _ := json.Marshal(e.Details)
		parts = append(parts, fmt.Sprintf("Details=%s", details))
	}
	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("Cause=%q", e.Cause.Error()))
	}

	return fmt.Sprintf("CradleError{%s}", strings.Join(parts, ", "))
}

// JSON returns the error as a JSON string.
func (e *CradleError) JSON() string {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Sprintf(`{"error":"failed to marshal error: %s"}`, err.Error())
	}
	return string(data)
}

// NewError creates a new cradle error with default values.
func NewError(code ErrorCode, message string) *CradleError {
	return &CradleError{
		Code:       code,
		Category:   GetCategory(code),
		Message:    message,
		Timestamp:  time.Now(),
		Details:    make(map[string]interface{}),
		Context:    make(map[string]string),
		Retryable:  IsRetryableByDefault(code),
		HTTPStatus: GetDefaultHTTPStatus(code),
	}
}

// Wrap creates a new error with code and message caused by err.
func Wrap(code ErrorCode, message string, err error) *CradleError {
	return NewError(code, message).WithCause(err)
}

// HasCode reports whether any error in err's chain is a CradleError with code.
func HasCode(err error, code ErrorCode) bool {
	var ce *CradleError
	for err != nil {
		if !errors.As(err, &ce) {
			return false
		}
		if ce.Code == code {
			return true
		}
		err = ce.Cause
	}
	return false
}

// GetCategory determines the category based on the error code.
func GetCategory(code ErrorCode) ErrorCategory {
	codeStr := string(code)
	switch {
	case codeStr == string(ErrCodeInvalidConfig) || strings.HasPrefix(codeStr, "CONFIG_"):
		return CategoryConfiguration
	case strings.HasPrefix(codeStr, "DISK_") || strings.HasPrefix(codeStr, "ENTRY_"):
		return CategoryCache
	case strings.HasPrefix(codeStr, "OBJECT_") || strings.HasPrefix(codeStr, "STORAGE_") ||
		strings.HasPrefix(codeStr, "ACCESS_"):
		return CategoryStorage
	case strings.HasPrefix(codeStr, "NOT_INITIALIZED") || strings.HasPrefix(codeStr, "SHUTDOWN_"):
		return CategoryState
	case strings.HasPrefix(codeStr, "OPERATION_") || strings.HasPrefix(codeStr, "VALIDATION_"):
		return CategoryOperation
	default:
		return CategoryInternal
	}
}

// IsRetryableByDefault determines if an error is retryable by default.
func IsRetryableByDefault(code ErrorCode) bool {
	switch code {
	case ErrCodeDiskCacheRead, ErrCodeDiskCacheWrite, ErrCodeDiskCacheCorrupt,
		ErrCodeStorageRead, ErrCodeOperationTimeout, ErrCodeInternalError:
		return true
	}
	return false
}

// GetDefaultHTTPStatus returns the default HTTP status for an error code.
func GetDefaultHTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeInvalidConfig, ErrCodeValidationFailed:
		return http.StatusBadRequest
	case ErrCodeAccessDenied:
		return http.StatusForbidden
	case ErrCodeEntryNotFound, ErrCodeObjectNotFound:
		return http.StatusNotFound
	case ErrCodeOperationCanceled:
		return 499 // client closed request
	case ErrCodeNotInitialized, ErrCodeShutdownInProgress, ErrCodeStorageUnavailable:
		return http.StatusServiceUnavailable
	case ErrCodeOperationTimeout:
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// CaptureStack captures the current stack trace for debugging.
func CaptureStack(skip int) string {
	const depth = 10
	var pcs [depth]uintptr
	n := runtime.Callers(skip+2, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])

	var stack []string
	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.File, "errors.go") {
			stack = append(stack, fmt.Sprintf("%s:%d %s", frame.File, frame.Line, frame.Function))
		}
		if !more {
			break
		}
	}
	return strings.Join(stack, "\n")
}

// WithContext adds contextual information to an error
func (e *CradleError) WithContext(key, value string) *CradleError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// WithDetail adds detailed information to an error
func (e *CradleError) WithDetail(key string, value interface{}) *CradleError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithComponent sets the component for an error
func (e *CradleError) WithComponent(component string) *CradleError {
	e.Component = component
	return e
}

// WithOperation sets the operation for an error
func (e *CradleError) WithOperation(operation string) *CradleError {
	e.Operation = operation
	return e
}

// WithRequestID tags the error with the API request that produced it.
func (e *CradleError) WithRequestID(id string) *CradleError {
	e.RequestID = id
	return e
}

// WithCause sets the underlying cause
func (e *CradleError) WithCause(cause error) *CradleError {
	e.Cause = cause
	return e
}

// WithStack captures the current stack trace
func (e *CradleError) WithStack() *CradleError {
	e.Stack = CaptureStack(2)
	return e
}
