package core

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors for retry and abort decisions.
type ErrorCategory string

const (
	ErrCatNetwork   ErrorCategory = "network"    // Connection failure, reset, 5xx
	ErrCatTimeout   ErrorCategory = "timeout"    // Request or wall-clock timeout
	ErrCatRateLimit ErrorCategory = "rate_limit" // Provider throttling (429)
	ErrCatContent   ErrorCategory = "content"    // 2xx response with empty/invalid payload
	ErrCatInput     ErrorCategory = "input"      // Unsupported/corrupt source, oversized payload
	ErrCatAuth      ErrorCategory = "auth"       // 4xx auth/validation rejection mid-run
	ErrCatSetup     ErrorCategory = "setup"      // Missing credentials, unreachable provider, bad config
	ErrCatState     ErrorCategory = "state"      // Checkpoint/manifest corruption or conflict
	ErrCatInternal  ErrorCategory = "internal"   // Unexpected internal error
)

// DomainError represents a structured error from the pipeline core.
type DomainError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Retryable bool
	Cause     error
	Details   map[string]interface{}
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s (%v)", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches a target.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Category == t.Category && e.Code == t.Code
}

// WithCause wraps an underlying error.
func (e *DomainError) WithCause(cause error) *DomainError {
	e.Cause = cause
	return e
}

// WithDetail adds contextual information.
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// ErrNetwork creates a transient network error.
func ErrNetwork(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatNetwork,
		Code:      "NETWORK_FAILED",
		Message:   message,
		Retryable: true,
	}
}

// ErrTimeout creates a timeout error.
func ErrTimeout(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatTimeout,
		Code:      "TIMEOUT",
		Message:   message,
		Retryable: true,
	}
}

// ErrRateLimit creates a rate limit error.
func ErrRateLimit(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatRateLimit,
		Code:      "RATE_LIMITED",
		Message:   message,
		Retryable: true,
	}
}

// ErrEmptyContent creates a transient content error: the provider answered
// with a syntactically successful response whose payload is empty or
// unusable. Observed to correlate with provider-side overload, so it is
// retried like a network failure rather than recorded as success.
func ErrEmptyContent(provider string) *DomainError {
	return &DomainError{
		Category:  ErrCatContent,
		Code:      CodeEmptyResponse,
		Message:   fmt.Sprintf("provider %s returned a successful response with no content", provider),
		Retryable: true,
	}
}

// ErrInput creates a permanent input error.
func ErrInput(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatInput,
		Code:      code,
		Message:   message,
		Retryable: false,
	}
}

// ErrAuth creates a permanent auth/validation error.
func ErrAuth(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatAuth,
		Code:      "AUTH_REJECTED",
		Message:   message,
		Retryable: false,
	}
}

// ErrSetup creates a setup error. Setup errors abort the run before any
// items are dispatched and must name the missing credential or dependency.
func ErrSetup(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatSetup,
		Code:      code,
		Message:   message,
		Retryable: false,
	}
}

// ErrState creates a state error.
func ErrState(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatState,
		Code:      code,
		Message:   message,
		Retryable: false,
	}
}

// ErrRetryExhausted marks an item whose retry budget was spent without a
// terminal outcome, typically an attempt cut short by a crash or kill.
// Not retryable: resume never grants extra attempts.
func ErrRetryExhausted(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatInternal,
		Code:      CodeRetryExhausted,
		Message:   message,
		Retryable: false,
	}
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Retryable
	}
	return false
}

// IsSetup reports whether an error belongs to the setup category. Setup
// failures are the only class that escalates to run-level abort.
func IsSetup(err error) bool {
	return IsCategory(err, ErrCatSetup)
}

// GetCategory extracts the error category.
func GetCategory(err error) ErrorCategory {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Category
	}
	return ErrCatInternal
}

// IsCategory checks if an error belongs to a category.
func IsCategory(err error, cat ErrorCategory) bool {
	return GetCategory(err) == cat
}

// Predefined error codes
const (
	CodeEmptyResponse       = "EMPTY_RESPONSE"
	CodeRetryExhausted      = "RETRY_EXHAUSTED"
	CodeMissingCredential   = "MISSING_CREDENTIAL"
	CodeProviderUnreachable = "PROVIDER_UNREACHABLE"
	CodeInvalidConfig       = "INVALID_CONFIG"
	CodeUnsupportedFormat   = "UNSUPPORTED_FORMAT"
	CodeCorruptSource       = "CORRUPT_SOURCE"
	CodePayloadTooLarge     = "PAYLOAD_TOO_LARGE"
	CodeManifestCorrupted   = "MANIFEST_CORRUPTED"
	CodeStoreCorrupted      = "STORE_CORRUPTED"
	CodeFFmpegMissing       = "FFMPEG_MISSING"
	CodeRunNotFound         = "RUN_NOT_FOUND"
)
