package errors

import (
	"errors"
	"fmt"
	"time"
)

// AmanError is the structured error type for amanrag.
// It carries enough context for degradation decisions, logging and user presentation.
type AmanError struct {
	// Code is the unique error code (e.g., "ERR_301_BACKEND_TIMEOUT").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, Backend, Retrieval, etc.).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable suggestion for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *AmanError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *AmanError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with AmanError sentinels.
func (e *AmanError) Is(target error) bool {
	if t, ok := target.(*AmanError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *AmanError) WithDetail(key, value string) *AmanError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
// Returns the error for method chaining.
func (e *AmanError) WithSuggestion(suggestion string) *AmanError {
	e.Suggestion = suggestion
	return e
}

// New creates a new AmanError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *AmanError {
	return &AmanError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates an AmanError from an existing error.
// The error's message becomes the AmanError message.
func Wrap(code string, err error) *AmanError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// Sentinels for errors.Is matching by code.
var (
	ErrBackendTimeout     = &AmanError{Code: ErrCodeBackendTimeout}
	ErrBackendUnavailable = &AmanError{Code: ErrCodeBackendUnavailable}
	ErrRateLimited        = &AmanError{Code: ErrCodeRateLimited}
	ErrInvalidQuery       = &AmanError{Code: ErrCodeInvalidQuery}
	ErrCacheError         = &AmanError{Code: ErrCodeCacheError}
	ErrBudgetExhausted    = &AmanError{Code: ErrCodeBudgetExhausted}
	ErrAllBackendsFailed  = &AmanError{Code: ErrCodeAllBackendsFailed}
	ErrConfig             = &AmanError{Code: ErrCodeConfigInvalid}
	ErrValidation         = &AmanError{Code: ErrCodeInvalidInput}
)

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *AmanError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// BackendTimeout reports a backend call that exceeded its deadline.
func BackendTimeout(backend string, cause error) *AmanError {
	return New(ErrCodeBackendTimeout, fmt.Sprintf("%s backend timed out", backend), cause).
		WithDetail("backend", backend)
}

// BackendUnavailable reports a backend that refused, failed (5xx) or is circuit-broken.
func BackendUnavailable(backend string, cause error) *AmanError {
	return New(ErrCodeBackendUnavailable, fmt.Sprintf("%s backend unavailable", backend), cause).
		WithDetail("backend", backend)
}

// RateLimited reports a 429-class response. retryAfter is zero when unknown.
func RateLimited(backend string, retryAfter time.Duration, cause error) *AmanError {
	e := New(ErrCodeRateLimited, fmt.Sprintf("%s backend rate limited", backend), cause).
		WithDetail("backend", backend)
	if retryAfter > 0 {
		e.WithDetail("retry_after", retryAfter.String())
	}
	return e
}

// InvalidQuery reports an empty or oversized query.
func InvalidQuery(message string) *AmanError {
	return New(ErrCodeInvalidQuery, message, nil).
		WithSuggestion("Provide a non-empty query within the configured length limit")
}

// CacheError reports a non-fatal cache serialization or storage failure.
func CacheError(op string, cause error) *AmanError {
	return New(ErrCodeCacheError, fmt.Sprintf("cache %s failed", op), cause).
		WithDetail("op", op)
}

// BudgetExhausted reports a token budget below the minimum viable size.
func BudgetExhausted(remaining int) *AmanError {
	return New(ErrCodeBudgetExhausted,
		fmt.Sprintf("token budget exhausted (%d remaining), using minimum limits", remaining), nil)
}

// AllBackendsFailed reports that no retrieval backend produced results.
// The joined causes are kept so callers can inspect each failure.
func AllBackendsFailed(causes ...error) *AmanError {
	return New(ErrCodeAllBackendsFailed, "all retrieval backends failed", errors.Join(causes...)).
		WithSuggestion("Check that the keyword index, vector store and web search backends are reachable")
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *AmanError {
	return New(ErrCodeInvalidInput, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *AmanError {
	return New(ErrCodeInternal, message, cause)
}

// asAman finds the outermost AmanError in the chain.
func asAman(err error) (*AmanError, bool) {
	var ae *AmanError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// IsRetryable checks if an error is retryable.
// Returns true if the chain contains an AmanError with Retryable set.
func IsRetryable(err error) bool {
	if ae, ok := asAman(err); ok {
		return ae.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
// Fatal errors should abort the current operation.
func IsFatal(err error) bool {
	if ae, ok := asAman(err); ok {
		return ae.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from an AmanError.
// Returns empty string if the chain holds no AmanError.
func GetCode(err error) string {
	if ae, ok := asAman(err); ok {
		return ae.Code
	}
	return ""
}

// GetCategory extracts the category from an AmanError.
// Returns empty string if the chain holds no AmanError.
func GetCategory(err error) Category {
	if ae, ok := asAman(err); ok {
		return ae.Category
	}
	return ""
}
