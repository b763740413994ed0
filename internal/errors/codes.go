// Package errors provides structured error handling for amanrag.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Storage errors (corpus, index files)
//   - 3XX: Backend errors (vector store, web search, embedder)
//   - 4XX: Validation errors
//   - 5XX: Internal errors
//   - 6XX: Retrieval pipeline conditions (cache, budget, degradation)
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryStorage indicates corpus and index storage errors.
	CategoryStorage Category = "STORAGE"
	// CategoryBackend indicates failures of an external retrieval backend.
	CategoryBackend Category = "BACKEND"
	// CategoryValidation indicates input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
	// CategoryRetrieval indicates non-fatal retrieval pipeline conditions.
	CategoryRetrieval Category = "RETRIEVAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
	// SeverityInfo indicates informational only.
	SeverityInfo Severity = "INFO"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// Storage errors (200-299)
	ErrCodeCorpusUnavailable = "ERR_201_CORPUS_UNAVAILABLE"
	ErrCodeCorruptIndex      = "ERR_202_CORRUPT_INDEX"
	ErrCodeIndexLocked       = "ERR_203_INDEX_LOCKED"

	// Backend errors (300-399)
	ErrCodeBackendTimeout     = "ERR_301_BACKEND_TIMEOUT"
	ErrCodeBackendUnavailable = "ERR_302_BACKEND_UNAVAILABLE"
	ErrCodeRateLimited        = "ERR_303_RATE_LIMITED"
	ErrCodeEmbeddingFailed    = "ERR_304_EMBEDDING_FAILED"

	// Validation errors (400-499)
	ErrCodeInvalidInput      = "ERR_401_INVALID_INPUT"
	ErrCodeDimensionMismatch = "ERR_402_DIMENSION_MISMATCH"
	ErrCodeInvalidQuery      = "ERR_403_INVALID_QUERY"

	// Internal errors (500-599)
	ErrCodeInternal = "ERR_501_INTERNAL"

	// Retrieval pipeline conditions (600-699)
	ErrCodeCacheError        = "ERR_601_CACHE_ERROR"
	ErrCodeBudgetExhausted   = "ERR_602_BUDGET_EXHAUSTED"
	ErrCodeAllBackendsFailed = "ERR_603_ALL_BACKENDS_FAILED"
	ErrCodeStageFailed       = "ERR_604_STAGE_FAILED"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// Extract numeric portion (e.g., "301" from "ERR_301_BACKEND_TIMEOUT")
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryStorage
	case '3':
		return CategoryBackend
	case '4':
		return CategoryValidation
	case '6':
		return CategoryRetrieval
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeCorruptIndex, ErrCodeAllBackendsFailed:
		return SeverityFatal
	case ErrCodeCacheError, ErrCodeBudgetExhausted, ErrCodeStageFailed:
		return SeverityWarning
	}

	// Retryable backend errors get warning severity
	if isRetryableCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeBackendTimeout, ErrCodeBackendUnavailable, ErrCodeRateLimited:
		return true
	default:
		return false
	}
}
