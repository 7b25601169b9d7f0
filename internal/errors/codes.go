// Package errors provides structured error handling for foldermcp.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: File and extraction errors
//   - 3XX: Network and download errors
//   - 4XX: Validation errors
//   - 5XX: Store errors (open, corruption, schema, locks)
//   - 6XX: Model and inference errors
//   - 7XX: Daemon and folder lifecycle errors
//   - 8XX: Search errors
//   - 9XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryIO indicates file and disk I/O errors.
	CategoryIO Category = "IO"
	// CategoryNetwork indicates network-related errors.
	CategoryNetwork Category = "NETWORK"
	// CategoryValidation indicates input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryStore indicates per-folder store errors.
	CategoryStore Category = "STORE"
	// CategoryModel indicates model loading and inference errors.
	CategoryModel Category = "MODEL"
	// CategoryDaemon indicates daemon and folder lifecycle errors.
	CategoryDaemon Category = "DAEMON"
	// CategorySearch indicates search errors.
	CategorySearch Category = "SEARCH"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
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
	ErrCodeConfigNotFound   = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid    = "ERR_102_CONFIG_INVALID"
	ErrCodeConfigPermission = "ERR_103_CONFIG_PERMISSION"

	// File errors (200-299)
	ErrCodeFileNotFound      = "ERR_201_FILE_NOT_FOUND"
	ErrCodeFilePermission    = "ERR_202_FILE_PERMISSION"
	ErrCodeDiskFull          = "ERR_203_DISK_FULL"
	ErrCodeFileTooLarge      = "ERR_204_FILE_TOO_LARGE"
	ErrCodeExtractionFailed  = "ERR_205_EXTRACTION_FAILED"
	ErrCodeUnsupportedFormat = "ERR_206_UNSUPPORTED_FORMAT"

	// Network errors (300-399)
	ErrCodeNetworkTimeout     = "ERR_301_NETWORK_TIMEOUT"
	ErrCodeNetworkUnavailable = "ERR_302_NETWORK_UNAVAILABLE"
	ErrCodeModelDownload      = "ERR_303_MODEL_DOWNLOAD"
	ErrCodeEngineUnreachable  = "ERR_304_ENGINE_UNREACHABLE"

	// Validation errors (400-499)
	ErrCodeInvalidInput      = "ERR_401_INVALID_INPUT"
	ErrCodeDimensionMismatch = "ERR_402_DIMENSION_MISMATCH"
	ErrCodeInvalidQuery      = "ERR_403_INVALID_QUERY"
	ErrCodeQueryEmpty        = "ERR_404_QUERY_EMPTY"
	ErrCodeInvalidPath       = "ERR_405_INVALID_PATH"
	ErrCodeUnknownModel      = "ERR_406_UNKNOWN_MODEL"

	// Store errors (500-599)
	ErrCodeStoreOpen        = "ERR_501_STORE_OPEN"
	ErrCodeStoreCorrupted   = "ERR_502_STORE_CORRUPTED"
	ErrCodeStoreEnvironment = "ERR_503_STORE_ENVIRONMENT"
	ErrCodeSchemaMismatch   = "ERR_504_SCHEMA_MISMATCH"
	ErrCodeStoreLocked      = "ERR_505_STORE_LOCKED"
	ErrCodeStoreClosed      = "ERR_506_STORE_CLOSED"
	ErrCodeStoreUnavailable = "ERR_507_STORE_UNAVAILABLE"

	// Model errors (600-699)
	ErrCodeModelLoad         = "ERR_601_MODEL_LOAD"
	ErrCodeInferenceFailed   = "ERR_602_INFERENCE_FAILED"
	ErrCodeAllBackendsFailed = "ERR_603_ALL_BACKENDS_FAILED"
	ErrCodeEmbeddingFailed   = "ERR_604_EMBEDDING_FAILED"

	// Daemon errors (700-799)
	ErrCodeDaemonNotRunning     = "ERR_701_DAEMON_NOT_RUNNING"
	ErrCodeDaemonAlreadyRunning = "ERR_702_DAEMON_ALREADY_RUNNING"
	ErrCodeFolderNotFound       = "ERR_703_FOLDER_NOT_FOUND"
	ErrCodeFolderExists         = "ERR_704_FOLDER_EXISTS"
	ErrCodeLifecycle            = "ERR_705_LIFECYCLE"

	// Search errors (800-899)
	ErrCodeSearchFailed  = "ERR_801_SEARCH_FAILED"
	ErrCodeSearchTimeout = "ERR_802_SEARCH_TIMEOUT"

	// Internal errors (900-999)
	ErrCodeInternal = "ERR_901_INTERNAL"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// Numeric portion, e.g. "501" from "ERR_501_STORE_OPEN".
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryIO
	case '3':
		return CategoryNetwork
	case '4':
		return CategoryValidation
	case '5':
		return CategoryStore
	case '6':
		return CategoryModel
	case '7':
		return CategoryDaemon
	case '8':
		return CategorySearch
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeDiskFull, ErrCodeSchemaMismatch, ErrCodeAllBackendsFailed:
		return SeverityFatal
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
// ErrCodeStoreUnavailable is retryable by contract: a store that is not yet
// open must never be confused with a store that is authoritatively empty.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeNetworkTimeout, ErrCodeNetworkUnavailable, ErrCodeModelDownload,
		ErrCodeEngineUnreachable, ErrCodeStoreUnavailable, ErrCodeStoreLocked:
		return true
	default:
		return false
	}
}
