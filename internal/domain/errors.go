package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the domain layer.
var (
	// Model API errors.
	ErrModelResponse = fmt.Errorf("empty or malformed model response")
	ErrRateLimit     = fmt.Errorf("rate limit exceeded")
	ErrAuthInvalid   = fmt.Errorf("authentication failed")
	ErrProviderError = fmt.Errorf("provider error")

	// Loop errors.
	ErrToolNotFound  = fmt.Errorf("tool not found")
	ErrToolFailure   = fmt.Errorf("tool execution failed")
	ErrMaxIterations = fmt.Errorf("conversation reached max iterations")

	// Cache errors.
	ErrCacheNotFound = fmt.Errorf("cache not found")
	ErrCacheConflict = fmt.Errorf("cache name already exists")

	// Executor errors.
	ErrExecutorClosed = fmt.Errorf("executor is shut down")

	// Configuration errors.
	ErrConfigLoad = fmt.Errorf("failed to load configuration")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op     string // operation name (e.g., "CacheManager.Create")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsRetryableError reports whether err is a transient error that may succeed
// on retry with an identical request.
func IsRetryableError(err error) bool {
	return errors.Is(err, ErrRateLimit) || errors.Is(err, ErrProviderError)
}

// ErrorCode is a machine-parseable error category for monitoring and alerting.
type ErrorCode string

// Error codes. Every sentinel error maps to exactly one code.
const (
	CodeUnknown        ErrorCode = "UNKNOWN"
	CodeModelResponse  ErrorCode = "MODEL_RESPONSE"
	CodeRateLimit      ErrorCode = "RATE_LIMIT"
	CodeAuthInvalid    ErrorCode = "AUTH_INVALID"
	CodeProviderError  ErrorCode = "PROVIDER_ERROR"
	CodeToolNotFound   ErrorCode = "TOOL_NOT_FOUND"
	CodeToolFailure    ErrorCode = "TOOL_FAILURE"
	CodeMaxIterations  ErrorCode = "MAX_ITERATIONS"
	CodeCacheNotFound  ErrorCode = "CACHE_NOT_FOUND"
	CodeCacheConflict  ErrorCode = "CACHE_CONFLICT"
	CodeExecutorClosed ErrorCode = "EXECUTOR_CLOSED"
	CodeConfigLoad     ErrorCode = "CONFIG_LOAD"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrModelResponse:  CodeModelResponse,
	ErrRateLimit:      CodeRateLimit,
	ErrAuthInvalid:    CodeAuthInvalid,
	ErrProviderError:  CodeProviderError,
	ErrToolNotFound:   CodeToolNotFound,
	ErrToolFailure:    CodeToolFailure,
	ErrMaxIterations:  CodeMaxIterations,
	ErrCacheNotFound:  CodeCacheNotFound,
	ErrCacheConflict:  CodeCacheConflict,
	ErrExecutorClosed: CodeExecutorClosed,
	ErrConfigLoad:     CodeConfigLoad,
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// It unwraps DomainError and uses errors.Is to match sentinel errors.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	// Fast path: direct sentinel lookup.
	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	var de *DomainError
	if errors.As(err, &de) {
		if code, ok := errorCodeMap[de.Err]; ok {
			return code
		}
	}

	// Walk the error chain with errors.Is.
	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}

	return CodeUnknown
}
