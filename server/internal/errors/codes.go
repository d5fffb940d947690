package errors

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/hrygo/ragcache/plugin/ai"
	"github.com/hrygo/ragcache/store/cache"
)

// ErrorCode represents a specific error type for cache and retrieval operations.
type ErrorCode string

const (
	// ErrCodeEmbeddingFailed indicates the embedding provider call failed.
	ErrCodeEmbeddingFailed ErrorCode = "EMBEDDING_FAILED"
	// ErrCodeDimensionMismatch indicates vectors of different length were compared.
	ErrCodeDimensionMismatch ErrorCode = "DIMENSION_MISMATCH"
	// ErrCodeCacheUnavailable indicates the durable tier could not be reached.
	ErrCodeCacheUnavailable ErrorCode = "CACHE_UNAVAILABLE"
	// ErrCodeInvalidationFailure indicates a bulk invalidation stopped part way.
	ErrCodeInvalidationFailure ErrorCode = "INVALIDATION_FAILURE"
	// ErrCodePipelineFailed indicates the retrieval pipeline behind the cache failed.
	ErrCodePipelineFailed ErrorCode = "PIPELINE_FAILED"
	// ErrCodeInvalidArgument indicates invalid input parameters.
	ErrCodeInvalidArgument ErrorCode = "INVALID_ARGUMENT"
	// ErrCodeContextCanceled indicates the operation was canceled.
	ErrCodeContextCanceled ErrorCode = "CONTEXT_CANCELED"
	// ErrCodeTimeout indicates the operation timed out.
	ErrCodeTimeout ErrorCode = "TIMEOUT"
	// ErrCodeInternal is used for errors that match no other code.
	ErrCodeInternal ErrorCode = "INTERNAL"
)

// CacheError represents a structured error surfaced by the retrieval layer.
type CacheError struct {
	Code    ErrorCode
	Message string
	Cause   error
	Context map[string]interface{}
}

// Error implements the error interface.
func (e *CacheError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *CacheError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error.
func (e *CacheError) WithContext(key string, value interface{}) *CacheError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// InvalidArgument creates an invalid argument error.
func InvalidArgument(msg string) *CacheError {
	return &CacheError{Code: ErrCodeInvalidArgument, Message: msg}
}

// PipelineFailed wraps a retrieval pipeline failure.
func PipelineFailed(msg string, cause error) *CacheError {
	return &CacheError{Code: ErrCodePipelineFailed, Message: msg, Cause: cause}
}

// ContextCanceled creates a context canceled error.
func ContextCanceled(cause error) *CacheError {
	return &CacheError{Code: ErrCodeContextCanceled, Message: "operation canceled", Cause: cause}
}

// Timeout creates a timeout error.
func Timeout(msg string, cause error) *CacheError {
	return &CacheError{Code: ErrCodeTimeout, Message: msg, Cause: cause}
}

// IsCode checks if an error chain carries a specific code.
func IsCode(err error, code ErrorCode) bool {
	var cacheErr *CacheError
	if stderrors.As(err, &cacheErr) {
		return cacheErr.Code == code
	}
	return false
}

// Classify maps any error from the cache stack to an ErrorCode for logging
// and metric labels. A nil error has no code.
func Classify(err error) ErrorCode {
	if err == nil {
		return ""
	}

	var cacheErr *CacheError
	if stderrors.As(err, &cacheErr) {
		return cacheErr.Code
	}

	var embErr *ai.EmbeddingError
	var invErr *cache.InvalidationError
	switch {
	case stderrors.Is(err, context.Canceled):
		return ErrCodeContextCanceled
	case stderrors.Is(err, context.DeadlineExceeded):
		return ErrCodeTimeout
	case stderrors.Is(err, ai.ErrDimensionMismatch):
		return ErrCodeDimensionMismatch
	case stderrors.As(err, &embErr):
		return ErrCodeEmbeddingFailed
	case stderrors.As(err, &invErr):
		return ErrCodeInvalidationFailure
	case stderrors.Is(err, cache.ErrCacheUnavailable):
		return ErrCodeCacheUnavailable
	default:
		return ErrCodeInternal
	}
}
