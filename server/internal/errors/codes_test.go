package errors

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/hrygo/ragcache/plugin/ai"
	"github.com/hrygo/ragcache/store/cache"
)

func TestCacheError(t *testing.T) {
	cause := errors.New("vector store timeout")
	err := PipelineFailed("retrieval failed", cause).WithContext("strategy", "rapid")

	assert.Equal(t, "[PIPELINE_FAILED] retrieval failed: vector store timeout", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, ErrCodePipelineFailed, err.Code)
	assert.Equal(t, "rapid", err.Context["strategy"])

	assert.Equal(t, "[INVALID_ARGUMENT] empty query", InvalidArgument("empty query").Error())
}

func TestIsCode(t *testing.T) {
	err := errors.Wrap(Timeout("answer deadline", context.DeadlineExceeded), "answer")
	assert.True(t, IsCode(err, ErrCodeTimeout))
	assert.False(t, IsCode(err, ErrCodePipelineFailed))
	assert.False(t, IsCode(errors.New("plain"), ErrCodeTimeout))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{name: "nil", err: nil, want: ""},
		{name: "cache error", err: errors.Wrap(PipelineFailed("pipeline", errors.New("x")), "answer"), want: ErrCodePipelineFailed},
		{name: "canceled", err: errors.Wrap(context.Canceled, "answer"), want: ErrCodeContextCanceled},
		{name: "deadline", err: context.DeadlineExceeded, want: ErrCodeTimeout},
		{name: "dimension mismatch", err: errors.Wrap(ai.ErrDimensionMismatch, "len(a)=3 len(b)=2"), want: ErrCodeDimensionMismatch},
		{name: "embedding", err: &ai.EmbeddingError{Op: "create embeddings", TaskType: ai.TaskTypeRetrievalQuery, Cause: errors.New("503")}, want: ErrCodeEmbeddingFailed},
		{name: "invalidation", err: &cache.InvalidationError{Pattern: "rag:query:*", Removed: 3, Cause: errors.New("reset")}, want: ErrCodeInvalidationFailure},
		{name: "unavailable", err: cache.ErrCacheUnavailable, want: ErrCodeCacheUnavailable},
		{name: "unknown", err: errors.New("boom"), want: ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}
