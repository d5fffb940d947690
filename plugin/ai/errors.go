package ai

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrDimensionMismatch is returned when two vectors of different length are compared.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// EmbeddingError reports a failed embedding call.
type EmbeddingError struct {
	Op       string
	TaskType TaskType
	Cause    error
}

func (e *EmbeddingError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("embedding %s (%s) failed", e.Op, e.TaskType)
	}
	return fmt.Sprintf("embedding %s (%s) failed: %v", e.Op, e.TaskType, e.Cause)
}

func (e *EmbeddingError) Unwrap() error {
	return e.Cause
}

func newEmbeddingError(op string, taskType TaskType, cause error) *EmbeddingError {
	return &EmbeddingError{Op: op, TaskType: taskType, Cause: cause}
}
