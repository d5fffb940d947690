package ai

import (
	"math"

	"github.com/pkg/errors"
)

// CosineSimilarity returns dot(a, b) / (|a| * |b|), clamped to [-1, 1].
// A zero-magnitude vector yields 0.
func CosineSimilarity(a, b []float32) (float32, error) {
	if len(a) != len(b) {
		return 0, errors.Wrapf(ErrDimensionMismatch, "len(a)=%d len(b)=%d", len(a), len(b))
	}

	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}

	if normA == 0 || normB == 0 {
		return 0, nil
	}

	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	return float32(math.Max(-1, math.Min(1, sim))), nil
}
