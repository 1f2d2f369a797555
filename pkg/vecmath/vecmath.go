// Package vecmath provides the small amount of vector arithmetic the
// memory search paths need: cosine distance over embedding vectors.
package vecmath

import (
	"errors"
	"math"
)

// Sentinel errors for vector validation.
var (
	// ErrDimensionMismatch indicates two vectors of different lengths.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	// ErrZeroVector indicates a vector with zero magnitude.
	ErrZeroVector = errors.New("zero-magnitude vector")
)

// CosineDistance returns 1 - cosine_similarity(a, b), in [0, 2].
// Identical directions yield 0, orthogonal vectors 1, opposite directions 2.
func CosineDistance(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, ErrDimensionMismatch
	}

	var dot, normA, normB float64

	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0, ErrZeroVector
	}

	return 1 - dot/(math.Sqrt(normA)*math.Sqrt(normB)), nil
}
