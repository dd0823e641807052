package facematch

import "math"

// MaxDistance is returned for vectors that cannot be compared
// (different lengths, empty, or zero norm). It never passes a threshold.
const MaxDistance = 2.0

// CosineSimilarity returns cos(a, b) clamped to [-1, 1] and false when the
// vectors cannot be compared.
func CosineSimilarity(a, b []float32) (float64, bool) {
	if len(a) != len(b) || len(a) == 0 {
		return 0, false
	}

	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0, false
	}

	// One sqrt of the product keeps cos(v, v) exactly 1.
	sim := dot / math.Sqrt(normA*normB)
	// Clamp floating point drift.
	return max(-1, min(1, sim)), true
}

// CosineDistance computes 1 - cos(a, b): 0 for identical direction, 1 for
// orthogonal, 2 for opposite or incomparable vectors.
func CosineDistance(a, b []float32) float64 {
	sim, ok := CosineSimilarity(a, b)
	if !ok {
		return MaxDistance
	}
	return 1 - sim
}
