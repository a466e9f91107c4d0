package vector

import "math"

// similarityEpsilon absorbs float rounding so identical texts still meet a 1.0 threshold.
const similarityEpsilon = 1e-6

// CosineSimilarity returns the cosine of the angle between a and b, or 0 when
// the vectors are empty, zero or of different lengths.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// MeetsThreshold reports whether score satisfies a minimum similarity.
func MeetsThreshold(score, threshold float64) bool {
	return score+similarityEpsilon >= threshold
}
