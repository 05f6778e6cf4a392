package semantic

import "math"

// CosineSimilarity computes the cosine of the angle between two embedding
// vectors. Mismatched dimensions or a zero-magnitude vector yield 0 rather
// than an error: a degenerate embedding is "no evidence", not a failure.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
