package facematch

// Nearest scans identities linearly and returns the index and distance of the
// closest one. Ties keep the first-seen identity. Returns -1 for an empty slice.
func Nearest(query []float32, identities []Identity) (int, float64) {
	best, bestDist := -1, MaxDistance
	for i := range identities {
		d := CosineDistance(query, identities[i].Embedding)
		if best == -1 || d < bestDist {
			best, bestDist = i, d
		}
	}
	return best, bestDist
}

// Match accepts the nearest identity only when its distance is strictly below
// threshold. A distance equal to threshold is not a match.
func Match(query []float32, identities []Identity, threshold float64) MatchResult {
	idx, dist := Nearest(query, identities)
	if idx < 0 {
		return MatchResult{Distance: MaxDistance}
	}
	if dist < threshold {
		return MatchResult{Identity: &identities[idx], Distance: dist}
	}
	return MatchResult{Distance: dist}
}
