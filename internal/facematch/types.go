// Package facematch resolves face embeddings to known identities and holds the
// geometry helpers shared by the detection pipeline.
package facematch

// Identity is a known person as published in a gallery snapshot.
// Values are never mutated after publication.
type Identity struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	Embedding   []float32 `json:"-"`
	ImageRef    string    `json:"image_ref,omitempty"`
}

// MatchResult is the outcome of a nearest-neighbor lookup. Identity is nil
// when the gallery is empty or no member is closer than the threshold.
type MatchResult struct {
	Identity *Identity
	Distance float64
}

// Matched reports whether an identity was accepted.
func (m MatchResult) Matched() bool {
	return m.Identity != nil
}
