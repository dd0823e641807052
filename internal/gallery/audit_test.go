package gallery

import (
	"testing"

	"github.com/kozaktomas/face-attendance/internal/facematch"
)

func TestFindLookalikes(t *testing.T) {
	snap := &Snapshot{Identities: []facematch.Identity{
		{ID: "E1", DisplayName: "Alice", Embedding: []float32{1, 0, 0}},
		{ID: "E2", DisplayName: "Alicia", Embedding: []float32{0.99, 0.05, 0}},
		{ID: "E3", DisplayName: "Bob", Embedding: []float32{0, 1, 0}},
		{ID: "E4", DisplayName: "Carol", Embedding: []float32{0, 0, 1}},
		{ID: "E5", DisplayName: "Odd", Embedding: []float32{1, 0}},
	}}

	pairs := FindLookalikes(snap, 0.30)
	if len(pairs) != 1 {
		t.Fatalf("FindLookalikes() = %+v, want one pair", pairs)
	}
	if pairs[0].A.ID != "E1" || pairs[0].B.ID != "E2" {
		t.Errorf("pair = %s/%s, want E1/E2", pairs[0].A.ID, pairs[0].B.ID)
	}
	if pairs[0].Distance >= 0.30 {
		t.Errorf("distance = %v, want below threshold", pairs[0].Distance)
	}
}

func TestFindLookalikes_SmallGallery(t *testing.T) {
	if got := FindLookalikes(nil, 0.3); got != nil {
		t.Errorf("FindLookalikes(nil) = %v, want nil", got)
	}
	one := &Snapshot{Identities: []facematch.Identity{{ID: "E1", Embedding: []float32{1}}}}
	if got := FindLookalikes(one, 0.3); got != nil {
		t.Errorf("FindLookalikes(one) = %v, want nil", got)
	}
}
