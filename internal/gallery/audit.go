package gallery

import (
	"slices"

	"github.com/coder/hnsw"
	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/facematch"
)

// LookalikePair is two enrolled identities closer to each other than the
// match threshold. Either can win a match for the other's face.
type LookalikePair struct {
	A, B     facematch.Identity
	Distance float64
}

// FindLookalikes builds an HNSW graph over the snapshot and reports identity
// pairs whose cosine distance is below threshold, closest first. Identities
// whose embedding length differs from the first identity are ignored.
func FindLookalikes(snap *Snapshot, threshold float64) []LookalikePair {
	if snap == nil || snap.Len() < 2 {
		return nil
	}

	dim := len(snap.Identities[0].Embedding)
	byID := make(map[string]facematch.Identity, snap.Len())

	g := hnsw.NewGraph[string]()
	g.M = constants.HNSWMaxNeighbors
	g.Ml = 1.0 / float64(constants.HNSWMaxNeighbors)
	g.Distance = hnsw.CosineDistance

	for _, id := range snap.Identities {
		if len(id.Embedding) != dim || dim == 0 {
			continue
		}
		byID[id.ID] = id
		g.Add(hnsw.MakeNode(id.ID, id.Embedding))
	}

	seen := make(map[[2]string]bool)
	var pairs []LookalikePair
	for _, id := range byID {
		for _, n := range g.Search(id.Embedding, constants.LookalikeNeighbors+1) {
			if n.Key == id.ID {
				continue
			}
			key := [2]string{min(id.ID, n.Key), max(id.ID, n.Key)}
			if seen[key] {
				continue
			}
			// Exact distance; the graph only nominates candidates.
			d := facematch.CosineDistance(id.Embedding, n.Value)
			if d >= threshold {
				continue
			}
			seen[key] = true
			pairs = append(pairs, LookalikePair{A: byID[key[0]], B: byID[key[1]], Distance: d})
		}
	}

	slices.SortFunc(pairs, func(a, b LookalikePair) int {
		if a.Distance != b.Distance {
			if a.Distance < b.Distance {
				return -1
			}
			return 1
		}
		if a.A.ID != b.A.ID {
			if a.A.ID < b.A.ID {
				return -1
			}
			return 1
		}
		if a.B.ID < b.B.ID {
			return -1
		}
		if a.B.ID > b.B.ID {
			return 1
		}
		return 0
	})
	return pairs
}
