package facematch

import (
	"image"
	"math"
)

// ComputeIoU calculates Intersection over Union between two bounding boxes.
// bbox1 and bbox2 are [x1, y1, x2, y2] in the same coordinate system.
func ComputeIoU(bbox1, bbox2 []float64) float64 {
	if len(bbox1) != 4 || len(bbox2) != 4 {
		return 0
	}

	ix := min(bbox1[2], bbox2[2]) - max(bbox1[0], bbox2[0])
	iy := min(bbox1[3], bbox2[3]) - max(bbox1[1], bbox2[1])
	if ix <= 0 || iy <= 0 {
		return 0
	}
	intersection := ix * iy

	area1 := (bbox1[2] - bbox1[0]) * (bbox1[3] - bbox1[1])
	area2 := (bbox2[2] - bbox2[0]) * (bbox2[3] - bbox2[1])
	union := area1 + area2 - intersection
	if union <= 0 {
		return 0
	}
	return intersection / union
}

// RescaleBBox maps a detector box [x1, y1, x2, y2] found on a frame shrunk by
// factor s back to full-resolution pixels: every coordinate becomes round(v/s).
// Detector coordinates start at (0, 0), so the box is offset by bounds.Min
// before being clipped to bounds. A factor outside (0, 1] is treated as 1.
func RescaleBBox(bbox []float64, s float64, bounds image.Rectangle) image.Rectangle {
	if len(bbox) != 4 {
		return image.Rectangle{}
	}
	if s <= 0 || s > 1 {
		s = 1
	}
	r := image.Rect(
		int(math.Round(bbox[0]/s)),
		int(math.Round(bbox[1]/s)),
		int(math.Round(bbox[2]/s)),
		int(math.Round(bbox[3]/s)),
	)
	return r.Add(bounds.Min).Intersect(bounds)
}

// DedupeBoxes drops boxes that overlap an earlier, higher scoring box by more
// than iouThreshold. boxes and scores are parallel slices; the returned
// indices keep detector order.
func DedupeBoxes(boxes [][]float64, scores []float64, iouThreshold float64) []int {
	keep := make([]int, 0, len(boxes))
	for i := range boxes {
		dup := false
		for j := range boxes {
			if i == j || ComputeIoU(boxes[i], boxes[j]) <= iouThreshold {
				continue
			}
			// The other box wins on higher score, or on equal score when it comes first.
			if scoreAt(scores, j) > scoreAt(scores, i) || (scoreAt(scores, j) == scoreAt(scores, i) && j < i) {
				dup = true
				break
			}
		}
		if !dup {
			keep = append(keep, i)
		}
	}
	return keep
}

func scoreAt(scores []float64, i int) float64 {
	if i < len(scores) {
		return scores[i]
	}
	return 0
}
