package pipeline

import (
	"context"
	"fmt"
	"image"

	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/embedding"
	"github.com/kozaktomas/face-attendance/internal/facematch"
	"github.com/kozaktomas/face-attendance/internal/imaging"
)

// Detector finds face boxes on an encoded image.
type Detector interface {
	DetectFaces(ctx context.Context, imageData []byte) ([]embedding.Face, error)
}

// Embedder turns an encoded face crop into a vector.
type Embedder interface {
	Embed(ctx context.Context, imageData []byte) ([]float32, error)
}

// EyeDetector reports whether the eyes in an encoded frame are open.
type EyeDetector interface {
	EyesOpen(ctx context.Context, imageData []byte) (bool, error)
}

// Detection is one face found in a cycle. Err is set when this face could not
// be embedded; Embedding is nil in that case.
type Detection struct {
	Box       image.Rectangle
	Score     float64
	Embedding []float32
	Err       error
}

// DetectionStage runs the detector on the shrunk frame and embeds every face
// cropped from the full-resolution frame.
type DetectionStage struct {
	detector Detector
	embedder Embedder
}

func NewDetectionStage(detector Detector, embedder Embedder) *DetectionStage {
	return &DetectionStage{detector: detector, embedder: embedder}
}

// Detect finds faces on small (full shrunk by factor) and embeds each of them.
// A detector failure is returned wrapped in ErrDetection. Embedding failures
// stay on their Detection and never abort the other faces.
func (d *DetectionStage) Detect(ctx context.Context, full, small image.Image, factor float64) ([]Detection, error) {
	data, err := imaging.EncodeJPEG(small)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDetection, err)
	}
	faces, err := d.detector.DetectFaces(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDetection, err)
	}
	if len(faces) == 0 {
		return nil, nil
	}

	boxes := make([][]float64, len(faces))
	scores := make([]float64, len(faces))
	for i, f := range faces {
		boxes[i] = f.BBox
		scores[i] = f.DetScore
	}

	keep := facematch.DedupeBoxes(boxes, scores, constants.DuplicateBoxIoU)
	out := make([]Detection, 0, len(keep))
	for _, i := range keep {
		det := Detection{
			Box:   facematch.RescaleBBox(faces[i].BBox, factor, full.Bounds()),
			Score: faces[i].DetScore,
		}
		det.Embedding, det.Err = d.embed(ctx, full, det.Box)
		out = append(out, det)
	}
	return out, nil
}

func (d *DetectionStage) embed(ctx context.Context, full image.Image, box image.Rectangle) ([]float32, error) {
	crop, err := imaging.CropJPEG(full, box)
	if err != nil {
		return nil, fmt.Errorf("%w: crop %v: %w", ErrEmbedding, box, err)
	}
	vec, err := d.embedder.Embed(ctx, crop)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbedding, err)
	}
	return vec, nil
}
