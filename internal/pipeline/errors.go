// Package pipeline runs the inference loop: it takes the latest frame from the
// mailbox, samples, detects and embeds faces, matches them against the gallery,
// applies the liveness gate and hands matches to the attendance recorder.
package pipeline

import (
	"errors"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/capture"
	"github.com/kozaktomas/face-attendance/internal/embedding"
	"github.com/kozaktomas/face-attendance/internal/gallery"
	"github.com/kozaktomas/face-attendance/internal/notify"
)

var (
	// ErrDetection marks a failed detector call. The cycle is treated as having
	// found no faces.
	ErrDetection = errors.New("face detection failed")

	// ErrEmbedding marks a per-face crop or embedding failure.
	ErrEmbedding = errors.New("face embedding failed")
)

// Error kinds used in logs and metrics.
const (
	KindFrameUnavailable    = "FrameUnavailable"
	KindDetectionFailure    = "DetectionFailure"
	KindEmbeddingFailure    = "EmbeddingFailure"
	KindGalleryLoadFailure  = "GalleryLoadFailure"
	KindPersistFailure      = "PersistFailure"
	KindNotificationFailure = "NotificationFailure"
	KindOther               = "Other"
)

// Kind classifies err into the error taxonomy. It returns "" for nil.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, capture.ErrFrameUnavailable):
		return KindFrameUnavailable
	case errors.Is(err, ErrDetection):
		return KindDetectionFailure
	case errors.Is(err, ErrEmbedding), errors.Is(err, embedding.ErrEmptyEmbedding):
		return KindEmbeddingFailure
	case errors.Is(err, gallery.ErrGalleryLoad):
		return KindGalleryLoadFailure
	case errors.Is(err, attendance.ErrPersist):
		return KindPersistFailure
	case errors.Is(err, notify.ErrNotification):
		return KindNotificationFailure
	}
	return KindOther
}
