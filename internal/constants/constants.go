// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

import "time"

// Face matching constants
const (
	// DuplicateBoxIoU is the Intersection over Union above which two detector
	// boxes are treated as the same face (the lower scoring one is dropped)
	DuplicateBoxIoU = 0.6

	// LookalikeNeighbors is the number of HNSW neighbors inspected per identity
	// when auditing the gallery for ambiguous enrollments
	LookalikeNeighbors = 5

	// HNSWMaxNeighbors is the M parameter of the gallery audit graph
	HNSWMaxNeighbors = 16
)

// Imaging constants
const (
	// JPEGQuality is used for evidence snapshots and crops sent to the embedder
	JPEGQuality = 90

	// MaxUploadSize is the maximum accepted size of an uploaded scan image
	MaxUploadSize = 10 << 20
)

// Capture constants
const (
	// MJPEGReadTimeout bounds a single multipart part read from an IP camera
	MJPEGReadTimeout = 10 * time.Second

	// CaptureRetryDelay is the pause after a failed frame read
	CaptureRetryDelay = 500 * time.Millisecond
)
