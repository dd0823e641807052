package database

import (
	"time"
)

// StoredIdentity is a row of the identity source. Embedding is nil when the
// row carries no precomputed vector.
type StoredIdentity struct {
	ID          string
	DisplayName string
	Role        string
	ImageRef    string // path of the reference image, relative to the image directory
	Embedding   []float32

	// Err is set when the row was read but its embedding could not be
	// decoded. Consumers skip such identities.
	Err error
}

// Event kinds written to the attendance store.
const (
	EventKindScan   = "SCAN"   // recorded by the live pipeline
	EventKindUpload = "UPLOAD" // recorded through the scan API
)

// StoredEvent is an append-only attendance record.
type StoredEvent struct {
	ID          string
	IdentityID  string
	DisplayName string
	Timestamp   time.Time
	EvidenceRef string
	Distance    float64
	FirstOfDay  bool
	Kind        string
	Remark      string
}

// StartOfDay returns local midnight of the day containing t.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
