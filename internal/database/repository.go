package database

import (
	"context"
	"time"
)

// IdentityReader provides read-only access to known identities.
type IdentityReader interface {
	// ListIdentities returns every identity ordered by id.
	ListIdentities(ctx context.Context) ([]StoredIdentity, error)
}

// IdentityWriter enrolls identities. Implemented by every backend but not
// part of Store: the pipeline never writes identities.
type IdentityWriter interface {
	// UpsertIdentity inserts or replaces the identity with the same id.
	UpsertIdentity(ctx context.Context, identity StoredIdentity) error
}

// NearestFinder is implemented by backends with a vector index.
type NearestFinder interface {
	// NearestIdentities returns up to k identities with their cosine distance to vec, closest first.
	NearestIdentities(ctx context.Context, vec []float32, k int) ([]StoredIdentity, []float64, error)
}

// EventWriter appends attendance events.
type EventWriter interface {
	// AppendEvent stores an event. Events are never updated or deleted.
	AppendEvent(ctx context.Context, event *StoredEvent) error
}

// EventReader answers the few read queries the pipeline and the API need.
type EventReader interface {
	// LatestEventTimes returns the newest event time per identity among events at or after since.
	LatestEventTimes(ctx context.Context, since time.Time) (map[string]time.Time, error)
	// HasEventSince reports whether the identity has any event at or after since.
	HasEventSince(ctx context.Context, identityID string, since time.Time) (bool, error)
	// RecentEvents returns up to limit events, newest first.
	RecentEvents(ctx context.Context, limit int) ([]StoredEvent, error)
}

// Store is implemented by every backend.
type Store interface {
	IdentityReader
	EventWriter
	EventReader
	// Ping verifies the connection.
	Ping(ctx context.Context) error
	Close() error
}
