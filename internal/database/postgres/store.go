package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"

	"github.com/kozaktomas/face-attendance/internal/database"
)

// Store implements database.Store.
type Store struct {
	pool *Pool
}

func NewStore(pool *Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.pool.Close()
}

func (s *Store) ListIdentities(ctx context.Context) ([]database.StoredIdentity, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, display_name, role, image_ref, embedding
		FROM identities
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("query identities: %w", err)
	}
	defer rows.Close()

	var out []database.StoredIdentity
	for rows.Next() {
		var (
			id  database.StoredIdentity
			vec *pgvector.Vector
		)
		if err := rows.Scan(&id.ID, &id.DisplayName, &id.Role, &id.ImageRef, &vec); err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}
		if vec != nil {
			id.Embedding = vec.Slice()
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate identities: %w", err)
	}
	return out, nil
}

// UpsertIdentity inserts or updates an identity row. A nil embedding clears
// the stored vector so the next gallery load recomputes it.
func (s *Store) UpsertIdentity(ctx context.Context, id database.StoredIdentity) error {
	var vec *pgvector.Vector
	if len(id.Embedding) > 0 {
		v := pgvector.NewVector(id.Embedding)
		vec = &v
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO identities (id, display_name, role, image_ref, embedding)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			role = EXCLUDED.role,
			image_ref = EXCLUDED.image_ref,
			embedding = EXCLUDED.embedding,
			updated_at = NOW()
	`, id.ID, id.DisplayName, id.Role, id.ImageRef, vec)
	if err != nil {
		return fmt.Errorf("upsert identity %s: %w", id.ID, err)
	}
	return nil
}

// NearestIdentities returns up to k identities ordered by cosine distance to
// vec, computed by pgvector. Used to cross-check the in-memory matcher.
func (s *Store) NearestIdentities(ctx context.Context, vec []float32, k int) ([]database.StoredIdentity, []float64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, display_name, embedding <=> $1 AS distance
		FROM identities
		WHERE embedding IS NOT NULL AND vector_dims(embedding) = $2
		ORDER BY distance, id
		LIMIT $3
	`, pgvector.NewVector(vec), len(vec), k)
	if err != nil {
		return nil, nil, fmt.Errorf("query nearest identities: %w", err)
	}
	defer rows.Close()

	var (
		ids       []database.StoredIdentity
		distances []float64
	)
	for rows.Next() {
		var (
			id database.StoredIdentity
			d  float64
		)
		if err := rows.Scan(&id.ID, &id.DisplayName, &d); err != nil {
			return nil, nil, fmt.Errorf("scan nearest identity: %w", err)
		}
		ids = append(ids, id)
		distances = append(distances, d)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate nearest identities: %w", err)
	}
	return ids, distances, nil
}

func (s *Store) AppendEvent(ctx context.Context, e *database.StoredEvent) error {
	kind := e.Kind
	if kind == "" {
		kind = database.EventKindScan
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO attendance_events
			(id, identity_id, display_name, recorded_at, evidence_ref, distance, first_of_day, kind, remark)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, e.ID, e.IdentityID, e.DisplayName, e.Timestamp, e.EvidenceRef, e.Distance, e.FirstOfDay, kind, e.Remark)
	if err != nil {
		return fmt.Errorf("insert attendance event: %w", err)
	}
	return nil
}

func (s *Store) LatestEventTimes(ctx context.Context, since time.Time) (map[string]time.Time, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT identity_id, MAX(recorded_at)
		FROM attendance_events
		WHERE recorded_at >= $1
		GROUP BY identity_id
	`, since)
	if err != nil {
		return nil, fmt.Errorf("query latest events: %w", err)
	}
	defer rows.Close()

	latest := make(map[string]time.Time)
	for rows.Next() {
		var (
			id string
			at time.Time
		)
		if err := rows.Scan(&id, &at); err != nil {
			return nil, fmt.Errorf("scan latest event: %w", err)
		}
		latest[id] = at
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate latest events: %w", err)
	}
	return latest, nil
}

func (s *Store) HasEventSince(ctx context.Context, identityID string, since time.Time) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM attendance_events WHERE identity_id = $1 AND recorded_at >= $2)
	`, identityID, since).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query event history: %w", err)
	}
	return exists, nil
}

func (s *Store) RecentEvents(ctx context.Context, limit int) ([]database.StoredEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, identity_id, display_name, recorded_at, evidence_ref, distance, first_of_day, kind, remark
		FROM attendance_events
		ORDER BY recorded_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent events: %w", err)
	}
	defer rows.Close()

	var out []database.StoredEvent
	for rows.Next() {
		var e database.StoredEvent
		if err := rows.Scan(&e.ID, &e.IdentityID, &e.DisplayName, &e.Timestamp, &e.EvidenceRef,
			&e.Distance, &e.FirstOfDay, &e.Kind, &e.Remark); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}

var (
	_ database.Store          = (*Store)(nil)
	_ database.IdentityWriter = (*Store)(nil)
	_ database.NearestFinder  = (*Store)(nil)
)
