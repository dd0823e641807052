// Package sqlstore implements database.Store on the employees and
// attendance_logs tables used by existing kiosk deployments. The MariaDB and
// SQLite backends share it and differ only in their Dialect.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kozaktomas/face-attendance/internal/database"
)

// TimeLayout is the fixed-width layout used where timestamps are stored as text,
// so that string comparison orders them correctly.
const TimeLayout = "2006-01-02 15:04:05.000000"

// Dialect captures the driver differences.
type Dialect struct {
	Name string
	// TimeArg converts a timestamp into a bind argument.
	TimeArg func(time.Time) any
}

// Store is a database.Store over *sql.DB.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// New wraps an open, migrated database.
func New(db *sql.DB, dialect Dialect) *Store {
	if dialect.TimeArg == nil {
		dialect.TimeArg = func(t time.Time) any { return t.UTC() }
	}
	return &Store{db: db, dialect: dialect}
}

// DB returns the underlying sql.DB.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping %s: %w", s.dialect.Name, err)
	}
	return nil
}

func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("closing database connection: %w", err)
	}
	return nil
}

// ListIdentities returns employees ordered by employee_id. The embedding
// column holds a JSON array; empty or NULL means none was precomputed. A row
// whose embedding cannot be decoded is returned with Err set.
func (s *Store) ListIdentities(ctx context.Context) ([]database.StoredIdentity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT employee_id, COALESCE(name, ''), COALESCE(role, ''), COALESCE(image_path, ''), COALESCE(embedding, '')
		FROM employees
		ORDER BY employee_id
	`)
	if err != nil {
		return nil, fmt.Errorf("query employees: %w", err)
	}
	defer rows.Close()

	var out []database.StoredIdentity
	for rows.Next() {
		var (
			id       database.StoredIdentity
			embedded string
		)
		if err := rows.Scan(&id.ID, &id.DisplayName, &id.Role, &id.ImageRef, &embedded); err != nil {
			return nil, fmt.Errorf("scan employee: %w", err)
		}
		if id.Embedding, err = DecodeEmbedding(embedded); err != nil {
			id.Err = err
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate employees: %w", err)
	}
	return out, nil
}

// UpsertIdentity inserts or replaces an employee row. Used by tests and
// tooling; the pipeline never writes identities.
func (s *Store) UpsertIdentity(ctx context.Context, id database.StoredIdentity) error {
	embedded, err := EncodeEmbedding(id.Embedding)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM employees WHERE employee_id = ?`, id.ID); err != nil {
		return fmt.Errorf("replace employee %s: %w", id.ID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO employees (employee_id, name, role, image_path, embedding) VALUES (?, ?, ?, ?, ?)`,
		id.ID, id.DisplayName, id.Role, id.ImageRef, embedded)
	if err != nil {
		return fmt.Errorf("insert employee %s: %w", id.ID, err)
	}
	return nil
}

func (s *Store) AppendEvent(ctx context.Context, e *database.StoredEvent) error {
	kind := e.Kind
	if kind == "" {
		kind = database.EventKindScan
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO attendance_logs
			(event_id, employee_id, employee_name, check_time, evidence_image, log_type, status, distance, first_of_day)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.IdentityID, e.DisplayName, s.dialect.TimeArg(e.Timestamp), e.EvidenceRef, kind, e.Remark, e.Distance, e.FirstOfDay)
	if err != nil {
		return fmt.Errorf("insert attendance log: %w", err)
	}
	return nil
}

func (s *Store) LatestEventTimes(ctx context.Context, since time.Time) (map[string]time.Time, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT employee_id, check_time
		FROM attendance_logs
		WHERE check_time >= ? AND employee_id IS NOT NULL AND employee_id != ''
	`, s.dialect.TimeArg(since))
	if err != nil {
		return nil, fmt.Errorf("query attendance logs: %w", err)
	}
	defer rows.Close()

	latest := make(map[string]time.Time)
	for rows.Next() {
		var (
			id string
			at Time
		)
		if err := rows.Scan(&id, &at); err != nil {
			return nil, fmt.Errorf("scan attendance log: %w", err)
		}
		if cur, ok := latest[id]; !ok || at.Time.After(cur) {
			latest[id] = at.Time
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attendance logs: %w", err)
	}
	return latest, nil
}

func (s *Store) HasEventSince(ctx context.Context, identityID string, since time.Time) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM attendance_logs WHERE employee_id = ? AND check_time >= ?
	`, identityID, s.dialect.TimeArg(since)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("count attendance logs: %w", err)
	}
	return n > 0, nil
}

func (s *Store) RecentEvents(ctx context.Context, limit int) ([]database.StoredEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT COALESCE(event_id, ''), COALESCE(employee_id, ''), COALESCE(employee_name, ''), check_time,
		       COALESCE(evidence_image, ''), COALESCE(distance, 0), COALESCE(first_of_day, 0),
		       COALESCE(log_type, ''), COALESCE(status, '')
		FROM attendance_logs
		ORDER BY check_time DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent attendance: %w", err)
	}
	defer rows.Close()

	var out []database.StoredEvent
	for rows.Next() {
		var (
			e  database.StoredEvent
			at Time
		)
		if err := rows.Scan(&e.ID, &e.IdentityID, &e.DisplayName, &at, &e.EvidenceRef,
			&e.Distance, &e.FirstOfDay, &e.Kind, &e.Remark); err != nil {
			return nil, fmt.Errorf("scan attendance log: %w", err)
		}
		e.Timestamp = at.Time
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attendance logs: %w", err)
	}
	return out, nil
}

// Time scans DATETIME columns whether the driver returns time.Time or text.
type Time struct {
	Time time.Time
}

var textLayouts = []string{
	"2006-01-02 15:04:05.999999999",
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
}

func (t *Time) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		t.Time = time.Time{}
		return nil
	case time.Time:
		t.Time = v.Local()
		return nil
	case []byte:
		return t.parse(string(v))
	case string:
		return t.parse(v)
	}
	return fmt.Errorf("unsupported timestamp type %T", src)
}

func (t *Time) parse(s string) error {
	s = strings.TrimSpace(s)
	for _, layout := range textLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed.Local()
			return nil
		}
	}
	return fmt.Errorf("unparseable timestamp %q", s)
}

// DecodeEmbedding parses a JSON float array. Empty input yields nil.
func DecodeEmbedding(s string) ([]float32, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "null" {
		return nil, nil
	}
	var vec []float32
	if err := json.Unmarshal([]byte(s), &vec); err != nil {
		return nil, fmt.Errorf("decoding embedding: %w", err)
	}
	return vec, nil
}

// EncodeEmbedding is the inverse of DecodeEmbedding.
func EncodeEmbedding(vec []float32) (string, error) {
	if len(vec) == 0 {
		return "", nil
	}
	data, err := json.Marshal(vec)
	if err != nil {
		return "", fmt.Errorf("encoding embedding: %w", err)
	}
	return string(data), nil
}

var (
	_ database.Store          = (*Store)(nil)
	_ database.IdentityWriter = (*Store)(nil)
)
