//go:build integration

package postgres

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/logging"
)

func setupTestContainer(t *testing.T) (*Store, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "pgvector/pgvector:pg16",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("Docker not available or container failed to start, skipping integration test: %v", err)
		return nil, func() {}
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	cfg := &config.DatabaseConfig{
		Driver:       config.DriverPostgres,
		URL:          fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port()),
		MaxOpenConns: 5,
		MaxIdleConns: 2,
	}

	store, err := Open(ctx, cfg, logging.Discard())
	if err != nil {
		container.Terminate(ctx)
		t.Fatalf("Failed to open store: %v", err)
	}

	cleanup := func() {
		store.Close()
		container.Terminate(ctx)
	}
	return store, cleanup
}

func TestStore(t *testing.T) {
	store, cleanup := setupTestContainer(t)
	if store == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()

	t.Run("MigrateTwice", func(t *testing.T) {
		if err := store.pool.Migrate(ctx); err != nil {
			t.Fatalf("second Migrate() error = %v", err)
		}
	})

	t.Run("Identities", func(t *testing.T) {
		rows := []database.StoredIdentity{
			{ID: "E2", DisplayName: "Bob", ImageRef: "bob.jpg"},
			{ID: "E1", DisplayName: "Alice", Role: "nurse", Embedding: []float32{1, 0, 0}},
			{ID: "E3", DisplayName: "Carol", Embedding: []float32{0.9, 0.1, 0}},
		}
		for _, r := range rows {
			if err := store.UpsertIdentity(ctx, r); err != nil {
				t.Fatalf("UpsertIdentity(%s) error = %v", r.ID, err)
			}
		}

		got, err := store.ListIdentities(ctx)
		if err != nil {
			t.Fatalf("ListIdentities() error = %v", err)
		}
		if len(got) != 3 || got[0].ID != "E1" || got[1].ID != "E2" {
			t.Fatalf("ListIdentities() = %+v", got)
		}
		if len(got[0].Embedding) != 3 || got[0].Embedding[0] != 1 {
			t.Errorf("E1 embedding = %v", got[0].Embedding)
		}
		if got[1].Embedding != nil {
			t.Errorf("E2 embedding = %v, want nil", got[1].Embedding)
		}

		nearest, distances, err := store.NearestIdentities(ctx, []float32{1, 0, 0}, 2)
		if err != nil {
			t.Fatalf("NearestIdentities() error = %v", err)
		}
		if len(nearest) != 2 || nearest[0].ID != "E1" || distances[0] > 1e-6 {
			t.Errorf("NearestIdentities() = %+v %v", nearest, distances)
		}
	})

	t.Run("Events", func(t *testing.T) {
		midnight := database.StartOfDay(time.Now())
		morning := midnight.Add(8 * time.Hour)
		events := []*database.StoredEvent{
			{ID: uuid.NewString(), IdentityID: "E1", DisplayName: "Alice", Timestamp: midnight.Add(-time.Hour)},
			{ID: uuid.NewString(), IdentityID: "E1", DisplayName: "Alice", Timestamp: morning, FirstOfDay: true, Distance: 0.1},
			{ID: uuid.NewString(), IdentityID: "E2", DisplayName: "Bob", Timestamp: morning.Add(time.Minute), Kind: database.EventKindUpload},
		}
		for _, e := range events {
			if err := store.AppendEvent(ctx, e); err != nil {
				t.Fatalf("AppendEvent() error = %v", err)
			}
		}

		latest, err := store.LatestEventTimes(ctx, midnight)
		if err != nil {
			t.Fatalf("LatestEventTimes() error = %v", err)
		}
		if len(latest) != 2 || !latest["E1"].Equal(morning) {
			t.Errorf("LatestEventTimes() = %v", latest)
		}

		has, err := store.HasEventSince(ctx, "E1", midnight)
		if err != nil || !has {
			t.Errorf("HasEventSince() = %v, %v", has, err)
		}

		recent, err := store.RecentEvents(ctx, 2)
		if err != nil {
			t.Fatalf("RecentEvents() error = %v", err)
		}
		if len(recent) != 2 || recent[0].IdentityID != "E2" || recent[0].Kind != database.EventKindUpload {
			t.Errorf("RecentEvents() = %+v", recent)
		}
		if recent[1].Kind != database.EventKindScan || !recent[1].FirstOfDay {
			t.Errorf("second event = %+v", recent[1])
		}
	})
}
