package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kozaktomas/face-attendance/internal/config"
)

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), &config.DatabaseConfig{Driver: "does-not-exist"})
	if err == nil {
		t.Fatal("expected error for unregistered driver")
	}
}

func TestOpen_RegisteredDriver(t *testing.T) {
	wantErr := errors.New("boom")
	RegisterBackend("test-failing", func(ctx context.Context, cfg *config.DatabaseConfig) (Store, error) {
		return nil, wantErr
	})

	_, err := Open(context.Background(), &config.DatabaseConfig{Driver: "test-failing"})
	if !errors.Is(err, wantErr) {
		t.Errorf("Open() error = %v, want wrapped %v", err, wantErr)
	}

	found := false
	for _, d := range Drivers() {
		if d == "test-failing" {
			found = true
		}
	}
	if !found {
		t.Errorf("Drivers() = %v, missing test-failing", Drivers())
	}
}

func TestStartOfDay(t *testing.T) {
	loc := time.FixedZone("CET", 3600)
	in := time.Date(2026, 3, 14, 17, 45, 12, 99, loc)
	want := time.Date(2026, 3, 14, 0, 0, 0, 0, loc)
	if got := StartOfDay(in); !got.Equal(want) {
		t.Errorf("StartOfDay(%v) = %v, want %v", in, got, want)
	}
}
