package web

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/database/mock"
	"github.com/kozaktomas/face-attendance/internal/gallery"
	"github.com/kozaktomas/face-attendance/internal/logging"
	"github.com/kozaktomas/face-attendance/internal/metrics"
	"github.com/kozaktomas/face-attendance/internal/pipeline"
)

func newTestServer(t *testing.T, token string) (*Server, *metrics.Manager) {
	t.Helper()
	store := mock.NewMockStore()
	store.SetIdentities([]database.StoredIdentity{{ID: "E1", DisplayName: "Alice", Embedding: []float32{1, 0}}})
	g := gallery.NewStore(store, nil, "", logging.Discard())
	if _, err := g.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	m := metrics.NewManager()
	m.FrameCaptured()

	srv := NewServer(config.WebConfig{Host: "127.0.0.1", Port: 8080, APIToken: token}, Deps{
		Board:    pipeline.NewResultBoard(),
		Gallery:  g,
		Events:   store,
		Database: store,
		Metrics:  m,
	}, logging.Discard())
	return srv, m
}

func TestRoutes(t *testing.T) {
	srv, _ := newTestServer(t, "")

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/api/v1/health", http.StatusOK},
		{http.MethodGet, "/api/v1/gallery", http.StatusOK},
		{http.MethodPost, "/api/v1/gallery/reload", http.StatusOK},
		{http.MethodGet, "/api/v1/results", http.StatusNoContent},
		{http.MethodGet, "/api/v1/events/recent", http.StatusOK},
		{http.MethodGet, "/metrics", http.StatusOK},
		{http.MethodGet, "/api/v1/gallery/identities/E1", http.StatusOK},
		{http.MethodGet, "/api/v1/gallery/identities/nobody", http.StatusNotFound},
		{http.MethodGet, "/api/v1/gallery/reload", http.StatusMethodNotAllowed},
		{http.MethodGet, "/api/v1/unknown", http.StatusNotFound},
		// Scan is not wired without a scanner.
		{http.MethodPost, "/api/v1/scan", http.StatusNotFound},
	}

	for _, tc := range tests {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			srv.Router().ServeHTTP(recorder, httptest.NewRequest(tc.method, tc.path, nil))
			if recorder.Code != tc.want {
				t.Errorf("status = %d, want %d", recorder.Code, tc.want)
			}
		})
	}
}

func TestRoutes_ReloadRequiresToken(t *testing.T) {
	srv, _ := newTestServer(t, "s3cret")

	recorder := httptest.NewRecorder()
	srv.Router().ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, "/api/v1/gallery/reload", nil))
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("status without token = %d, want 401", recorder.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/gallery/reload", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	recorder = httptest.NewRecorder()
	srv.Router().ServeHTTP(recorder, req)
	if recorder.Code != http.StatusOK {
		t.Errorf("status with token = %d, want 200", recorder.Code)
	}

	// Read-only routes stay open.
	recorder = httptest.NewRecorder()
	srv.Router().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/gallery", nil))
	if recorder.Code != http.StatusOK {
		t.Errorf("gallery list status = %d, want 200", recorder.Code)
	}
}

func TestRoutes_Metrics(t *testing.T) {
	srv, _ := newTestServer(t, "")

	recorder := httptest.NewRecorder()
	srv.Router().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if !strings.Contains(recorder.Body.String(), "faceatt_capture_frames_total 1") {
		t.Errorf("metrics output missing frame counter:\n%s", recorder.Body.String())
	}
}

func TestRoutes_SecurityHeaders(t *testing.T) {
	srv, _ := newTestServer(t, "")

	recorder := httptest.NewRecorder()
	srv.Router().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/health", bytes.NewReader(nil)))

	if got := recorder.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", got)
	}
}

func TestNewServer_Addr(t *testing.T) {
	srv, _ := newTestServer(t, "")
	if srv.httpServer.Addr != "127.0.0.1:8080" {
		t.Errorf("Addr = %q", srv.httpServer.Addr)
	}
}
