package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/database/mock"
)

func TestRespondJSON_SetsContentType(t *testing.T) {
	recorder := httptest.NewRecorder()
	respondJSON(recorder, http.StatusOK, map[string]string{"status": "ok"})

	contentType := recorder.Header().Get("Content-Type")
	if contentType != "application/json" {
		t.Errorf("expected Content-Type 'application/json', got '%s'", contentType)
	}
}

func TestRespondJSON_SetsStatusCode(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
	}{
		{"OK", http.StatusOK},
		{"BadRequest", http.StatusBadRequest},
		{"ServiceUnavailable", http.StatusServiceUnavailable},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			respondJSON(recorder, tc.statusCode, nil)

			if recorder.Code != tc.statusCode {
				t.Errorf("expected status %d, got %d", tc.statusCode, recorder.Code)
			}
			if recorder.Body.Len() != 0 {
				t.Errorf("expected empty body for nil data, got %q", recorder.Body.String())
			}
		})
	}
}

func TestRespondError(t *testing.T) {
	recorder := httptest.NewRecorder()
	respondError(recorder, http.StatusBadRequest, "bad input")

	var body map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if body["error"] != "bad input" {
		t.Errorf("error = %q, want 'bad input'", body["error"])
	}
}

func TestSanitizeForLog(t *testing.T) {
	if got := sanitizeForLog("a\nb\rc"); got != "abc" {
		t.Errorf("sanitizeForLog() = %q, want abc", got)
	}
}

func TestHealthCheck(t *testing.T) {
	g, _ := loadedGallery(t,
		database.StoredIdentity{ID: "E1", DisplayName: "Alice", Embedding: []float32{1, 0}},
		database.StoredIdentity{ID: "E2", DisplayName: "Bob", Embedding: []float32{0, 1}},
	)

	tests := []struct {
		name       string
		pingErr    error
		wantStatus int
		wantState  string
		wantDB     string
	}{
		{"healthy", nil, http.StatusOK, "ok", "ok"},
		{"database down", errors.New("connection refused"), http.StatusServiceUnavailable, "degraded", "unreachable"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			db := mock.NewMockStore()
			db.PingError = tc.pingErr
			h := NewHealthHandler(db, g)

			recorder := httptest.NewRecorder()
			h.Check(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

			if recorder.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d", recorder.Code, tc.wantStatus)
			}
			var resp HealthResponse
			if err := json.Unmarshal(recorder.Body.Bytes(), &resp); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if resp.Status != tc.wantState {
				t.Errorf("Status = %q, want %q", resp.Status, tc.wantState)
			}
			if resp.Database != tc.wantDB {
				t.Errorf("Database = %q, want %q", resp.Database, tc.wantDB)
			}
			if resp.Identities != 2 {
				t.Errorf("Identities = %d, want 2", resp.Identities)
			}
		})
	}
}

func TestHealthCheck_NoDependencies(t *testing.T) {
	recorder := httptest.NewRecorder()
	NewHealthHandler(nil, nil).Check(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	if recorder.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", recorder.Code)
	}
}
