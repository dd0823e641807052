package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

// sanitizeForLog removes newlines and carriage returns to prevent log injection.
func sanitizeForLog(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// Pinger is satisfied by every database backend.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports liveness of the process and its collaborators.
type HealthHandler struct {
	db      Pinger
	gallery GalleryStore
	started time.Time
}

// NewHealthHandler creates a health handler. db may be nil.
func NewHealthHandler(db Pinger, gallery GalleryStore) *HealthHandler {
	return &HealthHandler{db: db, gallery: gallery, started: time.Now()}
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status     string `json:"status"`
	Database   string `json:"database,omitempty"`
	Identities int    `json:"identities"`
	Uptime     string `json:"uptime"`
}

// Check handles the health check endpoint. A failing database ping turns
// the response into 503.
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status: "ok",
		Uptime: time.Since(h.started).Truncate(time.Second).String(),
	}
	if h.gallery != nil {
		resp.Identities = h.gallery.Snapshot().Len()
	}

	status := http.StatusOK
	if h.db != nil {
		if err := h.db.Ping(r.Context()); err != nil {
			resp.Status = "degraded"
			resp.Database = "unreachable"
			status = http.StatusServiceUnavailable
		} else {
			resp.Database = "ok"
		}
	}
	respondJSON(w, status, resp)
}
