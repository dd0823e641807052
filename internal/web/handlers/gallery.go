package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/face-attendance/internal/facematch"
	"github.com/kozaktomas/face-attendance/internal/gallery"
)

// GalleryStore is the part of gallery.Store the API needs.
type GalleryStore interface {
	Snapshot() *gallery.Snapshot
	Reload(ctx context.Context) (*gallery.Snapshot, error)
}

// GalleryHandler exposes the active gallery snapshot.
type GalleryHandler struct {
	store  GalleryStore
	logger *slog.Logger
}

func NewGalleryHandler(store GalleryStore, logger *slog.Logger) *GalleryHandler {
	return &GalleryHandler{store: store, logger: logger}
}

// IdentityResponse is one gallery member. Embeddings are never exposed.
type IdentityResponse struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	ImageRef    string `json:"image_ref,omitempty"`
	Dimensions  int    `json:"dimensions"`
}

// GalleryResponse describes a snapshot.
type GalleryResponse struct {
	Version    uint64             `json:"version"`
	LoadedAt   *time.Time         `json:"loaded_at,omitempty"`
	Count      int                `json:"count"`
	Skipped    int                `json:"skipped"`
	Identities []IdentityResponse `json:"identities"`
}

func identityResponse(id *facematch.Identity) IdentityResponse {
	return IdentityResponse{
		ID:          id.ID,
		DisplayName: id.DisplayName,
		ImageRef:    id.ImageRef,
		Dimensions:  len(id.Embedding),
	}
}

func galleryResponse(snap *gallery.Snapshot, withIdentities bool) GalleryResponse {
	resp := GalleryResponse{
		Version:    snap.Version,
		Count:      snap.Len(),
		Skipped:    snap.Skipped,
		Identities: []IdentityResponse{},
	}
	if !snap.LoadedAt.IsZero() {
		loadedAt := snap.LoadedAt
		resp.LoadedAt = &loadedAt
	}
	if withIdentities {
		for i := range snap.Identities {
			resp.Identities = append(resp.Identities, identityResponse(&snap.Identities[i]))
		}
	}
	return resp
}

// List returns the active snapshot.
func (h *GalleryHandler) List(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, galleryResponse(h.store.Snapshot(), true))
}

// Get returns one member of the active snapshot.
func (h *GalleryHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	identity, ok := h.store.Snapshot().Lookup(id)
	if !ok {
		respondError(w, http.StatusNotFound, "identity not in gallery")
		return
	}
	respondJSON(w, http.StatusOK, identityResponse(identity))
}

// Reload rebuilds the gallery from the identity source. When the source is
// unavailable the previous snapshot stays active and 503 is returned.
func (h *GalleryHandler) Reload(w http.ResponseWriter, r *http.Request) {
	snap, err := h.store.Reload(r.Context())
	if err != nil {
		h.logger.Error("gallery reload failed", "error", err)
		respondError(w, http.StatusServiceUnavailable, "gallery reload failed, previous gallery kept")
		return
	}
	h.logger.Info("gallery reloaded via API", "identities", snap.Len(), "remote", sanitizeForLog(r.RemoteAddr))
	respondJSON(w, http.StatusOK, galleryResponse(snap, false))
}
