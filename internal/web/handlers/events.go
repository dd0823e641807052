package handlers

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/database"
)

// EventsHandler lists persisted attendance events.
type EventsHandler struct {
	reader database.EventReader
	logger *slog.Logger
}

func NewEventsHandler(reader database.EventReader, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{reader: reader, logger: logger}
}

// EventResponse is the wire form of an attendance event.
type EventResponse struct {
	ID          string    `json:"id"`
	IdentityID  string    `json:"identity_id"`
	DisplayName string    `json:"display_name"`
	Timestamp   time.Time `json:"timestamp"`
	EvidenceRef string    `json:"evidence_ref,omitempty"`
	Distance    float64   `json:"distance"`
	FirstOfDay  bool      `json:"first_of_day"`
	Kind        string    `json:"kind"`
	Remark      string    `json:"remark,omitempty"`
}

func eventResponse(e database.StoredEvent) EventResponse {
	return EventResponse{
		ID:          e.ID,
		IdentityID:  e.IdentityID,
		DisplayName: e.DisplayName,
		Timestamp:   e.Timestamp,
		EvidenceRef: e.EvidenceRef,
		Distance:    e.Distance,
		FirstOfDay:  e.FirstOfDay,
		Kind:        e.Kind,
		Remark:      e.Remark,
	}
}

// Recent returns the newest events. ?limit defaults to DefaultRecentEvents
// and is capped at MaxRecentEvents.
func (h *EventsHandler) Recent(w http.ResponseWriter, r *http.Request) {
	limit := constants.DefaultRecentEvents
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, constants.MaxRecentEvents)
	}

	events, err := h.reader.RecentEvents(r.Context(), limit)
	if err != nil {
		h.logger.Error("listing recent events", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to list events")
		return
	}

	resp := make([]EventResponse, 0, len(events))
	for _, e := range events {
		resp = append(resp, eventResponse(e))
	}
	respondJSON(w, http.StatusOK, resp)
}
