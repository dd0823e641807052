package handlers

import (
	"net/http"

	"github.com/kozaktomas/face-attendance/internal/pipeline"
)

// ResultsHandler serves the rendering consumer.
type ResultsHandler struct {
	board *pipeline.ResultBoard
}

func NewResultsHandler(board *pipeline.ResultBoard) *ResultsHandler {
	return &ResultsHandler{board: board}
}

// Latest returns the most recent cycle, or 204 before the first one.
func (h *ResultsHandler) Latest(w http.ResponseWriter, r *http.Request) {
	latest := h.board.Latest()
	if latest == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	respondJSON(w, http.StatusOK, latest)
}

// Stream sends one "cycle" event per processed frame until the client goes away.
func (h *ResultsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := setupSSEConnection(w)
	if !ok {
		return
	}

	ch := h.board.Subscribe()
	defer h.board.Unsubscribe(ch)

	if latest := h.board.Latest(); latest != nil {
		sendSSEEvent(w, flusher, "cycle", latest)
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case cycle, ok := <-ch:
			if !ok {
				return
			}
			sendSSEEvent(w, flusher, "cycle", cycle)
		}
	}
}
