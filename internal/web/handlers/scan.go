package handlers

import (
	"context"
	"image"
	"io"
	"log/slog"
	"mime"
	"net/http"

	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/imaging"
	"github.com/kozaktomas/face-attendance/internal/pipeline"
)

// Scanner runs one uploaded image through detection, matching and recording.
type Scanner interface {
	Scan(ctx context.Context, img image.Image) pipeline.CycleResult
}

// ScanHandler is the kiosk upload endpoint.
type ScanHandler struct {
	scanner Scanner
	logger  *slog.Logger
}

func NewScanHandler(scanner Scanner, logger *slog.Logger) *ScanHandler {
	return &ScanHandler{scanner: scanner, logger: logger}
}

// Scan accepts a multipart form with an "image" file (or a raw image body)
// and returns the cycle result synchronously.
func (h *ScanHandler) Scan(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, constants.MaxUploadSize)

	data, err := readUpload(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	img, err := imaging.Decode(data)
	if err != nil {
		respondError(w, http.StatusBadRequest, "unsupported or corrupt image")
		return
	}

	result := h.scanner.Scan(r.Context(), img)
	if result.Error != "" {
		h.logger.Warn("scan failed", "error", result.Error)
		respondJSON(w, http.StatusBadGateway, result)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

type uploadError string

func (e uploadError) Error() string { return string(e) }

func readUpload(r *http.Request) ([]byte, error) {
	if isMultipart(r) {
		if err := r.ParseMultipartForm(constants.MaxUploadSize); err != nil {
			return nil, uploadError("failed to parse multipart form")
		}
		file, _, err := r.FormFile("image")
		if err != nil {
			return nil, uploadError("image file is required")
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			return nil, uploadError("failed to read image")
		}
		return data, nil
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, uploadError("image too large or unreadable")
	}
	if len(data) == 0 {
		return nil, uploadError("image file is required")
	}
	return data, nil
}

func isMultipart(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "multipart/form-data"
}
