package handlers

import (
	"bytes"
	"encoding/json"
	"image"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/logging"
	"github.com/kozaktomas/face-attendance/internal/pipeline"
)

func multipartRequest(t *testing.T, field string, data []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile(field, "upload.jpg")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/scan", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func TestScan_Multipart(t *testing.T) {
	scanner := &fakeScanner{result: pipeline.CycleResult{
		Faces: []pipeline.FaceResult{{Label: "Alice", Status: pipeline.StatusOK, IdentityID: "E1"}},
	}}
	h := NewScanHandler(scanner, logging.Discard())

	recorder := httptest.NewRecorder()
	h.Scan(recorder, multipartRequest(t, "image", jpegBytes(t, 64, 48)))

	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", recorder.Code, recorder.Body.String())
	}
	var resp pipeline.CycleResult
	if err := json.Unmarshal(recorder.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.Faces) != 1 || resp.Faces[0].Status != pipeline.StatusOK {
		t.Errorf("faces = %+v", resp.Faces)
	}
	if scanner.sizes[0] != (image.Point{X: 64, Y: 48}) {
		t.Errorf("scanned size = %v, want 64x48", scanner.sizes[0])
	}
}

func TestScan_RawBody(t *testing.T) {
	scanner := &fakeScanner{}
	h := NewScanHandler(scanner, logging.Discard())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/scan", bytes.NewReader(jpegBytes(t, 32, 32)))
	req.Header.Set("Content-Type", "image/jpeg")
	recorder := httptest.NewRecorder()
	h.Scan(recorder, req)

	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", recorder.Code)
	}
	if scanner.Calls() != 1 {
		t.Errorf("scanner calls = %d, want 1", scanner.Calls())
	}
}

func TestScan_Rejected(t *testing.T) {
	tests := []struct {
		name string
		req  func(t *testing.T) *http.Request
	}{
		{"wrong field", func(t *testing.T) *http.Request {
			return multipartRequest(t, "file", jpegBytes(t, 8, 8))
		}},
		{"empty body", func(t *testing.T) *http.Request {
			return httptest.NewRequest(http.MethodPost, "/api/v1/scan", nil)
		}},
		{"not an image", func(t *testing.T) *http.Request {
			return multipartRequest(t, "image", []byte("definitely not a jpeg"))
		}},
		{"too large", func(t *testing.T) *http.Request {
			return httptest.NewRequest(http.MethodPost, "/api/v1/scan", bytes.NewReader(make([]byte, constants.MaxUploadSize+1)))
		}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			scanner := &fakeScanner{}
			h := NewScanHandler(scanner, logging.Discard())

			recorder := httptest.NewRecorder()
			h.Scan(recorder, tc.req(t))

			if recorder.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", recorder.Code)
			}
			if scanner.Calls() != 0 {
				t.Error("scanner must not run for a rejected upload")
			}
		})
	}
}

func TestScan_DetectionFailure(t *testing.T) {
	scanner := &fakeScanner{result: pipeline.CycleResult{Error: "detection failed"}}
	h := NewScanHandler(scanner, logging.Discard())

	recorder := httptest.NewRecorder()
	h.Scan(recorder, multipartRequest(t, "image", jpegBytes(t, 16, 16)))

	if recorder.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", recorder.Code)
	}
}
