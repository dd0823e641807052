package handlers

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/draw"
	"sync"
	"testing"

	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/database/mock"
	"github.com/kozaktomas/face-attendance/internal/gallery"
	"github.com/kozaktomas/face-attendance/internal/imaging"
	"github.com/kozaktomas/face-attendance/internal/logging"
	"github.com/kozaktomas/face-attendance/internal/pipeline"
)

// loadedGallery returns a gallery store loaded from a mock identity source.
func loadedGallery(t *testing.T, identities ...database.StoredIdentity) (*gallery.Store, *mock.MockStore) {
	t.Helper()
	src := mock.NewMockStore()
	src.SetIdentities(identities)
	g := gallery.NewStore(src, nil, "", logging.Discard())
	if _, err := g.Load(context.Background()); err != nil {
		t.Fatalf("gallery load: %v", err)
	}
	return g, src
}

// jpegBytes encodes a solid gray image.
func jpegBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.Gray{Y: 128}}, image.Point{}, draw.Src)
	data, err := imaging.EncodeJPEG(img)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return bytes.Clone(data)
}

type fakeScanner struct {
	mu     sync.Mutex
	result pipeline.CycleResult
	sizes  []image.Point
}

func (s *fakeScanner) Scan(ctx context.Context, img image.Image) pipeline.CycleResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sizes = append(s.sizes, img.Bounds().Size())
	return s.result
}

func (s *fakeScanner) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sizes)
}
