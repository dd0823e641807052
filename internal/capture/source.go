package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/imaging"
)

// ErrFrameUnavailable wraps any failure to read a frame. The capture loop
// skips the read and tries again.
var ErrFrameUnavailable = errors.New("frame unavailable")

// ErrSourceExhausted is returned by finite sources with nothing left to play.
var ErrSourceExhausted = errors.New("video source exhausted")

// Source produces decoded frames. NextFrame blocks until a frame is available
// or ctx is done.
type Source interface {
	NextFrame(ctx context.Context) (image.Image, error)
	Close() error
}

// MJPEGSource reads a multipart/x-mixed-replace stream as served by most IP
// cameras and MJPEG bridges. The connection is re-established after errors.
type MJPEGSource struct {
	url    string
	client *http.Client

	mu     sync.Mutex
	body   interface{ Close() error }
	reader *multipart.Reader
}

// OpenMJPEG connects to url and fails if the stream cannot be opened, so a
// missing camera is reported at startup.
func OpenMJPEG(ctx context.Context, url string) (*MJPEGSource, error) {
	s := &MJPEGSource{url: url, client: &http.Client{}}
	if err := s.connect(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *MJPEGSource) connect(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("connecting to camera: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return fmt.Errorf("camera returned status %d", resp.StatusCode)
	}

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") || params["boundary"] == "" {
		resp.Body.Close()
		return fmt.Errorf("unexpected camera content type %q", resp.Header.Get("Content-Type"))
	}

	s.body = resp.Body
	s.reader = multipart.NewReader(resp.Body, params["boundary"])
	return nil
}

// NextFrame reads and decodes the next JPEG part.
func (s *MJPEGSource) NextFrame(ctx context.Context) (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.reader == nil {
		if err := s.connect(ctx); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrFrameUnavailable, err)
		}
	}

	// A stalled camera or a cancelled ctx closes the body, which unblocks the read.
	body := s.body
	timer := time.AfterFunc(constants.MJPEGReadTimeout, func() { body.Close() })
	defer timer.Stop()
	stop := context.AfterFunc(ctx, func() { body.Close() })
	defer stop()

	part, err := s.reader.NextPart()
	if err != nil {
		s.resetLocked()
		return nil, fmt.Errorf("%w: reading part: %w", ErrFrameUnavailable, err)
	}
	defer part.Close()

	data, err := readAllLimited(part)
	if err != nil {
		s.resetLocked()
		return nil, fmt.Errorf("%w: %w", ErrFrameUnavailable, err)
	}
	img, err := imaging.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFrameUnavailable, err)
	}
	return img, nil
}

func (s *MJPEGSource) resetLocked() {
	if s.body != nil {
		s.body.Close()
	}
	s.body = nil
	s.reader = nil
}

// Close releases the HTTP connection.
func (s *MJPEGSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
	return nil
}

// DirSource replays image files from a directory in name order at a fixed
// rate. Useful for kiosks without a live camera and for reproducible tests.
type DirSource struct {
	files    []string
	interval time.Duration
	loop     bool

	mu   sync.Mutex
	next int
	last time.Time
}

var imageExtensions = []string{".jpg", ".jpeg", ".png", ".bmp", ".gif"}

// OpenDir lists the images in dir. fps <= 0 disables pacing.
func OpenDir(dir string, fps int, loop bool) (*DirSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading frame directory: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if slices.Contains(imageExtensions, strings.ToLower(filepath.Ext(e.Name()))) {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no images found in %s", dir)
	}
	slices.Sort(files)

	var interval time.Duration
	if fps > 0 {
		interval = time.Second / time.Duration(fps)
	}
	return &DirSource{files: files, interval: interval, loop: loop}, nil
}

// Len returns the number of frames in one pass.
func (s *DirSource) Len() int {
	return len(s.files)
}

// NextFrame returns the next image, sleeping to keep the configured rate.
func (s *DirSource) NextFrame(ctx context.Context) (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.next >= len(s.files) {
		if !s.loop {
			return nil, ErrSourceExhausted
		}
		s.next = 0
	}

	if s.interval > 0 && !s.last.IsZero() {
		if wait := s.interval - time.Since(s.last); wait > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}
	}
	s.last = time.Now()

	path := s.files[s.next]
	s.next++

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFrameUnavailable, err)
	}
	img, err := imaging.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrFrameUnavailable, filepath.Base(path), err)
	}
	return img, nil
}

// Close is a no-op; files are read one at a time.
func (s *DirSource) Close() error {
	return nil
}
