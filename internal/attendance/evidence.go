package attendance

import (
	"errors"
	"fmt"
	"image"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kozaktomas/face-attendance/internal/facematch"
	"github.com/kozaktomas/face-attendance/internal/imaging"
)

// EvidenceWriter persists the snapshot attached to an attendance event.
type EvidenceWriter interface {
	// Save stores img and returns a reference to it plus the encoded bytes.
	Save(identityID string, at time.Time, img image.Image) (ref string, data []byte, err error)
	// Remove deletes a snapshot whose event was never persisted.
	Remove(ref string) error
}

// FileEvidence writes JPEG snapshots into a directory as <id>_<YYYYMMDD_HHMMSS>.jpg.
type FileEvidence struct {
	dir string
}

// NewFileEvidence creates the directory if needed.
func NewFileEvidence(dir string) (*FileEvidence, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating evidence directory: %w", err)
	}
	return &FileEvidence{dir: dir}, nil
}

// Remove deletes a file written by Save. Refs outside the evidence
// directory are refused.
func (e *FileEvidence) Remove(ref string) error {
	rel, err := filepath.Rel(e.dir, ref)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") || filepath.IsAbs(rel) {
		return fmt.Errorf("evidence ref %q is outside %s", ref, e.dir)
	}
	if err := os.Remove(ref); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing evidence file: %w", err)
	}
	return nil
}

// EvidenceName builds the deterministic file name for an identity and commit time.
func EvidenceName(identityID string, at time.Time) string {
	return facematch.SafeFileComponent(identityID) + "_" + at.Format("20060102_150405") + ".jpg"
}

// Save encodes img and writes it without overwriting an existing file; a
// second commit within the same second gets a numeric suffix.
func (e *FileEvidence) Save(identityID string, at time.Time, img image.Image) (string, []byte, error) {
	data, err := imaging.EncodeJPEG(img)
	if err != nil {
		return "", nil, err
	}

	name := EvidenceName(identityID, at)
	base := name[:len(name)-len(".jpg")]
	for i := 1; ; i++ {
		path := filepath.Join(e.dir, name)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) && i < 100 {
			name = fmt.Sprintf("%s_%d.jpg", base, i+1)
			continue
		}
		if err != nil {
			return "", nil, fmt.Errorf("creating evidence file: %w", err)
		}
		if _, err := f.Write(data); err != nil {
			f.Close()
			os.Remove(path)
			return "", nil, fmt.Errorf("writing evidence file: %w", err)
		}
		if err := f.Close(); err != nil {
			os.Remove(path)
			return "", nil, fmt.Errorf("closing evidence file: %w", err)
		}
		return path, data, nil
	}
}
