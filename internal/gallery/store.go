// Package gallery holds the in-memory set of known identities. Readers get an
// immutable snapshot; loads build a new snapshot and publish it with a single
// atomic pointer swap.
package gallery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/embedding"
	"github.com/kozaktomas/face-attendance/internal/facematch"
	"github.com/kozaktomas/face-attendance/internal/imaging"
)

// ErrGalleryLoad is returned when the identity source cannot be read. The
// previous snapshot stays active.
var ErrGalleryLoad = errors.New("gallery load failed")

// ErrNoReferenceFace is returned for reference images without a detectable face.
var ErrNoReferenceFace = errors.New("no face found in reference image")

// ReferenceEmbedder computes embeddings for reference images of identities
// stored without a precomputed vector.
type ReferenceEmbedder interface {
	DetectFaces(ctx context.Context, imageData []byte) ([]embedding.Face, error)
	Embed(ctx context.Context, imageData []byte) ([]float32, error)
}

// Snapshot is an immutable, fully built gallery.
type Snapshot struct {
	Identities []facematch.Identity
	LoadedAt   time.Time
	Skipped    int    // identities left out because their embedding failed
	Version    uint64 // increases with every published snapshot
}

// Len returns the number of identities.
func (s *Snapshot) Len() int {
	return len(s.Identities)
}

// Match resolves an embedding against this snapshot.
func (s *Snapshot) Match(vec []float32, threshold float64) facematch.MatchResult {
	return facematch.Match(vec, s.Identities, threshold)
}

// Lookup finds an identity by id.
func (s *Snapshot) Lookup(id string) (*facematch.Identity, bool) {
	for i := range s.Identities {
		if s.Identities[i].ID == id {
			return &s.Identities[i], true
		}
	}
	return nil, false
}

// Store publishes gallery snapshots.
type Store struct {
	source   database.IdentityReader
	embedder ReferenceEmbedder
	imageDir string
	logger   *slog.Logger

	current  atomic.Pointer[Snapshot]
	reloadMu sync.Mutex
	version  uint64

	// OnLoad is called after every load attempt with the published size or the error.
	OnLoad func(size int, err error)
	// Progress is called after each identity row is processed during a load.
	Progress func(done, total int)
	// AuditThreshold enables the lookalike audit after every load when positive.
	AuditThreshold float64
}

// NewStore creates a store with an empty snapshot. embedder may be nil when
// every identity carries a precomputed embedding.
func NewStore(source database.IdentityReader, embedder ReferenceEmbedder, imageDir string, logger *slog.Logger) *Store {
	s := &Store{source: source, embedder: embedder, imageDir: imageDir, logger: logger}
	s.current.Store(&Snapshot{})
	return s
}

// Snapshot returns the active snapshot. Never nil.
func (s *Store) Snapshot() *Snapshot {
	return s.current.Load()
}

// Load reads all identities, embeds the ones without a vector and publishes
// the result. A failing identity is logged and skipped. Concurrent calls are
// serialized; readers are never blocked.
func (s *Store) Load(ctx context.Context) (*Snapshot, error) {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	rows, err := s.source.ListIdentities(ctx)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrGalleryLoad, err)
		s.logger.Error("identity source unavailable, keeping previous gallery", "error", err,
			"identities", s.Snapshot().Len())
		s.notify(0, err)
		return s.Snapshot(), err
	}

	identities := make([]facematch.Identity, 0, len(rows))
	skipped := 0
	for i, row := range rows {
		id, err := s.buildIdentity(ctx, row)
		if err != nil {
			skipped++
			s.logger.Warn("skipping identity", "id", row.ID, "name", row.DisplayName, "error", err)
		} else {
			identities = append(identities, id)
		}
		if s.Progress != nil {
			s.Progress(i+1, len(rows))
		}
	}

	s.version++
	snap := &Snapshot{
		Identities: identities,
		LoadedAt:   time.Now(),
		Skipped:    skipped,
		Version:    s.version,
	}
	s.current.Store(snap)

	s.logger.Info("gallery loaded", "identities", snap.Len(), "skipped", skipped, "version", snap.Version)
	if s.AuditThreshold > 0 {
		for _, p := range FindLookalikes(snap, s.AuditThreshold) {
			s.logger.Warn("ambiguous enrollment", "a", p.A.ID, "b", p.B.ID, "distance", p.Distance)
		}
	}
	s.notify(snap.Len(), nil)
	return snap, nil
}

// Reload is Load under the name used by external triggers (API, CLI).
func (s *Store) Reload(ctx context.Context) (*Snapshot, error) {
	return s.Load(ctx)
}

func (s *Store) notify(size int, err error) {
	if s.OnLoad != nil {
		s.OnLoad(size, err)
	}
}

func (s *Store) buildIdentity(ctx context.Context, row database.StoredIdentity) (facematch.Identity, error) {
	if row.Err != nil {
		return facematch.Identity{}, row.Err
	}
	vec := row.Embedding
	if len(vec) == 0 {
		var err error
		if vec, err = s.embedReference(ctx, row); err != nil {
			return facematch.Identity{}, err
		}
	}
	return facematch.Identity{
		ID:          row.ID,
		DisplayName: row.DisplayName,
		Embedding:   vec,
		ImageRef:    row.ImageRef,
	}, nil
}

// embedReference reads the identity's reference image and embeds it.
func (s *Store) embedReference(ctx context.Context, row database.StoredIdentity) ([]float32, error) {
	if s.embedder == nil {
		return nil, errors.New("no precomputed embedding and no embedder configured")
	}
	if row.ImageRef == "" {
		return nil, errors.New("no precomputed embedding and no reference image")
	}

	path := row.ImageRef
	if !filepath.IsAbs(path) && s.imageDir != "" {
		path = filepath.Join(s.imageDir, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading reference image: %w", err)
	}
	return EmbedReference(ctx, s.embedder, data)
}

// EmbedReference embeds the best scoring face of an encoded reference image.
func EmbedReference(ctx context.Context, embedder ReferenceEmbedder, data []byte) ([]float32, error) {
	faces, err := embedder.DetectFaces(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("detecting reference face: %w", err)
	}
	if len(faces) == 0 {
		return nil, ErrNoReferenceFace
	}
	best := faces[0]
	for _, f := range faces[1:] {
		if f.DetScore > best.DetScore {
			best = f
		}
	}

	img, err := imaging.Decode(data)
	if err != nil {
		return nil, err
	}
	crop, err := imaging.CropJPEG(img, facematch.RescaleBBox(best.BBox, 1, img.Bounds()))
	if err != nil {
		return nil, fmt.Errorf("cropping reference face: %w", err)
	}

	vec, err := embedder.Embed(ctx, crop)
	if err != nil {
		return nil, fmt.Errorf("embedding reference face: %w", err)
	}
	return vec, nil
}
