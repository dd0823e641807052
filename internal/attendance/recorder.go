// Package attendance turns repeated matches of the same person into at most
// one recorded event per cooldown window.
package attendance

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/facematch"
)

// ErrPersist is returned when the evidence or the event could not be stored.
// The cooldown entry is left untouched so the next sighting retries.
var ErrPersist = errors.New("attendance persist failed")

// Status is the outcome of a Record call.
type Status int

const (
	// Committed means a new event was stored.
	Committed Status = iota
	// Suppressed means the identity is still inside its cooldown window.
	Suppressed
)

func (s Status) String() string {
	if s == Committed {
		return "committed"
	}
	return "suppressed"
}

// Result describes a Record call.
type Result struct {
	Status   Status
	Event    *database.StoredEvent // set when committed
	Evidence []byte                // JPEG of the evidence snapshot, set when committed
	Last     time.Time             // previous commit time, zero if none
}

// Options configures a Recorder.
type Options struct {
	Cooldown       time.Duration
	EnableCooldown bool
	Clock          func() time.Time // defaults to time.Now
}

// Recorder owns the cooldown map. Check-and-set for one identity is atomic:
// concurrent Record calls for the same identity are serialized by a per-identity
// mutex, different identities proceed in parallel.
type Recorder struct {
	events   database.EventWriter
	history  database.EventReader // may be nil; disables first-of-day lookups and seeding
	evidence EvidenceWriter
	opts     Options
	logger   *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
	last  map[string]time.Time
}

// NewRecorder creates a recorder with an empty cooldown map.
func NewRecorder(events database.EventWriter, history database.EventReader, evidence EvidenceWriter, opts Options, logger *slog.Logger) *Recorder {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Recorder{
		events:   events,
		history:  history,
		evidence: evidence,
		opts:     opts,
		logger:   logger,
		locks:    make(map[string]*sync.Mutex),
		last:     make(map[string]time.Time),
	}
}

func (r *Recorder) lockFor(id string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[id]
	if !ok {
		l = &sync.Mutex{}
		r.locks[id] = l
	}
	return l
}

// LastRecorded returns the last commit time of an identity.
func (r *Recorder) LastRecorded(id string) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.last[id]
	return t, ok
}

// Entries returns a copy of the cooldown map.
func (r *Recorder) Entries() map[string]time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]time.Time, len(r.last))
	for k, v := range r.last {
		out[k] = v
	}
	return out
}

func (r *Recorder) setLast(id string, t time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.last[id] = t
}

// Record commits an event for a matched identity unless it is inside its
// cooldown window. On commit the evidence is written first, then the event is
// persisted, and only then is the cooldown entry moved to now.
func (r *Recorder) Record(ctx context.Context, match facematch.MatchResult, frame image.Image, kind string) (Result, error) {
	if !match.Matched() {
		return Result{}, errors.New("record called without a matched identity")
	}
	id := match.Identity.ID

	l := r.lockFor(id)
	l.Lock()
	defer l.Unlock()

	now := r.opts.Clock()
	last, seen := r.LastRecorded(id)
	if r.opts.EnableCooldown && seen && now.Sub(last) < r.opts.Cooldown {
		return Result{Status: Suppressed, Last: last}, nil
	}

	firstOfDay := r.isFirstOfDay(ctx, id, now)

	ref, data, err := r.evidence.Save(id, now, frame)
	if err != nil {
		r.logger.Error("evidence write failed, event not recorded", "id", id, "error", err)
		return Result{}, fmt.Errorf("%w: evidence: %w", ErrPersist, err)
	}

	event := &database.StoredEvent{
		ID:          uuid.NewString(),
		IdentityID:  id,
		DisplayName: match.Identity.DisplayName,
		Timestamp:   now,
		EvidenceRef: ref,
		Distance:    match.Distance,
		FirstOfDay:  firstOfDay,
		Kind:        kind,
		Remark:      fmt.Sprintf("distance %.4f", match.Distance),
	}
	if err := r.events.AppendEvent(ctx, event); err != nil {
		r.logger.Error("attendance store write failed, event lost", "id", id, "evidence", ref, "error", err)
		if rmErr := r.evidence.Remove(ref); rmErr != nil {
			r.logger.Warn("orphaned evidence left behind", "evidence", ref, "error", rmErr)
		}
		return Result{}, fmt.Errorf("%w: event: %w", ErrPersist, err)
	}

	r.setLast(id, now)
	r.logger.Info("attendance recorded", "id", id, "name", event.DisplayName,
		"distance", match.Distance, "first_of_day", firstOfDay, "evidence", ref)
	return Result{Status: Committed, Event: event, Evidence: data, Last: last}, nil
}

// IsFirstOfDay reports whether the identity has no persisted event since local
// midnight of now. It only reads history.
func (r *Recorder) IsFirstOfDay(ctx context.Context, id string, now time.Time) (bool, error) {
	if r.history == nil {
		return false, errors.New("no event history configured")
	}
	has, err := r.history.HasEventSince(ctx, id, database.StartOfDay(now))
	if err != nil {
		return false, fmt.Errorf("querying event history: %w", err)
	}
	return !has, nil
}

func (r *Recorder) isFirstOfDay(ctx context.Context, id string, now time.Time) bool {
	if r.history == nil {
		return false
	}
	first, err := r.IsFirstOfDay(ctx, id, now)
	if err != nil {
		r.logger.Warn("first-of-day lookup failed", "id", id, "error", err)
		return false
	}
	return first
}

// Seed applies the startup policy: SeedNone leaves the map empty, SeedToday
// loads the latest persisted event per identity since local midnight.
// Returns the number of seeded entries.
func (r *Recorder) Seed(ctx context.Context, policy string) (int, error) {
	switch policy {
	case config.SeedNone, "":
		r.logger.Info("cooldown state starts empty", "policy", config.SeedNone)
		return 0, nil
	case config.SeedToday:
	default:
		return 0, fmt.Errorf("unknown cooldown seed policy %q", policy)
	}

	if r.history == nil {
		return 0, errors.New("no event history configured")
	}
	latest, err := r.history.LatestEventTimes(ctx, database.StartOfDay(r.opts.Clock()))
	if err != nil {
		return 0, fmt.Errorf("loading today's events: %w", err)
	}

	r.mu.Lock()
	for id, t := range latest {
		if cur, ok := r.last[id]; !ok || t.After(cur) {
			r.last[id] = t
		}
	}
	r.mu.Unlock()

	r.logger.Info("cooldown state seeded from today's events", "policy", config.SeedToday, "identities", len(latest))
	return len(latest), nil
}
