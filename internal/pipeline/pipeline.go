package pipeline

import (
	"context"
	"image"
	"log/slog"
	"time"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/capture"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/facematch"
	"github.com/kozaktomas/face-attendance/internal/gallery"
	"github.com/kozaktomas/face-attendance/internal/imaging"
	"github.com/kozaktomas/face-attendance/internal/liveness"
	"github.com/kozaktomas/face-attendance/internal/metrics"
)

// GalleryReader exposes the active gallery snapshot.
type GalleryReader interface {
	Snapshot() *gallery.Snapshot
}

// Recorder decides record-or-suppress for a match.
type Recorder interface {
	Record(ctx context.Context, match facematch.MatchResult, frame image.Image, kind string) (attendance.Result, error)
}

// Notifier is handed every committed event.
type Notifier interface {
	Notify(event *database.StoredEvent, evidence []byte)
}

// Options are the recognition settings the loop consumes.
type Options struct {
	Threshold          float64
	ProcessInterval    int
	ResizeFactor       float64
	PollInterval       time.Duration
	EnableLiveness     bool
	EnableNotification bool
}

// Deps are the collaborators of a Pipeline. Eyes and Gate are only used with
// liveness enabled; Notifier only with notifications enabled. Metrics may be nil.
type Deps struct {
	Mailbox  *capture.Mailbox
	Gallery  GalleryReader
	Detector Detector
	Embedder Embedder
	Eyes     EyeDetector
	Gate     *liveness.Gate
	Recorder Recorder
	Notifier Notifier
	Board    *ResultBoard
	Metrics  *metrics.Manager
}

// Pipeline is the single consumer of the frame mailbox.
type Pipeline struct {
	deps    Deps
	opts    Options
	stage   *DetectionStage
	sampler *Sampler
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a pipeline. A missing Board gets a fresh one.
func New(deps Deps, opts Options, logger *slog.Logger) *Pipeline {
	if deps.Board == nil {
		deps.Board = NewResultBoard()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 100 * time.Millisecond
	}
	if opts.EnableLiveness && deps.Gate == nil {
		deps.Gate = liveness.NewGate(liveness.DefaultTimeout)
	}
	return &Pipeline{
		deps:    deps,
		opts:    opts,
		stage:   NewDetectionStage(deps.Detector, deps.Embedder),
		sampler: NewSampler(opts.ProcessInterval, opts.ResizeFactor),
		logger:  logger,
		now:     time.Now,
	}
}

// Board returns the result board the pipeline publishes to.
func (p *Pipeline) Board() *ResultBoard {
	return p.deps.Board
}

// Run polls the mailbox until ctx is cancelled. Nothing that happens to a
// single frame or face stops the loop.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("inference loop started",
		"process_interval", p.opts.ProcessInterval,
		"resize_factor", p.sampler.Factor(),
		"liveness", p.opts.EnableLiveness,
		"notification", p.opts.EnableNotification)

	timer := time.NewTimer(p.opts.PollInterval)
	defer timer.Stop()

	for {
		if ctx.Err() != nil {
			p.logger.Info("inference loop stopped", "frames", p.sampler.Counter())
			return nil
		}

		frame := p.deps.Mailbox.Take()
		if frame == nil {
			timer.Reset(p.opts.PollInterval)
			select {
			case <-ctx.Done():
			case <-timer.C:
			}
			continue
		}
		p.ProcessFrame(ctx, frame)
	}
}

// ProcessFrame runs one polled frame through the stages. Liveness observes
// every frame; detection and matching only run on sampled frames. It returns
// the cycle result and true when the frame was sampled.
func (p *Pipeline) ProcessFrame(ctx context.Context, frame *capture.Frame) (CycleResult, bool) {
	counter, sampled := p.sampler.Tick()

	var small image.Image
	if p.opts.EnableLiveness || sampled {
		small = p.sampler.Shrink(frame.Image)
	}
	if p.opts.EnableLiveness {
		p.observeEyes(ctx, small)
	}
	if !sampled {
		return CycleResult{}, false
	}

	start := time.Now()
	result := p.analyze(ctx, frame.Image, small, p.sampler.Factor(), database.EventKindScan, p.opts.EnableLiveness)
	result.Seq = frame.Seq
	p.deps.Board.Publish(result)
	p.deps.Metrics.CycleDone(time.Since(start))

	p.logger.Debug("cycle done", "frame", frame.Seq, "counter", counter, "faces", len(result.Faces),
		"took", time.Since(start))
	return result, true
}

// Scan runs detection, matching and recording on a single uploaded image.
// It bypasses the sampler and the liveness gate and does not touch the board.
func (p *Pipeline) Scan(ctx context.Context, img image.Image) CycleResult {
	return p.analyze(ctx, img, img, 1, database.EventKindUpload, false)
}

func (p *Pipeline) observeEyes(ctx context.Context, small image.Image) {
	if p.deps.Eyes == nil {
		return
	}
	data, err := imaging.EncodeJPEG(small)
	if err != nil {
		p.logger.Debug("encoding frame for eye check", "error", err)
		return
	}
	open, err := p.deps.Eyes.EyesOpen(ctx, data)
	if err != nil {
		// No observation this frame; the gate timeout still applies.
		p.logger.Debug("eye state unavailable", "error", err)
		return
	}
	state := p.deps.Gate.Observe(open, p.now())
	p.deps.Metrics.Liveness(state == liveness.Blinked)
}

func (p *Pipeline) analyze(ctx context.Context, full, small image.Image, factor float64, kind string, gated bool) CycleResult {
	now := p.now()
	result := CycleResult{ProcessedAt: now, Faces: []FaceResult{}}
	allowed := true
	if gated {
		allowed = p.deps.Gate.Allow(now)
		result.Liveness = p.deps.Gate.State().String()
	}

	detections, err := p.stage.Detect(ctx, full, small, factor)
	if err != nil {
		p.logger.Warn("detection failed, skipping cycle", "error", err)
		p.deps.Metrics.Error(Kind(err))
		result.Error = err.Error()
		return result
	}

	snap := p.deps.Gallery.Snapshot()
	for _, det := range detections {
		face := p.resolve(ctx, det, snap, full, kind, allowed)
		p.deps.Metrics.Face(string(face.Status))
		result.Faces = append(result.Faces, face)
	}
	return result
}

func (p *Pipeline) resolve(ctx context.Context, det Detection, snap *gallery.Snapshot, full image.Image, kind string, allowed bool) FaceResult {
	face := FaceResult{Box: boxOf(det.Box)}

	if det.Err != nil {
		p.logger.Warn("face skipped", "box", det.Box, "error", det.Err)
		p.deps.Metrics.Error(Kind(det.Err))
		face.Status, face.Label, face.Error = StatusError, "Error", det.Err.Error()
		return face
	}

	match := snap.Match(det.Embedding, p.opts.Threshold)
	face.Distance = match.Distance
	if !match.Matched() {
		face.Status, face.Label = StatusUnknown, "Unknown"
		return face
	}
	face.IdentityID, face.Label = match.Identity.ID, match.Identity.DisplayName

	if !allowed {
		face.Status = StatusLivenessFail
		return face
	}

	res, err := p.deps.Recorder.Record(ctx, match, full, kind)
	if err != nil {
		p.deps.Metrics.Error(Kind(err))
		face.Status, face.Error = StatusError, err.Error()
		return face
	}
	if res.Status == attendance.Suppressed {
		face.Status = StatusChecked
		return face
	}

	face.Status, face.EventID = StatusOK, res.Event.ID
	p.deps.Metrics.EventCommitted()
	if p.opts.EnableNotification && p.deps.Notifier != nil {
		p.deps.Notifier.Notify(res.Event, res.Evidence)
	}
	return face
}
