package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/capture"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/database/mock"
	"github.com/kozaktomas/face-attendance/internal/embedding"
	"github.com/kozaktomas/face-attendance/internal/gallery"
	"github.com/kozaktomas/face-attendance/internal/liveness"
	"github.com/kozaktomas/face-attendance/internal/logging"
	"github.com/kozaktomas/face-attendance/internal/metrics"
	"github.com/kozaktomas/face-attendance/internal/notify"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var (
	vecAlice = []float32{1, 0, 0}
	vecOrtho = []float32{0, 1, 0}
)

type fakeDetector struct {
	mu    sync.Mutex
	faces []embedding.Face
	err   error
	calls int
}

func (d *fakeDetector) DetectFaces(ctx context.Context, data []byte) ([]embedding.Face, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	return d.faces, d.err
}

func (d *fakeDetector) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

type fakeEmbedder struct {
	mu    sync.Mutex
	fn    func(call int) ([]float32, error)
	calls int
}

func (e *fakeEmbedder) Embed(ctx context.Context, data []byte) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	call := e.calls
	e.calls++
	return e.fn(call)
}

func always(vec []float32) *fakeEmbedder {
	return &fakeEmbedder{fn: func(int) ([]float32, error) { return vec, nil }}
}

type fakeEyes struct {
	samples []bool
	err     error
	i       int
}

func (e *fakeEyes) EyesOpen(ctx context.Context, data []byte) (bool, error) {
	if e.err != nil {
		return false, e.err
	}
	if e.i >= len(e.samples) {
		return true, nil
	}
	v := e.samples[e.i]
	e.i++
	return v, nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []*database.StoredEvent
}

func (n *fakeNotifier) Notify(event *database.StoredEvent, evidence []byte) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	p        *Pipeline
	store    *mock.MockStore
	detector *fakeDetector
	clock    *testClock
	notifier *fakeNotifier
	mailbox  *capture.Mailbox
	recorder *attendance.Recorder
}

// oneFace is a box on the half-size frame; it maps to (20,20)-(60,60) on the full frame.
var oneFace = []embedding.Face{{BBox: []float64{10, 10, 30, 30}, DetScore: 0.99}}

func newHarness(t *testing.T, identities []database.StoredIdentity, emb *fakeEmbedder, opts Options, deps Deps) *harness {
	t.Helper()
	ctx := context.Background()

	store := mock.NewMockStore()
	store.SetIdentities(identities)
	g := gallery.NewStore(store, nil, "", logging.Discard())
	if _, err := g.Load(ctx); err != nil {
		t.Fatalf("gallery load: %v", err)
	}

	evidence, err := attendance.NewFileEvidence(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	clock := &testClock{now: time.Date(2026, 5, 4, 8, 0, 0, 0, time.Local)}
	rec := attendance.NewRecorder(store, store, evidence, attendance.Options{
		Cooldown:       time.Hour,
		EnableCooldown: true,
		Clock:          clock.Now,
	}, logging.Discard())

	detector := &fakeDetector{faces: oneFace}
	notifier := &fakeNotifier{}
	mailbox := capture.NewMailbox(nil)

	if opts.Threshold == 0 {
		opts.Threshold = 0.30
	}
	if opts.ProcessInterval == 0 {
		opts.ProcessInterval = 1
	}
	if opts.ResizeFactor == 0 {
		opts.ResizeFactor = 0.5
	}
	deps.Mailbox = mailbox
	deps.Gallery = g
	deps.Detector = detector
	deps.Embedder = emb
	deps.Recorder = rec
	deps.Notifier = notifier
	deps.Metrics = metrics.NewManager()

	p := New(deps, opts, logging.Discard())
	p.now = clock.Now
	return &harness{p: p, store: store, detector: detector, clock: clock, notifier: notifier, mailbox: mailbox, recorder: rec}
}

var aliceRow = database.StoredIdentity{ID: "alice", DisplayName: "Alice", Embedding: vecAlice}

func newFrame(seq uint64) *capture.Frame {
	return &capture.Frame{Seq: seq, Image: image.NewRGBA(image.Rect(0, 0, 200, 100)), CapturedAt: time.Now()}
}

func (h *harness) process(t *testing.T, seq uint64) CycleResult {
	t.Helper()
	res, sampled := h.p.ProcessFrame(context.Background(), newFrame(seq))
	if !sampled {
		t.Fatalf("frame %d was not sampled", seq)
	}
	return res
}

func singleFace(t *testing.T, res CycleResult) FaceResult {
	t.Helper()
	if len(res.Faces) != 1 {
		t.Fatalf("faces = %d, want 1 (error %q)", len(res.Faces), res.Error)
	}
	return res.Faces[0]
}

func TestShouldProcess(t *testing.T) {
	tests := []struct {
		counter  uint64
		interval int
		want     bool
	}{
		{1, 1, true},
		{1, 5, false},
		{4, 5, false},
		{5, 5, true},
		{10, 5, true},
		{11, 5, false},
		{3, 0, true},
	}
	for _, tt := range tests {
		if got := ShouldProcess(tt.counter, tt.interval); got != tt.want {
			t.Errorf("ShouldProcess(%d, %d) = %v, want %v", tt.counter, tt.interval, got, tt.want)
		}
	}
}

func TestSampler_TwelveFramesIntervalFive(t *testing.T) {
	s := NewSampler(5, 0.5)
	var sampled []uint64
	for range 12 {
		if n, ok := s.Tick(); ok {
			sampled = append(sampled, n)
		}
	}
	if fmt.Sprint(sampled) != "[5 10]" {
		t.Errorf("sampled frames = %v, want [5 10]", sampled)
	}
	if s.Factor() != 0.5 {
		t.Errorf("Factor() = %v", s.Factor())
	}
	if NewSampler(1, 1.5).Factor() != 1 {
		t.Error("out of range factor should fall back to 1")
	}
}

func TestPipeline_TwelveFramesTriggerTwoCycles(t *testing.T) {
	h := newHarness(t, []database.StoredIdentity{aliceRow}, always(vecAlice), Options{ProcessInterval: 5}, Deps{})

	cycles := 0
	for i := range 12 {
		if _, sampled := h.p.ProcessFrame(context.Background(), newFrame(uint64(i+1))); sampled {
			cycles++
		}
	}
	if cycles != 2 || h.detector.Calls() != 2 {
		t.Errorf("cycles = %d, detector calls = %d, want 2 and 2", cycles, h.detector.Calls())
	}
	if latest := h.p.Board().Latest(); latest == nil || latest.Seq != 10 {
		t.Errorf("latest cycle = %+v, want seq 10", latest)
	}
}

func TestPipeline_ScenarioA_FirstCommit(t *testing.T) {
	h := newHarness(t, []database.StoredIdentity{aliceRow}, always(vecAlice), Options{}, Deps{})

	face := singleFace(t, h.process(t, 1))
	if face.Status != StatusOK || face.IdentityID != "alice" || face.Label != "Alice" {
		t.Errorf("face = %+v, want OK for alice", face)
	}
	if face.Distance != 0 {
		t.Errorf("distance = %v, want 0", face.Distance)
	}
	if face.Box != [4]int{20, 20, 60, 60} {
		t.Errorf("box = %v, want rescaled [20 20 60 60]", face.Box)
	}
	if n := len(h.store.Events()); n != 1 {
		t.Errorf("events = %d, want 1", n)
	}
	if _, ok := h.recorder.LastRecorded("alice"); !ok {
		t.Error("cooldown entry not set")
	}
}

func TestPipeline_ScenarioB_CooldownThenRecommit(t *testing.T) {
	h := newHarness(t, []database.StoredIdentity{aliceRow}, always(vecAlice), Options{}, Deps{})

	h.process(t, 1)
	h.clock.Advance(10 * time.Second)
	if face := singleFace(t, h.process(t, 2)); face.Status != StatusChecked {
		t.Errorf("status after 10s = %v, want Checked", face.Status)
	}
	if n := len(h.store.Events()); n != 1 {
		t.Errorf("events = %d, want 1", n)
	}

	h.clock.Advance(time.Hour)
	if face := singleFace(t, h.process(t, 3)); face.Status != StatusOK {
		t.Errorf("status after the window = %v, want OK", face.Status)
	}
	if n := len(h.store.Events()); n != 2 {
		t.Errorf("events = %d, want 2", n)
	}
}

func TestPipeline_ScenarioC_Orthogonal(t *testing.T) {
	h := newHarness(t, []database.StoredIdentity{aliceRow}, always(vecOrtho), Options{}, Deps{})

	face := singleFace(t, h.process(t, 1))
	if face.Status != StatusUnknown || face.Distance != 1 {
		t.Errorf("face = %+v, want Unknown at distance 1", face)
	}
	if len(h.store.Events()) != 0 {
		t.Error("unknown face produced an event")
	}
}

func TestPipeline_ScenarioD_EmptyGallery(t *testing.T) {
	h := newHarness(t, nil, always(vecAlice), Options{}, Deps{})

	for i := range 3 {
		if face := singleFace(t, h.process(t, uint64(i+1))); face.Status != StatusUnknown {
			t.Errorf("status = %v, want Unknown", face.Status)
		}
	}
}

func TestPipeline_PerFaceErrorIsolation(t *testing.T) {
	emb := &fakeEmbedder{fn: func(call int) ([]float32, error) {
		if call == 0 {
			return nil, errors.New("embedding server 500")
		}
		return vecAlice, nil
	}}
	h := newHarness(t, []database.StoredIdentity{aliceRow}, emb, Options{}, Deps{})
	h.detector.faces = []embedding.Face{
		{BBox: []float64{0, 0, 20, 20}, DetScore: 0.9},
		{BBox: []float64{50, 10, 80, 40}, DetScore: 0.9},
	}

	res := h.process(t, 1)
	if len(res.Faces) != 2 {
		t.Fatalf("faces = %d, want 2", len(res.Faces))
	}
	if res.Faces[0].Status != StatusError || res.Faces[0].Error == "" {
		t.Errorf("first face = %+v, want Error", res.Faces[0])
	}
	if res.Faces[1].Status != StatusOK {
		t.Errorf("second face = %+v, want OK", res.Faces[1])
	}
}

func TestPipeline_DuplicateBoxesCollapsed(t *testing.T) {
	h := newHarness(t, []database.StoredIdentity{aliceRow}, always(vecAlice), Options{}, Deps{})
	h.detector.faces = []embedding.Face{
		{BBox: []float64{10, 10, 30, 30}, DetScore: 0.8},
		{BBox: []float64{11, 10, 31, 30}, DetScore: 0.95},
	}
	face := singleFace(t, h.process(t, 1))
	if face.Box != [4]int{22, 20, 62, 60} {
		t.Errorf("kept box = %v, want the higher scoring one", face.Box)
	}
}

func TestPipeline_DetectionFailureIsBenign(t *testing.T) {
	h := newHarness(t, []database.StoredIdentity{aliceRow}, always(vecAlice), Options{}, Deps{})
	h.detector.err = errors.New("connection refused")

	res := h.process(t, 1)
	if len(res.Faces) != 0 || res.Error == "" {
		t.Errorf("result = %+v, want no faces and an error", res)
	}

	h.detector.err = nil
	if face := singleFace(t, h.process(t, 2)); face.Status != StatusOK {
		t.Errorf("next cycle status = %v, want OK", face.Status)
	}
}

func TestPipeline_ZeroFaces(t *testing.T) {
	h := newHarness(t, []database.StoredIdentity{aliceRow}, always(vecAlice), Options{}, Deps{})
	h.detector.faces = nil

	res := h.process(t, 1)
	if len(res.Faces) != 0 || res.Error != "" {
		t.Errorf("result = %+v, want empty", res)
	}
}

func TestPipeline_PersistFailure(t *testing.T) {
	h := newHarness(t, []database.StoredIdentity{aliceRow}, always(vecAlice), Options{}, Deps{})
	h.store.AppendError = errors.New("db down")

	face := singleFace(t, h.process(t, 1))
	if face.Status != StatusError {
		t.Errorf("status = %v, want Error", face.Status)
	}
	if _, ok := h.recorder.LastRecorded("alice"); ok {
		t.Error("cooldown entry set after persist failure")
	}

	h.store.AppendError = nil
	if face := singleFace(t, h.process(t, 2)); face.Status != StatusOK {
		t.Errorf("retry status = %v, want OK", face.Status)
	}
}

func TestPipeline_Liveness(t *testing.T) {
	eyes := &fakeEyes{samples: []bool{false, false, true}}
	h := newHarness(t, []database.StoredIdentity{aliceRow}, always(vecAlice),
		Options{EnableLiveness: true},
		Deps{Eyes: eyes, Gate: liveness.NewGate(3 * time.Second)})

	for i := range 2 {
		face := singleFace(t, h.process(t, uint64(i+1)))
		if face.Status != StatusLivenessFail {
			t.Fatalf("frame %d status = %v, want LivenessFail", i+1, face.Status)
		}
	}
	if len(h.store.Events()) != 0 {
		t.Fatal("event recorded before a blink")
	}

	res := h.process(t, 3)
	if face := singleFace(t, res); face.Status != StatusOK {
		t.Fatalf("status after blink = %v, want OK", face.Status)
	}
	if res.Liveness != "BLINKED" {
		t.Errorf("liveness = %q, want BLINKED", res.Liveness)
	}

	// No further observations: the blink expires and matches are withheld again.
	eyes.err = errors.New("no eyes found")
	h.clock.Advance(2 * time.Hour)
	if face := singleFace(t, h.process(t, 4)); face.Status != StatusLivenessFail {
		t.Errorf("status after timeout = %v, want LivenessFail", face.Status)
	}
	if n := len(h.store.Events()); n != 1 {
		t.Errorf("events = %d, want 1", n)
	}
}

func TestPipeline_LivenessObservesUnsampledFrames(t *testing.T) {
	eyes := &fakeEyes{samples: []bool{false, false, true, true, true}}
	h := newHarness(t, []database.StoredIdentity{aliceRow}, always(vecAlice),
		Options{EnableLiveness: true, ProcessInterval: 5},
		Deps{Eyes: eyes, Gate: liveness.NewGate(3 * time.Second)})

	var last CycleResult
	for i := range 5 {
		if res, ok := h.p.ProcessFrame(context.Background(), newFrame(uint64(i+1))); ok {
			last = res
		}
	}
	if eyes.i != 5 {
		t.Errorf("eye checks = %d, want one per frame", eyes.i)
	}
	if face := singleFace(t, last); face.Status != StatusOK {
		t.Errorf("status = %v, want OK after a blink on unsampled frames", face.Status)
	}
}

func TestPipeline_Notification(t *testing.T) {
	h := newHarness(t, []database.StoredIdentity{aliceRow}, always(vecAlice), Options{EnableNotification: true}, Deps{})

	h.process(t, 1)
	h.clock.Advance(time.Second)
	h.process(t, 2)

	h.notifier.mu.Lock()
	defer h.notifier.mu.Unlock()
	if len(h.notifier.events) != 1 {
		t.Fatalf("notifications = %d, want 1", len(h.notifier.events))
	}
	if h.notifier.events[0].IdentityID != "alice" {
		t.Errorf("notified identity = %q", h.notifier.events[0].IdentityID)
	}
}

func TestPipeline_NotificationDisabled(t *testing.T) {
	h := newHarness(t, []database.StoredIdentity{aliceRow}, always(vecAlice), Options{}, Deps{})
	h.process(t, 1)
	if len(h.notifier.events) != 0 {
		t.Error("notified with notifications disabled")
	}
}

func TestPipeline_Scan(t *testing.T) {
	h := newHarness(t, []database.StoredIdentity{aliceRow}, always(vecAlice), Options{EnableLiveness: true}, Deps{Eyes: &fakeEyes{}})
	h.detector.faces = []embedding.Face{{BBox: []float64{20, 20, 60, 60}, DetScore: 0.9}}

	res := h.p.Scan(context.Background(), image.NewRGBA(image.Rect(0, 0, 200, 100)))
	face := singleFace(t, res)
	if face.Status != StatusOK || face.Box != [4]int{20, 20, 60, 60} {
		t.Errorf("face = %+v, want OK at unscaled box", face)
	}
	events := h.store.Events()
	if len(events) != 1 || events[0].Kind != database.EventKindUpload {
		t.Errorf("events = %+v, want one UPLOAD event", events)
	}
	if h.p.Board().Latest() != nil {
		t.Error("Scan published to the result board")
	}
}

func TestPipeline_RunStopsOnCancel(t *testing.T) {
	h := newHarness(t, []database.StoredIdentity{aliceRow}, always(vecAlice), Options{PollInterval: 5 * time.Millisecond}, Deps{})
	sub := h.p.Board().Subscribe()
	defer h.p.Board().Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.p.Run(ctx) }()

	h.mailbox.Put(newFrame(7))
	select {
	case res := <-sub:
		if res.Seq != 7 {
			t.Errorf("seq = %d, want 7", res.Seq)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no cycle published")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{fmt.Errorf("read: %w", capture.ErrFrameUnavailable), KindFrameUnavailable},
		{fmt.Errorf("%w: timeout", ErrDetection), KindDetectionFailure},
		{fmt.Errorf("%w: 500", ErrEmbedding), KindEmbeddingFailure},
		{embedding.ErrEmptyEmbedding, KindEmbeddingFailure},
		{fmt.Errorf("%w: db", gallery.ErrGalleryLoad), KindGalleryLoadFailure},
		{fmt.Errorf("%w: disk", attendance.ErrPersist), KindPersistFailure},
		{fmt.Errorf("%w: telegram", notify.ErrNotification), KindNotificationFailure},
		{errors.New("other"), KindOther},
	}
	for _, tt := range tests {
		if got := Kind(tt.err); got != tt.want {
			t.Errorf("Kind(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestResultBoard(t *testing.T) {
	b := NewResultBoard()
	if b.Latest() != nil {
		t.Fatal("Latest() before publish should be nil")
	}

	slow := b.Subscribe()
	fast := b.Subscribe()
	if b.Subscribers() != 2 {
		t.Fatalf("Subscribers() = %d", b.Subscribers())
	}

	// Overflowing a subscriber must not block Publish.
	for i := range cap(slow) + 10 {
		b.Publish(CycleResult{Seq: uint64(i)})
	}
	if got := b.Latest().Seq; got != uint64(cap(slow)+9) {
		t.Errorf("Latest().Seq = %d", got)
	}
	if first := <-fast; first.Seq != 0 {
		t.Errorf("first received = %d, want 0", first.Seq)
	}

	b.Unsubscribe(slow)
	b.Unsubscribe(fast)
	if _, ok := <-fast; ok {
		// Drain what is left; the channel must end closed.
		for range fast {
		}
	}
	if b.Subscribers() != 0 {
		t.Errorf("Subscribers() = %d after unsubscribe", b.Subscribers())
	}
}

func TestFaceResultRect(t *testing.T) {
	f := FaceResult{Box: boxOf(image.Rect(1, 2, 3, 4))}
	if f.Rect() != image.Rect(1, 2, 3, 4) {
		t.Errorf("Rect() = %v", f.Rect())
	}
}
