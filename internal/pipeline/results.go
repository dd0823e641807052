package pipeline

import (
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kozaktomas/face-attendance/internal/constants"
)

// FaceStatus is the per-face outcome shown to the rendering consumer.
type FaceStatus string

const (
	StatusOK           FaceStatus = "OK"           // new attendance event committed
	StatusChecked      FaceStatus = "Checked"      // recognized inside the cooldown window
	StatusUnknown      FaceStatus = "Unknown"      // no identity closer than the threshold
	StatusError        FaceStatus = "Error"        // embedding or persistence failed for this face
	StatusLivenessFail FaceStatus = "LivenessFail" // recognized but no blink confirmed
)

// FaceResult is one labelled box of a cycle.
type FaceResult struct {
	Box        [4]int     `json:"bbox"` // x1, y1, x2, y2 in full-resolution pixels
	Label      string     `json:"label"`
	Status     FaceStatus `json:"status"`
	IdentityID string     `json:"identity_id,omitempty"`
	Distance   float64    `json:"distance"`
	EventID    string     `json:"event_id,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// Rect returns Box as an image.Rectangle.
func (f FaceResult) Rect() image.Rectangle {
	return image.Rect(f.Box[0], f.Box[1], f.Box[2], f.Box[3])
}

func boxOf(r image.Rectangle) [4]int {
	return [4]int{r.Min.X, r.Min.Y, r.Max.X, r.Max.Y}
}

// CycleResult is everything one detection cycle produced.
type CycleResult struct {
	Seq         uint64       `json:"seq"`
	ProcessedAt time.Time    `json:"processed_at"`
	Faces       []FaceResult `json:"faces"`
	Liveness    string       `json:"liveness,omitempty"`
	Error       string       `json:"error,omitempty"`
}

// ResultBoard keeps the most recent cycle for the rendering consumer and fans
// new cycles out to subscribers. Publishing never blocks: a subscriber whose
// buffer is full misses that cycle.
type ResultBoard struct {
	latest atomic.Pointer[CycleResult]

	mu          sync.RWMutex
	subscribers []chan CycleResult
}

func NewResultBoard() *ResultBoard {
	return &ResultBoard{}
}

// Latest returns the most recent cycle, or nil before the first one.
func (b *ResultBoard) Latest() *CycleResult {
	return b.latest.Load()
}

// Publish replaces the latest cycle and notifies subscribers.
func (b *ResultBoard) Publish(r CycleResult) {
	b.latest.Store(&r)

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- r:
		default:
		}
	}
}

// Subscribe adds a listener.
func (b *ResultBoard) Subscribe() chan CycleResult {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan CycleResult, constants.EventChannelBuffer)
	b.subscribers = append(b.subscribers, ch)
	return ch
}

// Unsubscribe removes and closes a listener.
func (b *ResultBoard) Unsubscribe(ch chan CycleResult) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.subscribers {
		if sub == ch {
			b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
			close(ch)
			return
		}
	}
}

// Subscribers returns the number of listeners.
func (b *ResultBoard) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
