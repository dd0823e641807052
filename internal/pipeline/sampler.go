package pipeline

import (
	"image"

	"github.com/kozaktomas/face-attendance/internal/imaging"
)

// ShouldProcess reports whether frame number counter (starting at 1) is one of
// every interval frames. An interval below 1 processes every frame.
func ShouldProcess(counter uint64, interval int) bool {
	if interval <= 1 {
		return true
	}
	return counter%uint64(interval) == 0
}

// Sampler counts polled frames and decides which of them go to detection.
// It is owned by the inference goroutine and not safe for concurrent use.
type Sampler struct {
	interval int
	factor   float64
	counter  uint64
}

// NewSampler creates a sampler for every interval-th frame with shrink factor
// factor in (0, 1]; out of range factors fall back to 1.
func NewSampler(interval int, factor float64) *Sampler {
	if factor <= 0 || factor > 1 {
		factor = 1
	}
	return &Sampler{interval: max(interval, 1), factor: factor}
}

// Tick advances the frame counter and reports whether this frame is sampled.
func (s *Sampler) Tick() (uint64, bool) {
	s.counter++
	return s.counter, ShouldProcess(s.counter, s.interval)
}

// Counter returns the number of frames seen.
func (s *Sampler) Counter() uint64 {
	return s.counter
}

// Factor returns the shrink factor.
func (s *Sampler) Factor() float64 {
	return s.factor
}

// Shrink returns img reduced by the sampler's factor.
func (s *Sampler) Shrink(img image.Image) image.Image {
	return imaging.Shrink(img, s.factor)
}
