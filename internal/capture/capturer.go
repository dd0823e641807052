package capture

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/kozaktomas/face-attendance/internal/constants"
)

// Capturer is the only goroutine touching the video source. It writes every
// frame into the mailbox and releases the source when it stops.
type Capturer struct {
	source     Source
	mailbox    *Mailbox
	logger     *slog.Logger
	retryDelay time.Duration
	now        func() time.Time

	// OnFrame and OnError are optional hooks (metrics).
	OnFrame func()
	OnError func(error)

	seq uint64
}

// NewCapturer wires a source to a mailbox.
func NewCapturer(source Source, mailbox *Mailbox, logger *slog.Logger) *Capturer {
	return &Capturer{
		source:     source,
		mailbox:    mailbox,
		logger:     logger,
		retryDelay: constants.CaptureRetryDelay,
		now:        time.Now,
	}
}

// Run reads frames until ctx is cancelled or a finite source is exhausted.
// Read failures are logged and retried after a short delay; they never stop the loop.
func (c *Capturer) Run(ctx context.Context) error {
	defer func() {
		if err := c.source.Close(); err != nil {
			c.logger.Warn("closing video source", "error", err)
		}
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}

		img, err := c.source.NextFrame(ctx)
		switch {
		case err == nil:
		case errors.Is(err, ErrSourceExhausted):
			c.logger.Info("video source exhausted", "frames", c.seq)
			return nil
		case ctx.Err() != nil:
			return nil
		default:
			c.logger.Debug("frame read failed", "error", err)
			if c.OnError != nil {
				c.OnError(err)
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.retryDelay):
			}
			continue
		}

		c.seq++
		c.mailbox.Put(&Frame{Seq: c.seq, Image: img, CapturedAt: c.now()})
		if c.OnFrame != nil {
			c.OnFrame()
		}
	}
}
