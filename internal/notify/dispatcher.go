// Package notify delivers best-effort alerts for committed attendance events.
// Delivery runs off the inference loop; failures are logged and dropped.
package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/metrics"
)

// ErrNotification wraps every sink failure.
var ErrNotification = errors.New("notification failed")

// DefaultTimeout bounds one sink call when no timeout is configured.
const DefaultTimeout = 15 * time.Second

// Sink is one external alert channel.
type Sink interface {
	Name() string
	Send(ctx context.Context, event *database.StoredEvent, evidence []byte) error
}

// Options configures a Dispatcher.
type Options struct {
	Timeout   time.Duration
	FirstOnly bool // only notify the first event of the day per identity
}

// Dispatcher fans an event out to every sink in its own goroutine.
type Dispatcher struct {
	sinks   []Sink
	opts    Options
	metrics *metrics.Manager
	logger  *slog.Logger

	wg sync.WaitGroup
}

// NewDispatcher creates a dispatcher. metrics may be nil.
func NewDispatcher(sinks []Sink, opts Options, m *metrics.Manager, logger *slog.Logger) *Dispatcher {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Dispatcher{sinks: sinks, opts: opts, metrics: m, logger: logger}
}

// Sinks returns the names of the configured sinks.
func (d *Dispatcher) Sinks() []string {
	names := make([]string, 0, len(d.sinks))
	for _, s := range d.sinks {
		names = append(names, s.Name())
	}
	return names
}

// Notify returns immediately. Each sink runs detached with its own timeout
// and is not bound to the caller's context.
func (d *Dispatcher) Notify(event *database.StoredEvent, evidence []byte) {
	if event == nil || len(d.sinks) == 0 {
		return
	}
	if d.opts.FirstOnly && !event.FirstOfDay {
		d.logger.Debug("notification skipped, not first of day", "id", event.IdentityID)
		return
	}

	for _, sink := range d.sinks {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), d.opts.Timeout)
			defer cancel()
			_ = d.deliver(ctx, sink, event, evidence)
		}()
	}
}

// SendAll delivers synchronously to every sink and joins the failures.
func (d *Dispatcher) SendAll(ctx context.Context, event *database.StoredEvent, evidence []byte) error {
	var errs []error
	for _, sink := range d.sinks {
		sctx, cancel := context.WithTimeout(ctx, d.opts.Timeout)
		if err := d.deliver(sctx, sink, event, evidence); err != nil {
			errs = append(errs, err)
		}
		cancel()
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) deliver(ctx context.Context, sink Sink, event *database.StoredEvent, evidence []byte) error {
	start := time.Now()
	err := sink.Send(ctx, event, evidence)
	d.metrics.Notification(sink.Name(), err)
	if err != nil {
		err = fmt.Errorf("%w: %s: %w", ErrNotification, sink.Name(), err)
		d.logger.Warn("notification dropped", "sink", sink.Name(), "id", event.IdentityID, "error", err)
		return err
	}
	d.logger.Debug("notification sent", "sink", sink.Name(), "id", event.IdentityID, "took", time.Since(start))
	return nil
}

// Wait blocks until every detached delivery has returned.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Close waits up to timeout for deliveries, then closes sinks that hold connections.
func (d *Dispatcher) Close(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		d.logger.Warn("abandoning in-flight notifications")
	}
	for _, s := range d.sinks {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil {
				d.logger.Warn("closing sink", "sink", s.Name(), "error", err)
			}
		}
	}
}

// Caption is the human readable text shared by all sinks.
func Caption(event *database.StoredEvent) string {
	caption := fmt.Sprintf("Attendance: %s (%s)\nTime: %s", event.DisplayName, event.IdentityID,
		event.Timestamp.Format("2006-01-02 15:04:05"))
	if event.FirstOfDay {
		caption += "\nFirst check-in today"
	}
	return caption
}
