package notify

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/nicholas-fedor/shoutrrr"
	"github.com/nicholas-fedor/shoutrrr/pkg/router"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/kozaktomas/face-attendance/internal/database"
)

// ShoutrrrSink sends the caption to every configured service URL.
type ShoutrrrSink struct {
	sender *router.ServiceRouter
}

// NewShoutrrrSink validates the URLs by building the sender.
func NewShoutrrrSink(urls []string, timeout time.Duration) (*ShoutrrrSink, error) {
	if len(urls) == 0 {
		return nil, fmt.Errorf("at least one shoutrrr URL is required")
	}
	sender, err := shoutrrr.CreateSender(urls...)
	if err != nil {
		// Service URLs embed credentials; do not echo them.
		return nil, fmt.Errorf("invalid shoutrrr URL list (%d urls)", len(urls))
	}
	if timeout > 0 {
		sender.Timeout = timeout
	}
	sender.SetLogger(log.New(io.Discard, "", 0))
	return &ShoutrrrSink{sender: sender}, nil
}

func (s *ShoutrrrSink) Name() string { return "shoutrrr" }

func (s *ShoutrrrSink) Send(ctx context.Context, event *database.StoredEvent, _ []byte) error {
	params := stypes.Params{}
	params.SetTitle("Attendance")

	// The router applies its own timeout.
	for _, err := range s.sender.Send(Caption(event), &params) {
		if err != nil {
			return err
		}
	}
	return ctx.Err()
}
