package capture

import (
	"fmt"
	"io"

	"github.com/kozaktomas/face-attendance/internal/constants"
)

// readAllLimited reads one frame, refusing parts larger than MaxUploadSize.
func readAllLimited(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, constants.MaxUploadSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading frame: %w", err)
	}
	if len(data) > constants.MaxUploadSize {
		return nil, fmt.Errorf("frame exceeds %d bytes", constants.MaxUploadSize)
	}
	return data, nil
}
