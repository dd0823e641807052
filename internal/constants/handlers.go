// Package constants provides shared constants used across the codebase.
package constants

// Handler constants
const (
	// DefaultRecentEvents is the default number of events returned by the recent events endpoint
	DefaultRecentEvents = 20

	// MaxRecentEvents caps the limit query parameter of the recent events endpoint
	MaxRecentEvents = 500
)

// Event channel constants
const (
	// EventChannelBuffer is the buffer size for SSE listener channels
	EventChannelBuffer = 100
)
