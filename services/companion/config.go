package companion

import "time"

const (
	defaultMaxUploadBytes  = 10 << 20
	defaultStreamHeartbeat = 15 * time.Second
	defaultStreamBuffer    = 64
)

// Config controls runtime behaviour for the API handlers.
type Config struct {
	// MaxUploadBytes caps the parsed size of one multipart config upload.
	MaxUploadBytes int64
	// StreamHeartbeat is the idle keep-alive interval for SSE and WebSocket
	// subscribers.
	StreamHeartbeat time.Duration
	// StreamBuffer is the per-subscriber event queue length. A subscriber
	// that falls this far behind starts losing events.
	StreamBuffer int
	// AllowedOrigins feeds the CORS middleware. Empty means allow all.
	AllowedOrigins []string
}

func (c Config) withDefaults() Config {
	if c.MaxUploadBytes <= 0 {
		c.MaxUploadBytes = defaultMaxUploadBytes
	}
	if c.StreamHeartbeat <= 0 {
		c.StreamHeartbeat = defaultStreamHeartbeat
	}
	if c.StreamBuffer <= 0 {
		c.StreamBuffer = defaultStreamBuffer
	}
	return c
}
