package scheduler

import (
	"fmt"
	"time"
)

// Config defines configuration for the scheduler loop
type Config struct {
	// Whether the daemon fires runs on its own schedule
	Enabled bool `toml:"enabled"`

	// Settings-reload inbox buffer size
	InboxBufferSize int `toml:"inbox_buffer_size"`

	// Timeout for publishing reloaded settings
	InboxSendTimeout time.Duration `toml:"inbox_send_timeout"`
}

// DefaultConfig returns the scheduler defaults
func DefaultConfig() Config {
	return Config{
		Enabled:          true,
		InboxBufferSize:  8,
		InboxSendTimeout: 5 * time.Second,
	}
}

// Validate checks the scheduler configuration
func (c Config) Validate() error {
	if c.InboxBufferSize <= 0 {
		return fmt.Errorf("scheduler inbox_buffer_size must be positive")
	}
	if c.InboxSendTimeout <= 0 {
		return fmt.Errorf("scheduler inbox_send_timeout must be positive")
	}
	return nil
}
