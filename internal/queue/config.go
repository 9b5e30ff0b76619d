package queue

import "time"

// Config holds configuration for the delivery worker pool.
type Config struct {
	WorkerCount     int
	PollInterval    time.Duration
	ErrorBackoff    time.Duration
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		WorkerCount:     4,
		PollInterval:    10 * time.Second,
		ErrorBackoff:    1 * time.Second,
		ShutdownTimeout: 30 * time.Second,
	}
}
