package worker

import (
	"fmt"
	"time"
)

// Config holds the configuration for the periodic job runner.
type Config struct {
	// Interval is how often each registered job runs.
	// Default: 1 minute
	Interval time.Duration

	// JobTimeout is the maximum time a single run is allowed to take. The
	// run's context is canceled when it expires.
	// Default: 30 seconds
	JobTimeout time.Duration

	// ShutdownTimeout is how long Stop waits for in-flight runs.
	// Default: 10 seconds
	ShutdownTimeout time.Duration

	// RunOnStart runs every job once immediately instead of waiting for the
	// first tick.
	RunOnStart bool
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		Interval:        time.Minute,
		JobTimeout:      30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		RunOnStart:      true,
	}
}

// Validate checks if the configuration is valid.
func (c Config) Validate() error {
	if c.Interval < time.Second {
		return fmt.Errorf("interval must be at least 1 second, got %v", c.Interval)
	}
	if c.JobTimeout < time.Second {
		return fmt.Errorf("job timeout must be at least 1 second, got %v", c.JobTimeout)
	}
	if c.JobTimeout > c.Interval {
		return fmt.Errorf("job timeout %v must not exceed interval %v", c.JobTimeout, c.Interval)
	}
	if c.ShutdownTimeout < time.Second {
		return fmt.Errorf("shutdown timeout must be at least 1 second, got %v", c.ShutdownTimeout)
	}
	return nil
}
