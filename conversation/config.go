package conversation

import (
	"fmt"
	"time"
)

const (
	defaultBucketCapacity = 50
	defaultRecentWindow   = 24 * time.Hour
	defaultRecentThreads  = 5
	defaultRecentTurns    = 6
)

// Config holds conversation storage configuration.
type Config struct {
	// BucketCapacity is the number of messages per bucket. A bucket is
	// immutable once it reaches capacity. Defaults to 50.
	BucketCapacity int `yaml:"bucket_capacity"`

	// RecentWindow bounds how far back short-term recall reaches.
	// Defaults to 24h.
	RecentWindow time.Duration `yaml:"recent_window"`

	// RecentThreads caps how many recently active threads the recall
	// fan-out touches. Defaults to 5.
	RecentThreads int `yaml:"recent_threads"`
}

// DefaultConfig returns the defaults used when no config is supplied.
func DefaultConfig() *Config {
	c := &Config{}
	c.ApplyDefaults()
	return c
}

// ApplyDefaults fills zero fields with defaults.
func (c *Config) ApplyDefaults() {
	if c.BucketCapacity == 0 {
		c.BucketCapacity = defaultBucketCapacity
	}
	if c.RecentWindow == 0 {
		c.RecentWindow = defaultRecentWindow
	}
	if c.RecentThreads == 0 {
		c.RecentThreads = defaultRecentThreads
	}
}

// Validate reports configuration errors. These are fatal at startup,
// never per-request.
func (c *Config) Validate() error {
	if c.BucketCapacity < 1 {
		return fmt.Errorf("conversation: bucket_capacity must be positive, got %d", c.BucketCapacity)
	}
	if c.RecentWindow < 0 {
		return fmt.Errorf("conversation: recent_window must be non-negative, got %s", c.RecentWindow)
	}
	if c.RecentThreads < 1 {
		return fmt.Errorf("conversation: recent_threads must be positive, got %d", c.RecentThreads)
	}
	return nil
}
