package memkit

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/relaymind/memkit/conversation"
	"github.com/relaymind/memkit/memory"
	"github.com/relaymind/memkit/memory/classifier/anthropic"
)

// Config is the top-level configuration, loadable from YAML.
type Config struct {
	// StoragePath is the SQLite database file for conversation storage.
	StoragePath string `yaml:"storage_path"`

	Conversation conversation.Config `yaml:"conversation"`
	Memory       memory.Config       `yaml:"memory"`
	Classifier   anthropic.Config    `yaml:"classifier"`
}

// DefaultConfig returns a config with all defaults applied.
func DefaultConfig() *Config {
	c := &Config{}
	c.ApplyDefaults()
	return c
}

// ApplyDefaults fills zero fields with defaults.
func (c *Config) ApplyDefaults() {
	if c.StoragePath == "" {
		c.StoragePath = "memkit.db"
	}
	c.Conversation.ApplyDefaults()
	c.Memory.ApplyDefaults()
	c.Classifier.ApplyDefaults()
}

// Validate reports configuration errors.
func (c *Config) Validate() error {
	if err := c.Conversation.Validate(); err != nil {
		return err
	}
	if err := c.Memory.Validate(); err != nil {
		return err
	}
	return c.Classifier.Validate()
}

// LoadConfig reads a YAML config file, applies defaults, and validates.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	c.ApplyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}
