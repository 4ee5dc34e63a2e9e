package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
	"unicode"
)

// Config represents the complete application configuration
type Config struct {
	Version  string         `json:"version"` // Semantic version for deploy tracking
	Platform PlatformConfig `json:"platform"`
	NATS     NATSConfig     `json:"nats"`
	Buckets  BucketsConfig  `json:"buckets"`
	Ingest   IngestConfig   `json:"ingest"`
	Metrics  MetricsConfig  `json:"metrics"`
}

// PlatformConfig defines platform identity
type PlatformConfig struct {
	Org         string `json:"org"`                   // Organization namespace
	ID          string `json:"id"`                    // Deployment identifier
	Environment string `json:"environment,omitempty"` // "prod", "dev", "test"
}

// NATSConfig defines NATS connection settings
type NATSConfig struct {
	URLs          []string      `json:"urls,omitempty"`
	MaxReconnects int           `json:"max_reconnects,omitempty"`
	ReconnectWait time.Duration `json:"reconnect_wait,omitempty"`
	Timeout       time.Duration `json:"timeout,omitempty"`
	Username      string        `json:"username,omitempty"`
	Password      string        `json:"password,omitempty"`
	Token         string        `json:"token,omitempty"`
}

// BucketsConfig names the KV buckets backing the repositories
type BucketsConfig struct {
	Streams   string `json:"streams,omitempty"`
	Observers string `json:"observers,omitempty"`
	Points    string `json:"points,omitempty"`
}

// IngestConfig bounds upload batches
type IngestConfig struct {
	// MaxBatchSize caps points per upload request; 0 means unlimited.
	MaxBatchSize int `json:"max_batch_size,omitempty"`
	// MaxPayloadBytes caps a single point's binary payload; 0 means unlimited.
	MaxPayloadBytes int `json:"max_payload_bytes,omitempty"`
	// RetryAttempts for transient storage errors during persistence.
	RetryAttempts int `json:"retry_attempts,omitempty"`
}

// MetricsConfig configures the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Port    int    `json:"port,omitempty"`
	Path    string `json:"path,omitempty"`
}

// SafeConfig provides thread-safe access to configuration
type SafeConfig struct {
	mu     sync.RWMutex
	config *Config
}

// NewSafeConfig creates a new thread-safe config wrapper
func NewSafeConfig(cfg *Config) *SafeConfig {
	if cfg == nil {
		cfg = &Config{}
	}
	return &SafeConfig{config: cfg}
}

// Get returns a deep copy of the current configuration
func (sc *SafeConfig) Get() *Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.config.Clone()
}

// Update atomically replaces the configuration after validation
func (sc *SafeConfig) Update(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.config = cfg
	return nil
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	if c == nil {
		return &Config{}
	}

	data, err := json.Marshal(c)
	if err != nil {
		copied := *c
		return &copied
	}
	var clone Config
	if err := json.Unmarshal(data, &clone); err != nil {
		copied := *c
		return &copied
	}
	return &clone
}

// Validate checks if the config is valid
func (c *Config) Validate() error {
	if c.Platform.Org == "" {
		return errors.New("platform.org is required")
	}
	c.Platform.Org = strings.ToLower(c.Platform.Org)
	if !isValidNATSSubjectPart(c.Platform.Org) {
		return fmt.Errorf(
			"platform.org %q is not valid for NATS subjects (must be alphanumeric with dots, dashes, underscores)",
			c.Platform.Org)
	}

	if c.Platform.ID == "" {
		return errors.New("platform.id is required")
	}

	if len(c.NATS.URLs) == 0 {
		return errors.New("nats.urls is required")
	}

	for name, bucket := range map[string]string{
		"buckets.streams":   c.Buckets.Streams,
		"buckets.observers": c.Buckets.Observers,
		"buckets.points":    c.Buckets.Points,
	} {
		if bucket != "" && !isValidNATSSubjectPart(bucket) {
			return fmt.Errorf("%s %q is not a valid bucket name", name, bucket)
		}
	}

	if c.Ingest.MaxBatchSize < 0 {
		return errors.New("ingest.max_batch_size cannot be negative")
	}
	if c.Ingest.MaxPayloadBytes < 0 {
		return errors.New("ingest.max_payload_bytes cannot be negative")
	}
	if c.Ingest.RetryAttempts < 0 {
		return errors.New("ingest.retry_attempts cannot be negative")
	}

	if c.Metrics.Enabled && (c.Metrics.Port < 0 || c.Metrics.Port > 65535) {
		return fmt.Errorf("metrics.port %d is out of range", c.Metrics.Port)
	}

	return nil
}

// isValidNATSSubjectPart checks if a string is valid for use in NATS
// subjects and bucket names.
func isValidNATSSubjectPart(s string) bool {
	if len(s) == 0 {
		return false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) &&
			r != '-' && r != '_' && r != '.' {
			return false
		}
	}
	return true
}

// SaveToFile saves the configuration to a JSON file
func (c *Config) SaveToFile(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
