package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Platform: PlatformConfig{Org: "example", ID: "bank1"},
		NATS:     NATSConfig{URLs: []string{"nats://localhost:4222"}},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing org", func(c *Config) { c.Platform.Org = "" }, "platform.org is required"},
		{"bad org", func(c *Config) { c.Platform.Org = "no spaces" }, "not valid for NATS subjects"},
		{"missing id", func(c *Config) { c.Platform.ID = "" }, "platform.id is required"},
		{"no urls", func(c *Config) { c.NATS.URLs = nil }, "nats.urls is required"},
		{"bad bucket", func(c *Config) { c.Buckets.Points = "bad name" }, "not a valid bucket name"},
		{"negative batch", func(c *Config) { c.Ingest.MaxBatchSize = -1 }, "cannot be negative"},
		{"bad metrics port", func(c *Config) {
			c.Metrics.Enabled = true
			c.Metrics.Port = 70000
		}, "out of range"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestValidateNormalizesOrg(t *testing.T) {
	cfg := validConfig()
	cfg.Platform.Org = "Example"
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "example", cfg.Platform.Org)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"nats://localhost:4222"}, cfg.NATS.URLs)
	assert.Equal(t, 2*time.Second, cfg.NATS.ReconnectWait)
	assert.Equal(t, "streambank_points", cfg.Buckets.Points)
	assert.Equal(t, 500, cfg.Ingest.MaxBatchSize)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoadFileMergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"platform": {"org": "example", "id": "bank1"},
		"nats": {"urls": ["nats://nats.internal:4222"], "reconnect_wait": "5s"},
		"buckets": {"points": "custom_points"}
	}`), 0o600))

	loader := NewLoader()
	loader.EnableValidation(true)
	cfg, err := loader.LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "example", cfg.Platform.Org)
	assert.Equal(t, []string{"nats://nats.internal:4222"}, cfg.NATS.URLs)
	assert.Equal(t, 5*time.Second, cfg.NATS.ReconnectWait)
	// Overridden bucket, defaulted buckets
	assert.Equal(t, "custom_points", cfg.Buckets.Points)
	assert.Equal(t, "streambank_streams", cfg.Buckets.Streams)
	// Untouched defaults survive
	assert.Equal(t, 500, cfg.Ingest.MaxBatchSize)
}

func TestLoadLayers(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "base.json")
	local := filepath.Join(dir, "local.json")
	require.NoError(t, os.WriteFile(base, []byte(`{
		"platform": {"org": "example", "id": "bank1", "environment": "prod"}
	}`), 0o600))
	require.NoError(t, os.WriteFile(local, []byte(`{
		"platform": {"environment": "dev"}
	}`), 0o600))

	loader := NewLoader()
	loader.AddLayer(base)
	loader.AddLayer(local)
	cfg, err := loader.Load()
	require.NoError(t, err)

	assert.Equal(t, "example", cfg.Platform.Org)
	assert.Equal(t, "dev", cfg.Platform.Environment, "later layer wins")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := NewLoader().LoadFile("/nonexistent/config.json")
	require.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("STREAMBANK_PLATFORM_ORG", "envorg")
	t.Setenv("STREAMBANK_NATS_URLS", "nats://a:4222,nats://b:4222")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, "envorg", cfg.Platform.Org)
	assert.Equal(t, []string{"nats://a:4222", "nats://b:4222"}, cfg.NATS.URLs)
}

func TestSafeConfig(t *testing.T) {
	sc := NewSafeConfig(validConfig())

	got := sc.Get()
	got.Platform.ID = "mutated"
	assert.Equal(t, "bank1", sc.Get().Platform.ID, "Get returns a copy")

	bad := validConfig()
	bad.Platform.Org = ""
	require.Error(t, sc.Update(bad))

	good := validConfig()
	good.Platform.ID = "bank2"
	require.NoError(t, sc.Update(good))
	assert.Equal(t, "bank2", sc.Get().Platform.ID)
}

func TestSaveToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.json")
	cfg := validConfig()
	require.NoError(t, cfg.SaveToFile(path))

	loaded, err := NewLoader().LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Platform.Org, loaded.Platform.Org)
}
