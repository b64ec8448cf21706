package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/lotstream/protocol"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "nats://localhost:4222", cfg.NATS.URL)
	assert.Equal(t, 4, cfg.Lot.Capacity)
	assert.Equal(t, 30*time.Second, cfg.Lot.WaitPeriod)
	assert.Equal(t, protocol.RoleEntry, cfg.Gate.Role)
	assert.True(t, cfg.Metrics.Enabled)
	assert.NoError(t, cfg.Validate())
}

func TestLoader_FileLayer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lotstream.json")
	content := `{
		"nats": {"url": "nats://broker:4222", "stream_name": "PARKING"},
		"lot": {"capacity": 12},
		"metrics": {"enabled": false}
	}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := NewLoader().Load(path)
	require.NoError(t, err)

	assert.Equal(t, "nats://broker:4222", cfg.NATS.URL)
	assert.Equal(t, "PARKING", cfg.NATS.StreamName)
	assert.Equal(t, 12, cfg.Lot.Capacity)
	assert.False(t, cfg.Metrics.Enabled)

	// Sections absent from the file keep their defaults.
	assert.Equal(t, protocol.RoleEntry, cfg.Gate.Role)
}

func TestLoader_EnvOverrides(t *testing.T) {
	t.Setenv("LOTSTREAM_NATS_URL", "nats://from-env:4222")
	t.Setenv("LOTSTREAM_GATE_ROLE", "exit")

	cfg, err := NewLoader().Load("")
	require.NoError(t, err)

	assert.Equal(t, "nats://from-env:4222", cfg.NATS.URL)
	assert.Equal(t, protocol.RoleExit, cfg.Gate.Role)
}

func TestLoader_MissingFile(t *testing.T) {
	_, err := NewLoader().Load("/nonexistent/lotstream.json")
	assert.Error(t, err)
}

func TestLoader_MalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := NewLoader().Load(path)
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	cfg := Default()
	cfg.NATS.URL = ""
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Metrics.Port = 70000
	assert.Error(t, cfg.Validate())
}
