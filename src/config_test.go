package prolink

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "prolink-go", cfg.DeviceName)
	assert.Equal(t, 1500*time.Millisecond, cfg.KeepAliveInterval)
	assert.Equal(t, 200*time.Millisecond, cfg.StatusInterval)
}

func TestLoadConfigFile_OverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("device_name: \"my-cdj\"\npreferred_device_number: 2\n"), 0o644))

	cfg, err := LoadConfigFile(path)
	require.NoError(t, err)
	assert.Equal(t, "my-cdj", cfg.DeviceName)
	assert.Equal(t, uint8(2), cfg.PreferredDeviceNumber)
	assert.Equal(t, 1500*time.Millisecond, cfg.KeepAliveInterval)
}

func TestLoadConfigFile_MissingFile(t *testing.T) {
	_, err := LoadConfigFile(filepath.Join(t.TempDir(), "missing.yaml"))
	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, ErrConfigInvalid, e.Kind)
}

func TestLoadConfigFile_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("not: [valid: yaml"), 0o644))

	_, err := LoadConfigFile(path)
	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, ErrConfigInvalid, e.Kind)
}
