package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultFileMatchesSpecDefaults(t *testing.T) {
	f := DefaultFile()
	cfg := f.ToCoreConfig()
	assert.Equal(t, 10*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, 40*time.Second, cfg.ServiceDiscoveryTimeout)
	assert.Equal(t, 15*time.Second, cfg.AutoReconnectTimeout)
	assert.Equal(t, 5*time.Second, cfg.WriteTimeout)
	assert.Equal(t, time.Duration(0), cfg.WritePacingDelay)
	assert.Equal(t, 512, cfg.DataStreamBufferChunks)
	assert.Equal(t, 15*time.Second, cfg.RSSIKeepalivePeriod)
	assert.Equal(t, time.Second, cfg.PowerOffGrace)
}

func TestLoadAppliesDefaultsForOmittedFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "blecentral.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: debug\nwrite_timeout_ms: 7000\n"), 0o644))

	f, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", f.LogLevel)
	assert.Equal(t, 7000, f.WriteTimeoutMS)
	assert.Equal(t, 10000, f.ConnectTimeoutMS, "omitted field must fall back to its struct-tag default")
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "blecentral.yaml")
	require.NoError(t, os.WriteFile(path, []byte("connect_timeout_ms: -5\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsUnknownLogLevel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "blecentral.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: screaming\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadFallsBackToDefaultFileWhenNothingFound(t *testing.T) {
	dir := t.TempDir()
	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(cwd) })

	f, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultFile(), f)
}

func TestLoggerDefaultsToInfoOnUnrecognizedLevel(t *testing.T) {
	f := DefaultFile()
	f.LogLevel = "not-a-level"
	log := f.Logger()
	assert.Equal(t, "info", log.GetLevel().String())
}
