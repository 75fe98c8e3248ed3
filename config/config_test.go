package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValidOnceHostnameSet(t *testing.T) {
	c := Default()
	c.Hostname = "tvh.local"
	assert.NoError(t, c.Validate())
}

func TestValidateRejectsMissingHostname(t *testing.T) {
	c := Default()
	assert.Error(t, c.Validate())
}

func TestValidateRejectsBadPort(t *testing.T) {
	c := Default()
	c.Hostname = "tvh.local"
	c.Port = 70000
	assert.Error(t, c.Validate())
}

func TestValidateRejectsInitialExceedingMax(t *testing.T) {
	c := Default()
	c.Hostname = "tvh.local"
	c.ReconnectBackoff.InitialMs = 60000
	c.ReconnectBackoff.MaxMs = 30000
	assert.Error(t, c.Validate())
}

func TestLoadFileJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "htsp.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"hostname":"tvh.local","port":9982,"username":"dev"}`), 0o600))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "tvh.local", cfg.Hostname)
	assert.Equal(t, "dev", cfg.Username)
	assert.Equal(t, 9982, cfg.Port)
}

func TestLoadFileYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "htsp.yaml")
	require.NoError(t, os.WriteFile(path, []byte("hostname: tvh.local\nport: 9982\n"), 0o600))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "tvh.local", cfg.Hostname)
}

func TestLoadFileEnvOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "htsp.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"hostname":"file-host","port":9982}`), 0o600))

	t.Setenv("HTSP_HOSTNAME", "env-host")
	t.Setenv("HTSP_PORT", "12345")

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "env-host", cfg.Hostname)
	assert.Equal(t, 12345, cfg.Port)
}

func TestLoadFileRejectsUnsupportedExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "htsp.txt")
	require.NoError(t, os.WriteFile(path, []byte("hostname=tvh.local"), 0o600))

	_, err := LoadFile(path)
	assert.Error(t, err)
}

func TestLoadFileRejectsOversized(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "big.json")
	big := make([]byte, maxConfigSize+1)
	require.NoError(t, os.WriteFile(path, big, 0o600))

	_, err := LoadFile(path)
	assert.Error(t, err)
}

func TestBackoffConversion(t *testing.T) {
	r := ReconnectConfig{InitialMs: 1000, MaxMs: 30000, Jitter: 0.25}
	b := r.Backoff()
	assert.Equal(t, int64(1000), b.InitialDelay.Milliseconds())
	assert.Equal(t, int64(30000), b.MaxDelay.Milliseconds())
	assert.True(t, b.AddJitter)
}
