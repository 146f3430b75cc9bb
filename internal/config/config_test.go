package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLoad_EmptyPathYieldsDefaults verifies defaults without a file
func TestLoad_EmptyPathYieldsDefaults(t *testing.T) {
	cfg, err := Load("")

	require.NoError(t, err)
	assert.Equal(t, ":8000", cfg.Listen)
	assert.Equal(t, 2*time.Second, cfg.TickInterval)
	assert.Equal(t, 60*time.Second, cfg.FlushInterval)
	assert.Equal(t, "adb", cfg.AdbPath)
	assert.Equal(t, "qwen2.5", cfg.OllamaModel)
	assert.Contains(t, cfg.Whitelist, "com.android.systemui")
}

// TestLoad_MissingFileYieldsDefaults verifies a nonexistent path is not an error
func TestLoad_MissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))

	require.NoError(t, err)
	assert.Equal(t, ":8000", cfg.Listen)
}

// TestLoad_FileOverridesDefaults verifies partial YAML overlays
func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wardend.yaml")
	content := `
listen: ":9000"
tick_interval: 5s
watch:
  chrome: "com.android.chrome"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Listen)
	assert.Equal(t, 5*time.Second, cfg.TickInterval)
	assert.Equal(t, "com.android.chrome", cfg.Watch["chrome"])
	// Untouched fields keep their defaults.
	assert.Equal(t, "adb", cfg.AdbPath)
	assert.Equal(t, 60*time.Second, cfg.FlushInterval)
}

// TestLoad_RejectsBadTickInterval verifies validation
func TestLoad_RejectsBadTickInterval(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wardend.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tick_interval: 0s"), 0644))

	_, err := Load(path)

	assert.Error(t, err)
}

// TestLoad_RejectsMalformedYAML verifies parse errors surface
func TestLoad_RejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wardend.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen: [unclosed"), 0644))

	_, err := Load(path)

	assert.Error(t, err)
}
