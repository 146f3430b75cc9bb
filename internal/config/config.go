// Package config loads the daemon configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the wardend daemon configuration. All fields have working
// defaults; the file only needs the values being changed.
type Config struct {
	Listen        string        `yaml:"listen"`
	DataDir       string        `yaml:"data_dir"`
	TickInterval  time.Duration `yaml:"tick_interval"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	AdbPath       string        `yaml:"adb_path"`
	OllamaURL     string        `yaml:"ollama_url"`
	OllamaModel   string        `yaml:"ollama_model"`

	// Whitelist lists packages the tick loop skips entirely: launchers,
	// system UI, the keyboard.
	Whitelist []string `yaml:"whitelist"`

	// Watch maps desktop process-name patterns to package identifiers
	// for the adb-less fallback detector.
	Watch map[string]string `yaml:"watch"`
}

// Default returns the built-in configuration.
func Default() Config {
	home, _ := os.UserHomeDir()
	return Config{
		Listen:        ":8000",
		DataDir:       filepath.Join(home, ".wardend"),
		TickInterval:  2 * time.Second,
		FlushInterval: 60 * time.Second,
		AdbPath:       "adb",
		OllamaURL:     "http://localhost:11434",
		OllamaModel:   "qwen2.5",
		Whitelist: []string{
			"com.sec.android.app.launcher",
			"com.google.android.apps.nexuslauncher",
			"com.android.launcher3",
			"com.miui.home",
			"com.android.systemui",
			"com.android.settings",
			"com.google.android.inputmethod.latin",
		},
	}
}

// Load reads the config file at path, applied over the defaults. An
// empty path or a missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file: %w", err)
	}
	if cfg.TickInterval <= 0 {
		return cfg, fmt.Errorf("tick_interval must be positive")
	}
	return cfg, nil
}
