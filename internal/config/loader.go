package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"inferd/internal/common/fsutil"
)

// Config holds runtime parameters for the broker daemon.
// Zero values mean "unspecified" and will be replaced by defaults in main.
type Config struct {
	Addr      string `json:"addr" yaml:"addr" toml:"addr"`
	LogLevel  string `json:"log_level" yaml:"log_level" toml:"log_level"`
	LogFormat string `json:"log_format" yaml:"log_format" toml:"log_format"`

	// Directory scanned for *.gguf files by the builtin backend.
	ModelsDir string `json:"models_dir" yaml:"models_dir" toml:"models_dir"`
	// Base URL of the local Ollama daemon.
	OllamaURL string `json:"ollama_url" yaml:"ollama_url" toml:"ollama_url"`
	// OpenAI-compatible cloud endpoint; the backend is disabled when empty.
	CloudBaseURL string `json:"cloud_base_url" yaml:"cloud_base_url" toml:"cloud_base_url"`
	CloudAPIKey  string `json:"cloud_api_key" yaml:"cloud_api_key" toml:"cloud_api_key"`

	// Memory budget for loaded models. BudgetBytes wins when set; otherwise
	// the governor derives BudgetFraction of total RAM (default 0.5).
	BudgetBytes    int64   `json:"budget_bytes" yaml:"budget_bytes" toml:"budget_bytes"`
	BudgetFraction float64 `json:"budget_fraction" yaml:"budget_fraction" toml:"budget_fraction"`

	// Models untouched for this many minutes are reclaimed in the background.
	IdleUnloadMinutes int `json:"idle_unload_minutes" yaml:"idle_unload_minutes" toml:"idle_unload_minutes"`

	// Path of the settings JSON file (default model per capability, custom
	// model registry entries).
	SettingsPath string `json:"settings_path" yaml:"settings_path" toml:"settings_path"`
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	expanded, err := fsutil.ExpandHome(path)
	if err != nil {
		return cfg, err
	}
	b, err := os.ReadFile(expanded)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(expanded)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}
