package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	ModelsDir string         `yaml:"models_dir"`
	Model     string         `yaml:"model"`
	Device    string         `yaml:"device"` // "auto", "cpu", or "accelerated"
	Engine    EngineConfig   `yaml:"engine"`
	Timeouts  TimeoutConfig  `yaml:"timeouts"`
	Generate  GenerateConfig `yaml:"generate"`
	History   HistoryConfig  `yaml:"history"`
	LogLevel  string         `yaml:"log_level"`
}

// EngineConfig holds audio chunking settings for long inputs.
type EngineConfig struct {
	// ChunkSeconds is the window length fed to the model per inference.
	ChunkSeconds float64 `yaml:"chunk_seconds"`
	// OverlapSeconds is the overlap between consecutive windows.
	OverlapSeconds float64 `yaml:"overlap_seconds"`
}

// TimeoutConfig holds the two independent client deadlines. Both are
// generous by default: model downloads run to hundreds of MB and large
// files take minutes to transcribe.
type TimeoutConfig struct {
	ModelLoadSeconds int `yaml:"model_load_seconds"`
	InferenceSeconds int `yaml:"inference_seconds"`
}

// ModelLoad returns the model-load deadline as a duration.
func (t TimeoutConfig) ModelLoad() time.Duration {
	return time.Duration(t.ModelLoadSeconds) * time.Second
}

// Inference returns the inference deadline as a duration.
func (t TimeoutConfig) Inference() time.Duration {
	return time.Duration(t.InferenceSeconds) * time.Second
}

// GenerateConfig holds the downstream content-generation endpoint settings.
// The API key is never persisted; it comes from the caller or environment.
type GenerateConfig struct {
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// HistoryConfig holds transcript history storage settings.
type HistoryConfig struct {
	Dir string `yaml:"dir"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "clipscribe")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// DefaultModelsDir returns the default model cache directory.
func DefaultModelsDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".local", "share", "clipscribe", "models")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	home, _ := os.UserHomeDir()

	return &Config{
		ModelsDir: DefaultModelsDir(),
		Model:     "parakeet-tdt-0.6b-v2",
		Device:    "auto",
		Engine: EngineConfig{
			ChunkSeconds:   15,
			OverlapSeconds: 2,
		},
		Timeouts: TimeoutConfig{
			ModelLoadSeconds: 600,
			InferenceSeconds: 900,
		},
		Generate: GenerateConfig{
			BaseURL: "https://api.openai.com/v1",
			Model:   "gpt-4o-mini",
		},
		History: HistoryConfig{
			Dir: filepath.Join(home, ".local", "share", "clipscribe", "history"),
		},
		LogLevel: "info",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. Tilde (~) in paths is expanded to the user's home directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.ModelsDir = expandTilde(cfg.ModelsDir)
	cfg.History.Dir = expandTilde(cfg.History.Dir)

	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.ModelsDir == "" {
		return fmt.Errorf("models_dir must not be empty")
	}

	if c.Model == "" {
		return fmt.Errorf("model must not be empty")
	}

	switch c.Device {
	case "auto", "cpu", "accelerated":
	default:
		return fmt.Errorf("device must be \"auto\", \"cpu\", or \"accelerated\", got %q", c.Device)
	}

	if c.Engine.ChunkSeconds <= 0 {
		return fmt.Errorf("engine.chunk_seconds must be > 0")
	}

	if c.Engine.OverlapSeconds < 0 || c.Engine.OverlapSeconds >= c.Engine.ChunkSeconds {
		return fmt.Errorf("engine.overlap_seconds must be in [0, chunk_seconds), got %g", c.Engine.OverlapSeconds)
	}

	if c.Timeouts.ModelLoadSeconds <= 0 {
		return fmt.Errorf("timeouts.model_load_seconds must be > 0")
	}

	if c.Timeouts.InferenceSeconds <= 0 {
		return fmt.Errorf("timeouts.inference_seconds must be > 0")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
