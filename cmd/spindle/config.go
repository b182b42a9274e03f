package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the spindle configuration file (~/.config/spindle/config.yaml).
// Pointer fields distinguish "not set" from zero values.
type Config struct {
	ModelsDir string `yaml:"models_dir"`
	Model     string `yaml:"model"`

	Temperature   *float64 `yaml:"temperature"`
	TopK          *int64   `yaml:"top_k"`
	TopP          *float64 `yaml:"top_p"`
	MinP          *float64 `yaml:"min_p"`
	RepeatPenalty *float64 `yaml:"repeat_penalty"`
	MaxContext    *int64   `yaml:"max_context"`
	MaxTokens     *int64   `yaml:"max_tokens"`
	Seed          *int64   `yaml:"seed"`

	Backend       string `yaml:"backend"`
	Tokenizer     string `yaml:"tokenizer"`
	OrtLibrary    string `yaml:"ort_library"`
	PromptCacheMB *int64 `yaml:"prompt_cache_mb"`

	StreamMode string `yaml:"stream_mode"`
	LogLevel   string `yaml:"log_level"`
	LogFormat  string `yaml:"log_format"`

	ServerAddress string `yaml:"server_address"`
}

func configPath() string {
	if configFile != "" {
		return configFile
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "spindle", "config.yaml")
}

// LoadConfig reads the config file at path. A missing file is not an error.
func LoadConfig(path string) (Config, error) {
	if path == "" {
		return Config{}, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Config{}, nil
	}
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// applyModelConfig applies config file defaults to the shared model flags
// that were not set on the command line.
func applyModelConfig(c *cli.Command, cfg Config) {
	if cfg.ModelsDir != "" && !c.IsSet("models-path") {
		modelsPath = cfg.ModelsDir
	}
	if cfg.Model != "" && !c.IsSet("model") {
		modelPath = cfg.Model
	}
	if cfg.Backend != "" && !c.IsSet("backend") {
		backend = cfg.Backend
	}
	if cfg.Tokenizer != "" && !c.IsSet("tokenizer") {
		tokenizerKind = cfg.Tokenizer
	}
	if cfg.OrtLibrary != "" && !c.IsSet("ort-lib") {
		ortLibrary = cfg.OrtLibrary
	}
	if cfg.MaxContext != nil && !c.IsSet("max-context") {
		maxContext = *cfg.MaxContext
	}
	if cfg.PromptCacheMB != nil && !c.IsSet("prompt-cache-mb") {
		promptCacheMB = *cfg.PromptCacheMB
	}
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}

// applySamplingConfig applies config file defaults to sampling flags and
// marks them as explicitly chosen, so they win over generation_config.json.
func applySamplingConfig(c *cli.Command, cfg Config, s *samplingFlags) {
	if cfg.Temperature != nil && !c.IsSet("temp") {
		s.temp = *cfg.Temperature
		s.mark("temp")
	}
	if cfg.TopK != nil && !c.IsSet("top-k") {
		s.topK = *cfg.TopK
		s.mark("top-k")
	}
	if cfg.TopP != nil && !c.IsSet("top-p") {
		s.topP = *cfg.TopP
		s.mark("top-p")
	}
	if cfg.MinP != nil && !c.IsSet("min-p") {
		s.minP = *cfg.MinP
		s.mark("min-p")
	}
	if cfg.RepeatPenalty != nil && !c.IsSet("repeat-penalty") {
		s.repeatPenalty = *cfg.RepeatPenalty
		s.mark("repeat-penalty")
	}
	if cfg.MaxTokens != nil && !c.IsSet("max-tokens") {
		s.maxTokens = *cfg.MaxTokens
		s.mark("max-tokens")
	}
	if cfg.Seed != nil && !c.IsSet("seed") {
		s.seed = *cfg.Seed
		s.mark("seed")
	}
}
