package main

import (
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the sumi configuration file (~/.config/sumi/config.yaml).
// Numeric fields are pointers so we can distinguish "not set" from zero values.
type Config struct {
	Model     string `yaml:"model"`
	ModelsDir string `yaml:"models_dir"`
	Vocab     string `yaml:"vocab"`

	// Decode defaults
	MaxSteps *int64 `yaml:"max_steps"`

	// Backend
	Provider   string `yaml:"provider"`
	Device     *int64 `yaml:"device"`
	Threads    *int64 `yaml:"threads"`
	ORTLibrary string `yaml:"ort_library"`

	// Output
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Server
	ServerAddress     string   `yaml:"server_address"`
	RequestsPerSecond *float64 `yaml:"requests_per_second"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "sumi", "config.yaml")
}

// applyCommonConfig applies config file defaults to the shared flag
// variables when the corresponding CLI flag was not explicitly set.
func applyCommonConfig(c *cli.Command, cfg Config) {
	if cfg.Vocab != "" && !c.IsSet("vocab") {
		vocabPath = cfg.Vocab
	}
	if cfg.MaxSteps != nil && !c.IsSet("max-steps") && !c.IsSet("steps") {
		maxSteps = *cfg.MaxSteps
	}
	if cfg.Provider != "" && !c.IsSet("provider") {
		provider = cfg.Provider
	}
	if cfg.Device != nil && !c.IsSet("device") {
		deviceID = *cfg.Device
	}
	if cfg.Threads != nil && !c.IsSet("threads") {
		ortThreads = *cfg.Threads
	}
	if cfg.ORTLibrary != "" && !c.IsSet("ort-library") {
		ortLibrary = cfg.ORTLibrary
	}
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}

// applyModelConfig fills the default model path for commands that take
// the model as a flag rather than a positional argument.
func applyModelConfig(c *cli.Command, cfg Config, model *string) {
	if cfg.Model != "" && !c.IsSet("model") {
		*model = cfg.Model
	}
}

// applyServeConfig applies config file defaults to serve command variables.
func applyServeConfig(c *cli.Command, cfg Config, model, modelsDir, addr *string, rps *float64) {
	applyModelConfig(c, cfg, model)
	if cfg.ModelsDir != "" && !c.IsSet("models-path") {
		*modelsDir = cfg.ModelsDir
	}
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
	if cfg.RequestsPerSecond != nil && !c.IsSet("rps") {
		*rps = *cfg.RequestsPerSecond
	}
}

// LoadConfig reads the config file. Returns a zero Config if the file doesn't exist.
func LoadConfig() Config {
	path := configPath()
	if path == "" {
		return Config{}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}
	}
	return cfg
}
