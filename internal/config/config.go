package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

const (
	defaultConfigPath = "~/.config/starstep/config.json"
	defaultFrameSize  = 64 << 20
)

// Config holds user-editable settings for the custom-step engine.
type Config struct {
	Engine  Engine  `json:"engine"`
	Logging Logging `json:"logging"`
	Paths   Paths   `json:"paths"`
	Server  Server  `json:"server"`
}

// Engine controls how instructions are extracted and scheduled.
type Engine struct {
	InstructionsPath string `json:"instructions_path"` // .yaml/.yml/.hcl tree
	OutputDir        string `json:"output_dir"`
	Registration     bool   `json:"registration"` // schedule onRegistrationStart/End
	Integration      bool   `json:"integration"`  // schedule onIntegrationStart and the master phase
	DefaultFrameSize int64  `json:"default_frame_size"`
	Timeline         bool   `json:"timeline"` // queue log header/footer blocks
}

// Logging controls logging verbosity and destinations.
type Logging struct {
	Level      string `json:"level"`       // debug, info, warn, error
	Format     string `json:"format"`      // text, json
	FileOutput bool   `json:"file_output"` // Enable file logging
	LogDir     string `json:"log_dir"`     // Directory for log files
}

// Paths configures default input locations.
type Paths struct {
	DefaultInput string `json:"default_input"`
	MastersDir   string `json:"masters_dir"`
	DatabasePath string `json:"database_path"`
}

// Server configures the HTTP and gRPC listeners.
type Server struct {
	HTTPAddr string `json:"http_addr"`
	GRPCAddr string `json:"grpc_addr"`
}

// Path returns the config file location in effect.
func Path() string {
	if p := os.Getenv("STARSTEP_CONFIG"); p != "" {
		return p
	}
	return defaultConfigPath
}

// Load reads configuration from disk, falling back to sensible defaults.
// A .env file in the working directory is applied to the environment first.
func Load() (*Config, error) {
	_ = godotenv.Load() // ignore error if .env missing

	cfg := defaultConfig()

	expanded, err := expandUser(Path())
	if err != nil {
		return nil, err
	}

	f, err := os.Open(expanded)
	if errors.Is(err, os.ErrNotExist) {
		applyEnv(cfg)
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	if err := dec.Decode(cfg); err != nil {
		return nil, err
	}

	applyEnv(cfg)
	return cfg, nil
}

// applyEnv lets STARSTEP_* variables override file settings.
func applyEnv(cfg *Config) {
	if v := os.Getenv("STARSTEP_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("STARSTEP_INSTRUCTIONS"); v != "" {
		cfg.Engine.InstructionsPath = v
	}
	if v := os.Getenv("STARSTEP_OUTPUT"); v != "" {
		cfg.Engine.OutputDir = v
	}
	if v := os.Getenv("STARSTEP_DB"); v != "" {
		cfg.Paths.DatabasePath = v
	}
	if v := os.Getenv("STARSTEP_FRAME_SIZE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.Engine.DefaultFrameSize = n
		}
	}
}

func defaultConfig() *Config {
	return &Config{
		Engine: Engine{
			InstructionsPath: "./steps.yaml",
			OutputDir:        "./output",
			Registration:     true,
			Integration:      true,
			DefaultFrameSize: defaultFrameSize,
			Timeline:         true,
		},
		Logging: Logging{
			Level:      "info",
			Format:     "text",
			FileOutput: true,
			LogDir:     "./logs",
		},
		Paths: Paths{
			DefaultInput: ".",
			MastersDir:   "./masters",
			DatabasePath: filepath.Join(os.TempDir(), "starstep.db"),
		},
		Server: Server{
			HTTPAddr: ":8080",
			GRPCAddr: ":9090",
		},
	}
}

func expandUser(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	if path == "~" {
		return home, nil
	}

	return filepath.Join(home, path[2:]), nil
}
