package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"videoupscaler/internal/logging"
	"videoupscaler/internal/state"
)

// Config holds the runtime configuration of the upscaler.
//
// Environment Variables:
// Tools:
// - VSR_FFMPEG: decoding/encoding tool (default: ffmpeg)
// - VSR_FFPROBE: probing tool (default: ffprobe)
// - VSR_UPSCALER: per-frame upscaling tool (default: waifu2x-ncnn-vulkan)
// - VSR_MODELS_DIR: directory holding one folder per model (default: ~/.upscaler_models)
//
// Job:
// - VSR_WORK_DIR: working directory for state and temp files (default: .)
// - VSR_WORKERS: concurrent upscaler processes per chunk (default: 1)
// - VSR_STATE_BACKEND: file or sqlite (default: file)
//
// Logging:
// - VSR_LOG_LEVEL: debug, info, warn or error (default: info)
// - VSR_LOG_FILE: append log lines to this file (optional)
// - VSR_VERBOSE: show tool output on the terminal (default: false)
type Config struct {
	Tools ToolsConfig `json:"tools"`
	Job   JobConfig   `json:"job"`
	Log   LogConfig   `json:"log"`
}

type ToolsConfig struct {
	FFmpeg    string `json:"ffmpeg"`
	FFprobe   string `json:"ffprobe"`
	Upscaler  string `json:"upscaler"`
	ModelsDir string `json:"models_dir"`
}

type JobConfig struct {
	WorkDir      string `json:"work_dir"`
	Workers      int    `json:"workers"`
	StateBackend string `json:"state_backend"`
}

type LogConfig struct {
	Level   string `json:"level"`
	File    string `json:"file"`
	Verbose bool   `json:"verbose"`
}

// Option is a function type for configuring Config
type Option func(*Config)

func WithWorkDir(dir string) Option {
	return func(c *Config) { c.Job.WorkDir = dir }
}

func WithWorkers(n int) Option {
	return func(c *Config) { c.Job.Workers = n }
}

func WithStateBackend(backend string) Option {
	return func(c *Config) { c.Job.StateBackend = backend }
}

func WithVerbose(v bool) Option {
	return func(c *Config) { c.Log.Verbose = v }
}

// LoadDotEnv loads variables from path into the environment without
// overriding ones already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// NewFromEnv creates a Config from environment variables, then applies opts.
func NewFromEnv(opts ...Option) (*Config, error) {
	config := &Config{
		Tools: ToolsConfig{
			FFmpeg:    getEnvString("VSR_FFMPEG", "ffmpeg"),
			FFprobe:   getEnvString("VSR_FFPROBE", "ffprobe"),
			Upscaler:  getEnvString("VSR_UPSCALER", "waifu2x-ncnn-vulkan"),
			ModelsDir: expandHome(getEnvString("VSR_MODELS_DIR", "~/.upscaler_models")),
		},
		Job: JobConfig{
			WorkDir:      expandHome(getEnvString("VSR_WORK_DIR", ".")),
			Workers:      getEnvInt("VSR_WORKERS", 1),
			StateBackend: getEnvString("VSR_STATE_BACKEND", state.BackendFile),
		},
		Log: LogConfig{
			Level:   getEnvString("VSR_LOG_LEVEL", "info"),
			File:    expandHome(getEnvString("VSR_LOG_FILE", "")),
			Verbose: getEnvBool("VSR_VERBOSE", false),
		},
	}

	for _, opt := range opts {
		opt(config)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) validate() error {
	if c.Job.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Job.Workers)
	}
	switch c.Job.StateBackend {
	case state.BackendFile, state.BackendSQLite:
	default:
		return fmt.Errorf("state backend must be %s or %s, got %q", state.BackendFile, state.BackendSQLite, c.Job.StateBackend)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	if c.Tools.Upscaler == "" {
		return errors.New("VSR_UPSCALER must not be empty")
	}
	return nil
}

// LogLevel returns the parsed log level; debug when verbose.
func (c *Config) LogLevel() logging.Level {
	if c.Log.Verbose {
		return logging.LevelDebug
	}
	level, _ := logging.ParseLevel(c.Log.Level)
	return level
}

// getEnvString gets a string value from environment variables with default
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer value from environment variables with default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
