// Package config loads server configuration from the environment, an
// optional .env file, and an optional grok-mcp.jsonc file.
//
// Priority order (lowest to highest): built-in defaults, grok-mcp.jsonc,
// .env, process environment.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/tidwall/jsonc"
)

// Config holds all server configuration.
type Config struct {
	// APIKey is the xAI API key. Required to serve.
	APIKey string `json:"apiKey"`
	// BaseURL is the chat-completions endpoint.
	BaseURL string `json:"baseUrl"`
	// Model is the default model for ask and discuss.
	Model string `json:"model"`
	// Temperature is the default sampling temperature.
	Temperature float64 `json:"temperature"`

	// StoragePath is the directory holding one JSON file per session.
	StoragePath string `json:"storagePath"`
	// LogFile is the log sink; stdout carries the MCP stream.
	LogFile string `json:"logFile"`
	// LogLevel is one of DEBUG|INFO|WARN|ERROR.
	LogLevel string `json:"logLevel"`

	// MaxResidentSessions bounds the in-memory session cache.
	MaxResidentSessions int `json:"maxResidentSessions"`
	// CheckpointInterval is the period of the per-session checkpoint task.
	CheckpointInterval time.Duration `json:"-"`
	// InactivityTimeout evicts idle non-active resident sessions.
	InactivityTimeout time.Duration `json:"-"`
	// RetentionMaxAge deletes stored sessions older than this.
	RetentionMaxAge time.Duration `json:"-"`
	// CleanupSchedule is a cron spec for the retention janitor.
	CleanupSchedule string `json:"cleanupSchedule"`

	// Repair configures the legacy-record repair policy.
	Repair RepairConfig `json:"repair"`

	// JSON-friendly mirrors of the duration fields.
	CheckpointIntervalSeconds int     `json:"checkpointIntervalSeconds"`
	InactivityTimeoutHours    float64 `json:"inactivityTimeoutHours"`
	RetentionDays             int     `json:"retentionDays"`
}

// RepairConfig is the policy for filling missing pagination fields on
// legacy session records. The marker match is best-effort inference of a
// large-context discussion from the topic string, not a guarantee.
type RepairConfig struct {
	DefaultModel        string   `json:"defaultModel"`
	DefaultContextLines int      `json:"defaultContextLines"`
	LargeContextModel   string   `json:"largeContextModel"`
	LargeContextLines   int      `json:"largeContextLines"`
	LargeContextMarkers []string `json:"largeContextMarkers"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		BaseURL:             "https://api.x.ai/v1",
		Model:               "grok-4-fast-reasoning",
		Temperature:         0.7,
		StoragePath:         "./grok_discussions",
		LogFile:             "grok-mcp.log",
		LogLevel:            "INFO",
		MaxResidentSessions: 100,
		CheckpointInterval:  60 * time.Second,
		InactivityTimeout:   2 * time.Hour,
		RetentionMaxAge:     30 * 24 * time.Hour,
		CleanupSchedule:     "@hourly",
		Repair: RepairConfig{
			DefaultModel:        "grok-code-fast",
			DefaultContextLines: 180000,
			LargeContextModel:   "grok-4-fast-reasoning",
			LargeContextLines:   1800000,
			LargeContextMarkers: []string{"VSO"},
		},
	}
}

// Load builds the configuration for the given working directory.
func Load(dir string) (*Config, error) {
	cfg := Default()

	// .env is optional; missing files are not an error.
	if dir != "" {
		_ = godotenv.Load(filepath.Join(dir, ".env"))
	} else {
		_ = godotenv.Load()
	}

	if err := loadFile(filepath.Join(dir, "grok-mcp.jsonc"), cfg); err != nil {
		return nil, err
	}
	if err := loadFile(filepath.Join(dir, "grok-mcp.json"), cfg); err != nil {
		return nil, err
	}

	applyEnv(cfg)
	cfg.normalize()

	return cfg, nil
}

// loadFile merges a JSONC config file into cfg. A missing file is skipped.
func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}

	data = jsonc.ToJSON(data)
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return nil
}

// applyEnv applies environment variable overrides (highest priority).
func applyEnv(cfg *Config) {
	if v := os.Getenv("XAI_API_KEY"); v != "" {
		cfg.APIKey = v
	}
	if v := os.Getenv("XAI_BASE_URL"); v != "" {
		cfg.BaseURL = v
	}
	if v := os.Getenv("GROK_MODEL"); v != "" {
		cfg.Model = v
	}
	if v := os.Getenv("GROK_TEMPERATURE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Temperature = f
		}
	}
	if v := os.Getenv("GROK_STORAGE_PATH"); v != "" {
		cfg.StoragePath = v
	}
	if v := os.Getenv("GROK_LOG_FILE"); v != "" {
		cfg.LogFile = v
	}
	if v := os.Getenv("GROK_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("MAX_ACTIVE_SESSIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxResidentSessions = n
		}
	}
	if v := os.Getenv("CHECKPOINT_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.CheckpointInterval = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("SESSION_INACTIVITY_TIMEOUT_HOURS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.InactivityTimeout = time.Duration(f * float64(time.Hour))
		}
	}
	if v := os.Getenv("SESSION_RETENTION_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RetentionMaxAge = time.Duration(n) * 24 * time.Hour
		}
	}
	if v := os.Getenv("GROK_CLEANUP_SCHEDULE"); v != "" {
		cfg.CleanupSchedule = v
	}
	if v := os.Getenv("GROK_LARGE_CONTEXT_MARKERS"); v != "" {
		markers := strings.Split(v, ",")
		for i := range markers {
			markers[i] = strings.TrimSpace(markers[i])
		}
		cfg.Repair.LargeContextMarkers = markers
	}
}

// normalize reconciles the JSON mirror fields with the duration fields.
func (c *Config) normalize() {
	if c.CheckpointIntervalSeconds > 0 {
		c.CheckpointInterval = time.Duration(c.CheckpointIntervalSeconds) * time.Second
	}
	if c.InactivityTimeoutHours > 0 {
		c.InactivityTimeout = time.Duration(c.InactivityTimeoutHours * float64(time.Hour))
	}
	if c.RetentionDays > 0 {
		c.RetentionMaxAge = time.Duration(c.RetentionDays) * 24 * time.Hour
	}
	c.CheckpointIntervalSeconds = int(c.CheckpointInterval / time.Second)
	c.InactivityTimeoutHours = c.InactivityTimeout.Hours()
	c.RetentionDays = int(c.RetentionMaxAge / (24 * time.Hour))
}

// Validate checks that required fields are present for serving.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("XAI_API_KEY not set")
	}
	if c.MaxResidentSessions <= 0 {
		return fmt.Errorf("maxResidentSessions must be positive")
	}
	return nil
}
