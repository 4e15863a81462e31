package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPort                 = 5000
	DefaultBaseURL              = "https://api.anthropic.com/v1"
	DefaultAPIVersion           = "2023-06-01"
	DefaultModel                = "claude-sonnet-4-20250514"
	DefaultMaxTokens            = 2000
	DefaultTimeoutSeconds       = 45
	DefaultHealthTimeoutSeconds = 10
)

// ErrMissingAPIKey is returned when no Anthropic credential is configured.
var ErrMissingAPIKey = errors.New("ANTHROPIC_API_KEY environment variable is required")

// Config is everything the gateway needs at startup.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Anthropic AnthropicConfig `yaml:"anthropic"`
	Log       LogConfig       `yaml:"log"`
	Alerting  AlertingConfig  `yaml:"alerting"`
}

// AlertingConfig routes severe task failures to operators.
type AlertingConfig struct {
	WebhookURL string `yaml:"webhook_url"`
	Threshold  string `yaml:"threshold"`
}

// ServerConfig controls the listener.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// AnthropicConfig describes the upstream Messages API.
type AnthropicConfig struct {
	APIKey               string `yaml:"api_key"`
	BaseURL              string `yaml:"base_url"`
	APIVersion           string `yaml:"api_version"`
	Model                string `yaml:"model"`
	MaxTokens            int    `yaml:"max_tokens"`
	TimeoutSeconds       int    `yaml:"timeout_seconds"`
	HealthTimeoutSeconds int    `yaml:"health_timeout_seconds"`
}

// LogConfig mirrors logger.Config in file form.
type LogConfig struct {
	Level   string   `yaml:"level"`
	Format  string   `yaml:"format"`
	Outputs []string `yaml:"outputs"`
	Audit   struct {
		Path       string `yaml:"path"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
	} `yaml:"audit"`
}

// Timeout is the bound on one task dispatch.
func (c AnthropicConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// HealthTimeout is the bound on the health probe.
func (c AnthropicConfig) HealthTimeout() time.Duration {
	return time.Duration(c.HealthTimeoutSeconds) * time.Second
}

// Address is the listen address handed to net/http.
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Load builds the configuration from, in increasing precedence: defaults,
// the optional YAML file at path, .env files in the working directory, and
// the process environment. It does not validate; call Validate before serving.
func Load(path string) (*Config, error) {
	return load(path, ".")
}

func load(path, envDir string) (*Config, error) {
	var cfg Config
	if strings.TrimSpace(path) != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(content, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	loadEnvFiles(envDir)

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// loadEnvFiles reads .env and then .env.<APP_ENV>. Neither file is required.
// Values already present in the environment are not replaced by .env, but
// the APP_ENV-specific file overrides both.
func loadEnvFiles(dir string) {
	_ = godotenv.Load(filepath.Join(dir, ".env"))

	appEnv := strings.TrimSpace(os.Getenv("APP_ENV"))
	if appEnv == "" {
		return
	}
	_ = godotenv.Overload(filepath.Join(dir, ".env."+appEnv))
}

func (c *Config) applyEnv() error {
	if v, ok := lookup("ANTHROPIC_API_KEY"); ok {
		c.Anthropic.APIKey = v
	}
	if v, ok := lookup("ANTHROPIC_BASE_URL"); ok {
		c.Anthropic.BaseURL = v
	}
	if v, ok := lookup("ANTHROPIC_MODEL"); ok {
		c.Anthropic.Model = v
	}
	if v, ok := lookup("HOST"); ok {
		c.Server.Host = v
	}
	if v, ok := lookup("PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", v, err)
		}
		c.Server.Port = port
	}
	if v, ok := lookup("LOG_LEVEL"); ok {
		c.Log.Level = v
	}
	if v, ok := lookup("LOG_FORMAT"); ok {
		c.Log.Format = v
	}
	if v, ok := lookup("AUDIT_LOG_PATH"); ok {
		c.Log.Audit.Path = v
	}
	if v, ok := lookup("ALERT_WEBHOOK_URL"); ok {
		c.Alerting.WebhookURL = v
	}
	if v, ok := lookup("ALERT_THRESHOLD"); ok {
		c.Alerting.Threshold = v
	}
	return nil
}

// applyDefaults fills in anything left empty by the file and environment.
func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}
	if c.Anthropic.BaseURL == "" {
		c.Anthropic.BaseURL = DefaultBaseURL
	}
	c.Anthropic.BaseURL = strings.TrimRight(c.Anthropic.BaseURL, "/")
	if c.Anthropic.APIVersion == "" {
		c.Anthropic.APIVersion = DefaultAPIVersion
	}
	if c.Anthropic.Model == "" {
		c.Anthropic.Model = DefaultModel
	}
	if c.Anthropic.MaxTokens <= 0 {
		c.Anthropic.MaxTokens = DefaultMaxTokens
	}
	if c.Anthropic.TimeoutSeconds <= 0 {
		c.Anthropic.TimeoutSeconds = DefaultTimeoutSeconds
	}
	if c.Anthropic.HealthTimeoutSeconds <= 0 {
		c.Anthropic.HealthTimeoutSeconds = DefaultHealthTimeoutSeconds
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Alerting.Threshold == "" {
		c.Alerting.Threshold = "critical"
	}
	c.Alerting.Threshold = strings.ToLower(c.Alerting.Threshold)
}

// Validate reports configuration that must stop the process from starting.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Anthropic.APIKey) == "" {
		return ErrMissingAPIKey
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Server.Port)
	}
	switch c.Alerting.Threshold {
	case "info", "warning", "critical":
	default:
		return fmt.Errorf("invalid alerting threshold %q", c.Alerting.Threshold)
	}
	return nil
}

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}
