package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the configuration of the repquest HTTP service.
type Config struct {
	Server     ServerConfig    `yaml:"server"`
	Database   DatabaseConfig  `yaml:"database"`
	Auth       AuthConfig      `yaml:"auth"`
	Tailscale  TailscaleConfig `yaml:"tailscale"`
	Gemini     GeminiConfig    `yaml:"gemini"`
	OpenAI     OpenAIConfig    `yaml:"openai"`
	Coach      CoachConfig     `yaml:"coach"`
	Analysis   AnalysisConfig  `yaml:"analysis"`
	Decay      DecayConfig     `yaml:"decay"`
	Migrations string          `yaml:"migrations"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
}

// AuthConfig maps bearer tokens to subject ids.
type AuthConfig struct {
	Tokens map[string]string `yaml:"tokens"`
}

type TailscaleConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Hostname string `yaml:"hostname"`
	StateDir string `yaml:"state_dir"`
}

type GeminiConfig struct {
	APIKey     string `yaml:"api_key"`
	CoachModel string `yaml:"coach_model"`
}

type OpenAIConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// CoachConfig selects the coaching text backend: gemini, openai or none.
type CoachConfig struct {
	Provider string `yaml:"provider"`
}

type AnalysisConfig struct {
	MaxBytes       int64         `yaml:"max_bytes"`
	InlineMaxBytes int64         `yaml:"inline_max_bytes"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	PollAttempts   int           `yaml:"poll_attempts"`
	Models         []string      `yaml:"models"`
}

type DecayConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Schedule string `yaml:"schedule"`
}

// DSN returns a PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	sslmode := d.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, sslmode)
}

// Load reads config from a YAML file, then applies environment variable overrides.
// Env vars use the prefix REPQUEST_ and underscore-separated paths:
//
//	REPQUEST_SERVER_HOST, REPQUEST_SERVER_PORT,
//	REPQUEST_DB_HOST, REPQUEST_DB_PORT, REPQUEST_DB_NAME,
//	REPQUEST_DB_USER, REPQUEST_DB_PASSWORD, REPQUEST_DB_SSLMODE,
//	REPQUEST_AUTH_TOKENS (token=subject pairs, comma separated),
//	REPQUEST_TAILSCALE_ENABLED, REPQUEST_GEMINI_API_KEY, REPQUEST_OPENAI_API_KEY,
//	REPQUEST_COACH_PROVIDER, REPQUEST_DECAY_SCHEDULE
//
// GEMINI_API_KEY and OPENAI_API_KEY are honoured when the prefixed
// variables are unset.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("REPQUEST_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("REPQUEST_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("REPQUEST_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("REPQUEST_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("REPQUEST_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("REPQUEST_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("REPQUEST_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("REPQUEST_DB_SSLMODE"); v != "" {
		cfg.Database.SSLMode = v
	}
	if v := os.Getenv("REPQUEST_AUTH_TOKENS"); v != "" {
		cfg.Auth.Tokens = parseTokens(v)
	}
	if v := os.Getenv("REPQUEST_TAILSCALE_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Tailscale.Enabled = b
		}
	}
	if v := firstEnv("REPQUEST_GEMINI_API_KEY", "GEMINI_API_KEY"); v != "" {
		cfg.Gemini.APIKey = v
	}
	if v := firstEnv("REPQUEST_OPENAI_API_KEY", "OPENAI_API_KEY"); v != "" {
		cfg.OpenAI.APIKey = v
	}
	if v := os.Getenv("REPQUEST_COACH_PROVIDER"); v != "" {
		cfg.Coach.Provider = v
	}
	if v := os.Getenv("REPQUEST_DECAY_SCHEDULE"); v != "" {
		cfg.Decay.Schedule = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Coach.Provider == "" {
		cfg.Coach.Provider = "gemini"
	}
	if cfg.Tailscale.Hostname == "" {
		cfg.Tailscale.Hostname = "repquest"
	}
	if cfg.Migrations == "" {
		cfg.Migrations = "migrations"
	}
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

// parseTokens reads "token=subject" pairs separated by commas.
func parseTokens(s string) map[string]string {
	tokens := map[string]string{}
	for _, pair := range strings.Split(s, ",") {
		tok, subject, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || tok == "" || subject == "" {
			continue
		}
		tokens[tok] = subject
	}
	return tokens
}

func (c *Config) validate() error {
	if c.Server.Port == 0 && !c.Tailscale.Enabled {
		return fmt.Errorf("server.port is required")
	}
	if c.Database.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if c.Database.Port == 0 {
		return fmt.Errorf("database.port is required")
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database.name is required")
	}
	if c.Database.User == "" {
		return fmt.Errorf("database.user is required")
	}
	if len(c.Auth.Tokens) == 0 && !c.Tailscale.Enabled {
		return fmt.Errorf("auth.tokens is required unless tailscale is enabled")
	}
	switch c.Coach.Provider {
	case "gemini", "none":
	case "openai":
		if c.OpenAI.APIKey == "" {
			return fmt.Errorf("openai.api_key is required for coach.provider openai")
		}
	default:
		return fmt.Errorf("coach.provider %q must be gemini, openai or none", c.Coach.Provider)
	}
	if c.Analysis.InlineMaxBytes > 0 && c.Analysis.MaxBytes > 0 && c.Analysis.InlineMaxBytes > c.Analysis.MaxBytes {
		return fmt.Errorf("analysis.inline_max_bytes exceeds analysis.max_bytes")
	}
	return nil
}
