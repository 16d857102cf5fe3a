// Package config provides application configuration with multi-source priority.
//
// Sources (highest to lowest priority):
//  1. Environment variables
//  2. Config file (~/.tide/config.yaml or ./config.yaml)
//  3. Defaults
//
// A handful of externally-dictated variables keep their historical unprefixed
// names (GEMINI_API_KEYS, DEVELOPER_USERNAME, DEVELOPER_PASSWORD,
// DATABASE_URL, PORT, APP_ENV); everything else is overridable under the
// TIDE_ prefix.
//
// Security: secrets (API keys, passwords, database URL) are masked in
// MarshalJSON so a logged config never leaks them.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Defaults.
const (
	DefaultPort        = 3000
	DefaultEnvironment = "development"
	DefaultModel       = "gemini-2.0-flash"
	DefaultRateBurst   = 60

	// DefaultUserPrompt is the system prompt for regular accounts.
	// Prompt text is configuration, not logic; override via config file or
	// TIDE_USER_PROMPT.
	DefaultUserPrompt = "You are Tide, an assistant for full-stack web development and game scripting. " +
		"Help users turn their ideas into working websites and game scripts. " +
		"Answer clearly and include complete, runnable code where it helps."

	// DefaultDeveloperPrompt is the system prompt for developer accounts.
	DefaultDeveloperPrompt = "You are Tide in developer mode. " +
		"Assume a technically expert audience: skip introductory caveats, be terse, " +
		"and go deep on implementation detail, debugging, and internals."
)

// Config stores application configuration.
// When adding sensitive fields, update MarshalJSON.
type Config struct {
	// Server
	Port        int      `mapstructure:"port" json:"port"`
	Environment string   `mapstructure:"environment" json:"environment"`
	CORSOrigins []string `mapstructure:"cors_origins" json:"cors_origins"`
	TrustProxy  bool     `mapstructure:"trust_proxy" json:"trust_proxy"`
	RateBurst   int      `mapstructure:"rate_burst" json:"rate_burst"`

	// Gemini relay
	GeminiAPIKeys   string `mapstructure:"gemini_api_keys" json:"gemini_api_keys"`
	Model           string `mapstructure:"model" json:"model"`
	UserPrompt      string `mapstructure:"user_prompt" json:"user_prompt"`
	DeveloperPrompt string `mapstructure:"developer_prompt" json:"developer_prompt"`

	// Privileged account shortcut
	DeveloperUsername string `mapstructure:"developer_username" json:"developer_username"`
	DeveloperPassword string `mapstructure:"developer_password" json:"developer_password"`

	// Storage (empty = memory-only auth, no chat persistence)
	DatabaseURL string `mapstructure:"database_url" json:"database_url"`

	// Observability (empty endpoint = tracing disabled)
	OTLPEndpoint string `mapstructure:"otlp_endpoint" json:"otlp_endpoint"`
	ServiceName  string `mapstructure:"service_name" json:"service_name"`

	// Logging
	LogLevel string `mapstructure:"log_level" json:"log_level"`
	LogJSON  bool   `mapstructure:"log_json" json:"log_json"`
}

// Load reads configuration from defaults, an optional config file, and the
// environment.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// Optional config file: ~/.tide/config.yaml, then working directory.
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".tide"))
	}
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	// TIDE_-prefixed overrides for every key.
	v.SetEnvPrefix("TIDE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Historical unprefixed names take precedence when set.
	bindLegacyEnv(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", DefaultPort)
	v.SetDefault("environment", DefaultEnvironment)
	v.SetDefault("cors_origins", []string{})
	v.SetDefault("trust_proxy", false)
	v.SetDefault("rate_burst", DefaultRateBurst)
	v.SetDefault("model", DefaultModel)
	v.SetDefault("user_prompt", DefaultUserPrompt)
	v.SetDefault("developer_prompt", DefaultDeveloperPrompt)
	v.SetDefault("service_name", "tide")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", false)
}

// bindLegacyEnv wires the unprefixed variable names tide inherited from its
// deployment environment.
func bindLegacyEnv(v *viper.Viper) {
	_ = v.BindEnv("gemini_api_keys", "GEMINI_API_KEYS")
	_ = v.BindEnv("developer_username", "DEVELOPER_USERNAME")
	_ = v.BindEnv("developer_password", "DEVELOPER_PASSWORD")
	_ = v.BindEnv("database_url", "DATABASE_URL")
	_ = v.BindEnv("port", "PORT")
	_ = v.BindEnv("environment", "APP_ENV")
}

// IsDev reports whether the runtime environment label is a development one.
func (c *Config) IsDev() bool {
	return c.Environment != "production"
}

// MarshalJSON masks sensitive fields so configs can be logged safely.
func (c *Config) MarshalJSON() ([]byte, error) {
	type alias Config // avoid recursion
	masked := alias(*c)

	if masked.GeminiAPIKeys != "" {
		masked.GeminiAPIKeys = "***"
	}
	if masked.DeveloperPassword != "" {
		masked.DeveloperPassword = "***"
	}
	if masked.DatabaseURL != "" {
		masked.DatabaseURL = "***"
	}

	b, err := json.Marshal(masked)
	if err != nil {
		return nil, fmt.Errorf("marshaling config: %w", err)
	}
	return b, nil
}
