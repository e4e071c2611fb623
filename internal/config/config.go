// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Checker CheckerConfig `mapstructure:"checker"`
	Extract ExtractConfig `mapstructure:"extract"`
	Suggest SuggestConfig `mapstructure:"suggest"`
	DB      DBConfig      `mapstructure:"db"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int `mapstructure:"port"`
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// CheckerConfig governs link verification behavior.
type CheckerConfig struct {
	Concurrency           int     `mapstructure:"concurrency"`
	ConnectTimeoutSeconds int     `mapstructure:"connect_timeout_seconds"`
	RequestTimeoutSeconds int     `mapstructure:"request_timeout_seconds"`
	MaxRedirects          int     `mapstructure:"max_redirects"`
	MaxRetries            int     `mapstructure:"max_retries"`
	UserAgent             string  `mapstructure:"user_agent"`
	PerHostRPS            float64 `mapstructure:"per_host_rps"`
	PerHostBurst          int     `mapstructure:"per_host_burst"`
}

// ExtractConfig selects which files are scanned for links.
type ExtractConfig struct {
	Extensions []string `mapstructure:"extensions"`
}

// SuggestConfig configures replacement-candidate probing.
type SuggestConfig struct {
	GitHubAPIBase string `mapstructure:"github_api_base"`
}

// DBConfig controls access to the relational database. An empty DSN selects
// the in-memory store.
type DBConfig struct {
	DSN             string `mapstructure:"dsn"`
	MaxConns        int32  `mapstructure:"max_conns"`
	MinConns        int32  `mapstructure:"min_conns"`
	ConnLifetimeMin int    `mapstructure:"conn_lifetime_minutes"`
}

// PubSubConfig holds metadata for completion-event publishing. Empty values
// disable the notifier.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LINKMEND")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.timeout_seconds", 60)
	v.SetDefault("checker.concurrency", 12)
	v.SetDefault("checker.connect_timeout_seconds", 5)
	v.SetDefault("checker.request_timeout_seconds", 10)
	v.SetDefault("checker.max_redirects", 10)
	v.SetDefault("checker.max_retries", 2)
	v.SetDefault("checker.user_agent", "linkmend/0.1")
	v.SetDefault("checker.per_host_rps", 4.0)
	v.SetDefault("checker.per_host_burst", 2)
	v.SetDefault("extract.extensions", []string{".md", ".html", ".htm", ".js", ".jsx", ".ts", ".tsx", ".txt"})
	v.SetDefault("suggest.github_api_base", "https://api.github.com")
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("db.conn_lifetime_minutes", 30)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.TimeoutSeconds <= 0 {
		return fmt.Errorf("server.timeout_seconds must be > 0")
	}
	if c.Checker.Concurrency <= 0 {
		return fmt.Errorf("checker.concurrency must be > 0")
	}
	if c.Checker.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("checker.request_timeout_seconds must be > 0")
	}
	if c.Checker.MaxRedirects <= 0 {
		return fmt.Errorf("checker.max_redirects must be > 0")
	}
	if c.Checker.MaxRetries < 0 {
		return fmt.Errorf("checker.max_retries must be >= 0")
	}
	if len(c.Extract.Extensions) == 0 {
		return fmt.Errorf("extract.extensions must not be empty")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set together")
	}
	return nil
}

// ServerTimeout converts the server timeout into a duration.
func (c Config) ServerTimeout() time.Duration {
	return time.Duration(c.Server.TimeoutSeconds) * time.Second
}
