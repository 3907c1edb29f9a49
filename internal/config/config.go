package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
)

// Config is the top-level configuration structure.
type Config struct {
	Server   ServerConfig   `json:"server"`
	Database DatabaseConfig `json:"database"`
	Bridge   BridgeConfig   `json:"bridge"`
	Delivery DeliveryConfig `json:"delivery"`
	Notifier NotifierConfig `json:"notifier"`
}

type ServerConfig struct {
	Port     int    `json:"port"`
	LogLevel string `json:"log_level"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `json:"postgres"`
	Redis    RedisConfig    `json:"redis"`
}

type PostgresConfig struct {
	DSN string `json:"dsn"`
}

type RedisConfig struct {
	URL string `json:"url"`
}

// BridgeConfig controls the invocation bridge.
type BridgeConfig struct {
	BackendTimeoutSec int `json:"backend_timeout_sec"` // default 5
}

// DeliveryConfig controls the event delivery subsystem.
type DeliveryConfig struct {
	TimeoutSec       int `json:"timeout_sec"`       // per-POST timeout, default 5
	FailureThreshold int `json:"failure_threshold"` // consecutive failures before suspension, default 5
	Workers          int `json:"workers"`           // delivery pool size, default 10
}

type NotifierConfig struct {
	Slack   SlackNotifierConfig   `json:"slack"`
	Discord DiscordNotifierConfig `json:"discord"`
}

type SlackNotifierConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
	Channel  string `json:"channel"`
}

type DiscordNotifierConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
	Channel  string `json:"channel"`
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON config file and substitutes environment variable references.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	// Substitute ${VAR} and ${VAR:default} with environment values.
	resolved := envVarRe.ReplaceAllStringFunc(string(data), func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		name := parts[1]
		defaultVal := parts[2]
		if v := os.Getenv(name); v != "" {
			return v
		}
		return defaultVal
	})

	var cfg Config
	if err := json.Unmarshal([]byte(resolved), &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}
