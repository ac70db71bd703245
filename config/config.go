/*
Package config handles configuration management for the deposit refund
service. Settings come from environment variables, optionally seeded from
a .env file in the given directory. Environment variables win.

KEYS:
  SERVER_PORT               HTTP port (8080)
  DB_PATH                   SQLite file, or ":memory:" (deposits.db)
  LOG_LEVEL                 zerolog level (info)
  LOG_FORMAT                json | console (json)
  CORS_ALLOWED_ORIGINS      comma-separated origins
  RABBITMQ_URL              empty disables event publishing
  DECISION_EVENTS_EXCHANGE  topic exchange for decision events
  REFUND_POLICY_FILE        JSON refund policy; empty uses the standard one
*/
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the service.
type Config struct {
	ServerPort             string `mapstructure:"SERVER_PORT"`
	DBPath                 string `mapstructure:"DB_PATH"`
	LogLevel               string `mapstructure:"LOG_LEVEL"`
	LogFormat              string `mapstructure:"LOG_FORMAT"`
	CORSAllowedOrigins     string `mapstructure:"CORS_ALLOWED_ORIGINS"`
	RabbitMQURL            string `mapstructure:"RABBITMQ_URL"`
	DecisionEventsExchange string `mapstructure:"DECISION_EVENTS_EXCHANGE"`
	RefundPolicyFile       string `mapstructure:"REFUND_POLICY_FILE"`
}

var keys = []string{
	"SERVER_PORT",
	"DB_PATH",
	"LOG_LEVEL",
	"LOG_FORMAT",
	"CORS_ALLOWED_ORIGINS",
	"RABBITMQ_URL",
	"DECISION_EVENTS_EXCHANGE",
	"REFUND_POLICY_FILE",
}

// LoadConfig reads configuration from the environment and an optional
// .env file under path. An empty path skips the file.
func LoadConfig(path string) (Config, error) {
	v := viper.New()

	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("DB_PATH", "deposits.db")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173")
	v.SetDefault("DECISION_EVENTS_EXCHANGE", "deposit_refund_events")

	if path != "" {
		v.AddConfigPath(path)
		v.SetConfigName(".env")
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	v.AutomaticEnv()
	// Bind environment variables explicitly to ensure they appear in Unmarshal
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values viper can't type-check.
func (c Config) Validate() error {
	if strings.TrimSpace(c.ServerPort) == "" {
		return errors.New("SERVER_PORT must not be empty")
	}
	if strings.TrimSpace(c.DBPath) == "" {
		return errors.New("DB_PATH must not be empty")
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel)); err != nil {
		return fmt.Errorf("LOG_LEVEL %q: %w", c.LogLevel, err)
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.LogFormat)
	}
	return nil
}

// AllowedOrigins splits CORS_ALLOWED_ORIGINS.
func (c Config) AllowedOrigins() []string {
	var out []string
	for _, o := range strings.Split(c.CORSAllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
