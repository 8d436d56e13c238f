package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Load reads configuration from environment variables and an optional config
// file. Environment variables use the OTIUM_ prefix with underscores for
// nesting (e.g. OTIUM_DATABASE_URL, OTIUM_WORKER_MAX_TASKS) and take
// precedence over file values.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// Optional config file: ./config.yaml or /etc/otium/config.yaml.
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/otium")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No config file is fine; environment variables alone can configure
		// the application.
	}

	v.SetEnvPrefix("OTIUM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv does not cooperate with Unmarshal for keys that never
	// appear in a file, so bind every key we care about explicitly.
	for _, key := range []string{
		"server.port",
		"server.log_level",
		"server.log_format",
		"database.url",
		"worker.enabled",
		"worker.interval_seconds",
		"worker.max_tasks",
		"worker.max_attempts",
		"worker.health_port",
		"llm.gemini_api_key",
		"llm.model_name",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind environment variable for %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults registers the default value for every setting that has one.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.log_format", "json")
	v.SetDefault("worker.enabled", true)
	v.SetDefault("worker.interval_seconds", 10)
	v.SetDefault("worker.max_tasks", 5)
	v.SetDefault("worker.max_attempts", 3)
	v.SetDefault("worker.health_port", 0)
	v.SetDefault("llm.model_name", "gemini-2.0-flash")
}
