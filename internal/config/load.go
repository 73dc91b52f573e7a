package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Load configuration from environment variables and optionally a config file.
// Environment variables (ENGAGE_ prefix) take precedence over values from
// config files. Returns a populated Config struct or an error if
// loading/validation fails.
func Load() (*Config, error) {
	return LoadWithFile("")
}

// LoadWithFile is Load with an explicit config file path, used by tests to
// avoid depending on the working directory.
func LoadWithFile(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigType("yaml")
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; everything can come from env.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && configPath != "" {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Configure environment variables
	v.SetEnvPrefix("ENGAGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicitly bind critical environment variables
	bindEnvs := []struct {
		key    string
		envVar string
	}{
		{"server.port", "ENGAGE_SERVER_PORT"},
		{"server.log_level", "ENGAGE_SERVER_LOG_LEVEL"},
		{"database.url", "ENGAGE_DATABASE_URL"},
		{"llm.gemini_api_key", "ENGAGE_LLM_GEMINI_API_KEY"},
		{"llm.model_name", "ENGAGE_LLM_MODEL_NAME"},
		{"task.worker_count", "ENGAGE_TASK_WORKER_COUNT"},
		{"task.max_attempts", "ENGAGE_TASK_MAX_ATTEMPTS"},
	}

	for _, env := range bindEnvs {
		if err := v.BindEnv(env.key, env.envVar); err != nil {
			return nil, fmt.Errorf("error binding environment variable %s: %w", env.envVar, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the configuration against its validator tags.
func Validate(cfg *Config) error {
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("task.worker_count", 4)
	v.SetDefault("task.queue_size", 256)
	v.SetDefault("task.max_attempts", 3)
	v.SetDefault("task.backoff_base", 500*time.Millisecond)
	v.SetDefault("task.backoff_cap", 30*time.Second)
	v.SetDefault("task.soft_timeout", 240*time.Second)
	v.SetDefault("task.hard_timeout", 300*time.Second)
	v.SetDefault("task.lease_duration", 5*time.Minute)
	v.SetDefault("task.retention", 24*time.Hour)
	v.SetDefault("task.prune_interval", time.Hour)
	v.SetDefault("conversation.disengaged_threshold", 3)
	v.SetDefault("llm.model_name", "gemini-2.0-flash")
}
