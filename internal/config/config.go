package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"       validate:"required"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Task         TaskConfig         `mapstructure:"task"         validate:"required"`
	Conversation ConversationConfig `mapstructure:"conversation" validate:"required"`
	LLM          LLMConfig          `mapstructure:"llm"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port"      validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// DatabaseConfig contains all database-related configuration settings.
// An empty URL selects the in-memory stores; task records then survive only
// for the lifetime of the process.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"omitempty,url"`
}

// TaskConfig tunes the task engine. Retry and timeout values are
// configuration rather than fixed constants.
type TaskConfig struct {
	// WorkerCount determines how many concurrent workers process tasks.
	WorkerCount int `mapstructure:"worker_count" validate:"required,gte=1"`

	// QueueSize is the initial per-lane capacity of the in-memory queue.
	QueueSize int `mapstructure:"queue_size" validate:"required,gte=1"`

	// MaxAttempts bounds transient-failure retries per task.
	MaxAttempts int `mapstructure:"max_attempts" validate:"required,gte=1"`

	// BackoffBase and BackoffCap shape the jittered exponential retry delay.
	BackoffBase time.Duration `mapstructure:"backoff_base" validate:"required,gt=0"`
	BackoffCap  time.Duration `mapstructure:"backoff_cap"  validate:"required,gt=0"`

	// SoftTimeout is logged when exceeded; HardTimeout aborts the execution
	// and is accounted as a transient failure.
	SoftTimeout time.Duration `mapstructure:"soft_timeout" validate:"required,gt=0"`
	HardTimeout time.Duration `mapstructure:"hard_timeout" validate:"required,gt=0,gtefield=SoftTimeout"`

	// LeaseDuration bounds conversation lock ownership so crashed workers
	// cannot wedge a conversation forever.
	LeaseDuration time.Duration `mapstructure:"lease_duration" validate:"required,gt=0"`

	// Retention controls how long terminal task records are kept before the
	// orchestrator prunes them, and how often the prune runs.
	Retention     time.Duration `mapstructure:"retention"      validate:"required,gt=0"`
	PruneInterval time.Duration `mapstructure:"prune_interval" validate:"required,gt=0"`
}

// ConversationConfig tunes the conversation state machine.
type ConversationConfig struct {
	// DisengagedThreshold is the number of consecutive disengaged outcomes
	// after which a conversation is abandoned.
	DisengagedThreshold int `mapstructure:"disengaged_threshold" validate:"required,gte=1"`
}

// LLMConfig contains all LLM integration related settings. An empty API key
// disables the Gemini executor; the caller must then supply its own.
type LLMConfig struct {
	GeminiAPIKey string `mapstructure:"gemini_api_key"`
	ModelName    string `mapstructure:"model_name"`
}

// Default returns a Config populated with the defaults applied by Load.
// Useful for tests and for constructing engines without the loader.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:     8080,
			LogLevel: "info",
		},
		Task: TaskConfig{
			WorkerCount:   4,
			QueueSize:     256,
			MaxAttempts:   3,
			BackoffBase:   500 * time.Millisecond,
			BackoffCap:    30 * time.Second,
			SoftTimeout:   240 * time.Second,
			HardTimeout:   300 * time.Second,
			LeaseDuration: 5 * time.Minute,
			Retention:     24 * time.Hour,
			PruneInterval: time.Hour,
		},
		Conversation: ConversationConfig{
			DisengagedThreshold: 3,
		},
		LLM: LLMConfig{
			ModelName: "gemini-2.0-flash",
		},
	}
}
