package config

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"   validate:"required"`
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	Worker   WorkerConfig   `mapstructure:"worker"   validate:"required"`
	LLM      LLMConfig      `mapstructure:"llm"`
}

// ServerConfig contains all HTTP server and logging related settings.
type ServerConfig struct {
	Port      int    `mapstructure:"port"       validate:"required,gt=0,lt=65536"`
	LogLevel  string `mapstructure:"log_level"  validate:"required,oneof=debug info warn error"`
	LogFormat string `mapstructure:"log_format" validate:"omitempty,oneof=json text"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"required"`
}

// WorkerConfig contains the background worker settings. Enabled gates worker
// startup entirely: a worker process started while disabled exits immediately
// with a configuration error.
type WorkerConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	IntervalSeconds int  `mapstructure:"interval_seconds" validate:"required,gt=0"`
	MaxTasks        int  `mapstructure:"max_tasks"        validate:"required,gt=0"`
	MaxAttempts     int  `mapstructure:"max_attempts"     validate:"required,gt=0"`

	// HealthPort is the port for the worker's /healthz and /metrics endpoints.
	// Zero disables the endpoint.
	HealthPort int `mapstructure:"health_port" validate:"gte=0,lt=65536"`
}

// LLMConfig contains the settings for the Gemini-backed generation handler.
// The group is optional; when the API key is absent the generation handler is
// simply not registered.
type LLMConfig struct {
	GeminiAPIKey string `mapstructure:"gemini_api_key"`
	ModelName    string `mapstructure:"model_name"`
}
