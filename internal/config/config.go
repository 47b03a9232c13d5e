package config

import "time"

// Config represents the main application configuration.
type Config struct {
	API     APIConfig     `yaml:"api"`
	Model   ModelConfig   `yaml:"model"`
	Skills  SkillsConfig  `yaml:"skills"`
	MCP     MCPConfig     `yaml:"mcp"`
	Command CommandConfig `yaml:"command"`
	Logging LoggingConfig `yaml:"logging"`

	// Runtime version information, not persisted.
	Version string `yaml:"-"`
}

// APIConfig holds model-provider settings.
type APIConfig struct {
	APIKey  string `yaml:"api_key,omitempty"`
	BaseURL string `yaml:"base_url,omitempty"`

	// Ollama server URL for the local provider (default: http://localhost:11434).
	OllamaBaseURL string `yaml:"ollama_base_url,omitempty"`

	// Active provider: "anthropic" or "ollama" (default: anthropic).
	ActiveProvider string `yaml:"active_provider"`

	Retry RetryConfig `yaml:"retry"`
}

// RetryConfig controls provider retry behaviour.
type RetryConfig struct {
	MaxRetries   int           `yaml:"max_retries"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	HTTPTimeout  time.Duration `yaml:"http_timeout"`
}

// ModelConfig holds model selection and generation limits.
type ModelConfig struct {
	Name            string `yaml:"name"`
	MaxOutputTokens int32  `yaml:"max_output_tokens"`
}

// SkillsConfig holds skill discovery settings.
type SkillsConfig struct {
	// Dir is the directory scanned for skill bundles. Empty means
	// <config dir>/skills.
	Dir string `yaml:"dir,omitempty"`

	// Watch enables live reload when skill files change.
	Watch bool `yaml:"watch"`
}

// MCPServerConfig describes one external tool server.
type MCPServerConfig struct {
	Name    string            `yaml:"name"`
	Command string            `yaml:"command"`
	Args    []string          `yaml:"args,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"`
	Enabled bool              `yaml:"enabled"`
}

// MCPConfig holds external tool-server settings.
type MCPConfig struct {
	Servers []MCPServerConfig `yaml:"servers,omitempty"`
}

// CommandConfig controls shell command execution.
type CommandConfig struct {
	Timeout time.Duration `yaml:"timeout"`
	Shell   string        `yaml:"shell,omitempty"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level   string `yaml:"level"`
	ToFile  bool   `yaml:"to_file"`
}

// DefaultConfig returns the configuration defaults.
func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			ActiveProvider: "anthropic",
			OllamaBaseURL:  "http://localhost:11434",
			Retry: RetryConfig{
				MaxRetries:   3,
				InitialDelay: time.Second,
				HTTPTimeout:  120 * time.Second,
			},
		},
		Model: ModelConfig{
			Name:            "claude-sonnet-4-5",
			MaxOutputTokens: 8192,
		},
		Skills: SkillsConfig{
			Watch: true,
		},
		Command: CommandConfig{
			Timeout: 2 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			ToFile: true,
		},
	}
}
