// Package config loads and validates the agent configuration from YAML,
// with environment fallbacks for secrets.
package config

import (
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/sagekit/sage/pkg/errors"
)

// Config is the complete configuration for the research agent.
type Config struct {
	LLM     LLMConfig     `yaml:"llm" validate:"required"`
	Memory  MemoryConfig  `yaml:"memory" validate:"required"`
	Tools   ToolsConfig   `yaml:"tools,omitempty"`
	Logging LoggingConfig `yaml:"logging,omitempty"`
}

// LLMConfig holds the language model settings used by the planner,
// executor, and summarizer.
type LLMConfig struct {
	Provider    string  `yaml:"provider" validate:"required,oneof=anthropic"`
	ModelID     string  `yaml:"model_id" validate:"required"`
	APIKey      string  `yaml:"api_key,omitempty"`
	MaxTokens   int     `yaml:"max_tokens" validate:"min=1"`
	Temperature float64 `yaml:"temperature" validate:"gte=0,lte=2"`
}

// MemoryConfig holds the mistake store and learning-loop settings.
type MemoryConfig struct {
	// Backend selects the durable store: "json" or "sqlite".
	Backend string `yaml:"backend" validate:"required,oneof=json sqlite"`
	Path    string `yaml:"path" validate:"required"`

	// PassThreshold is the minimum verdict score counted as success.
	PassThreshold float64 `yaml:"pass_threshold" validate:"gte=0,lte=1"`

	// RecurringThreshold is the frequency at which a mistake becomes a
	// projected constraint.
	RecurringThreshold int `yaml:"recurring_threshold" validate:"min=1"`

	// MaxMistakes caps how many distinct mistakes are retained.
	MaxMistakes int `yaml:"max_mistakes" validate:"min=1"`
}

// ToolsConfig holds web search and summarizer settings.
type ToolsConfig struct {
	MaxSearchResults int           `yaml:"max_search_results" validate:"min=1"`
	SummaryMaxLength int           `yaml:"summary_max_length" validate:"min=1"`
	SearchTimeout    time.Duration `yaml:"search_timeout"`
	FetchSnippets    bool          `yaml:"fetch_snippets"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=DEBUG INFO WARN ERROR FATAL"`
	Colors bool   `yaml:"colors"`
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider:    "anthropic",
			ModelID:     "claude-3-5-haiku-latest",
			MaxTokens:   2048,
			Temperature: 0.5,
		},
		Memory: MemoryConfig{
			Backend:            "json",
			Path:               "data/mistakes.json",
			PassThreshold:      0.66,
			RecurringThreshold: 2,
			MaxMistakes:        100,
		},
		Tools: ToolsConfig{
			MaxSearchResults: 5,
			SummaryMaxLength: 500,
			SearchTimeout:    15 * time.Second,
			FetchSnippets:    false,
		},
		Logging: LoggingConfig{
			Level:  "INFO",
			Colors: true,
		},
	}
}

// Load reads a YAML config file over the defaults and validates the
// result. A missing API key falls back to ANTHROPIC_API_KEY.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WithFields(
			errors.Wrap(err, errors.InvalidInput, "failed to read config file"),
			errors.Fields{"path": path},
		)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.WithFields(
			errors.Wrap(err, errors.InvalidInput, "failed to parse config file"),
			errors.Fields{"path": path},
		)
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault loads the file when path is non-empty, otherwise returns
// validated defaults with environment fallbacks applied.
func LoadOrDefault(path string) (*Config, error) {
	if path != "" {
		return Load(path)
	}
	cfg := Default()
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if c.LLM.APIKey == "" {
		c.LLM.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
}

// Validate checks the configuration against its struct tags.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return errors.Wrap(err, errors.ValidationFailed, "invalid configuration")
	}
	return nil
}
