package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/m4xw311/shellagent/errors"
	"gopkg.in/yaml.v3"
)

const dirName = ".shellagent"

// Protocol selects how planner turns are interpreted.
type Protocol string

const (
	ProtocolStructured Protocol = "structured"
	ProtocolFreeText   Protocol = "freetext"
)

const (
	DefaultLLM                = "anthropic"
	DefaultModel              = "claude-3-opus-20240229"
	DefaultMaxTokens          = 4000
	DefaultTemperature        = 0.5
	DefaultCommandTimeoutMS   = 10000
	DefaultMaxOutputChars     = 30000
	DefaultCompletionSentinel = "**TASK FINISHED**"
	DefaultSystemPrompt       = "You are an AI agent that can run shell commands to accomplish tasks."
)

type Config struct {
	LLMClient   string   `yaml:"llm"`
	Model       string   `yaml:"model"`
	Temperature *float64 `yaml:"temperature"`
	MaxTokens   int      `yaml:"max_tokens"`
	Protocol    Protocol `yaml:"protocol"`
	// CommandTimeoutMS bounds each shell command.
	CommandTimeoutMS int    `yaml:"command_timeout_ms"`
	Shell            string `yaml:"shell"`
	// MaxOutputChars caps stdout and stderr as shown to the planner.
	MaxOutputChars int `yaml:"max_output_chars"`
	// MaxTurns caps planner calls; zero means no cap.
	MaxTurns int `yaml:"max_turns"`
	// AckCompletion appends an acknowledgement observation for the
	// completion tool call before the loop ends.
	AckCompletion      bool   `yaml:"ack_completion"`
	CompletionSentinel string `yaml:"completion_sentinel"`
	SystemPrompt       string `yaml:"system_prompt"`
}

// Default returns the configuration used when no file sets a value.
func Default() *Config {
	temp := DefaultTemperature
	return &Config{
		LLMClient:          DefaultLLM,
		Model:              DefaultModel,
		Temperature:        &temp,
		MaxTokens:          DefaultMaxTokens,
		Protocol:           ProtocolStructured,
		CommandTimeoutMS:   DefaultCommandTimeoutMS,
		MaxOutputChars:     DefaultMaxOutputChars,
		CompletionSentinel: DefaultCompletionSentinel,
		SystemPrompt:       DefaultSystemPrompt,
	}
}

// LoadConfig loads configuration from the user's home directory and the current
// working directory, with the latter taking precedence. An explicit path, if
// given, is applied last.
func LoadConfig(explicitPath string) (*Config, error) {
	cfg := Default()

	home, err := os.UserHomeDir()
	if err == nil {
		userConfigPath := filepath.Join(home, dirName, "config.yaml")
		if _, err := os.Stat(userConfigPath); err == nil {
			if err := loadFromFile(userConfigPath, cfg); err != nil {
				return nil, errors.Wrapf(err, "error loading user config")
			}
		}
	}

	wd, err := os.Getwd()
	if err != nil {
		return nil, errors.Wrapf(err, "could not get working directory")
	}
	projectConfigPath := filepath.Join(wd, dirName, "config.yaml")
	if _, err := os.Stat(projectConfigPath); err == nil {
		if err := loadFromFile(projectConfigPath, cfg); err != nil {
			return nil, errors.Wrapf(err, "error loading project config")
		}
	}

	if explicitPath != "" {
		if err := loadFromFile(explicitPath, cfg); err != nil {
			return nil, errors.Wrapf(err, "error loading config %s", explicitPath)
		}
	}

	return cfg, cfg.Validate()
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	// Fields present in the YAML overwrite earlier layers; absent fields keep
	// their previous value.
	return yaml.Unmarshal(data, cfg)
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	switch c.Protocol {
	case ProtocolStructured, ProtocolFreeText:
	default:
		return errors.Classify(errors.ErrConfig, errors.New("unknown protocol %q (want %q or %q)", c.Protocol, ProtocolStructured, ProtocolFreeText))
	}
	if c.CommandTimeoutMS < 0 {
		return errors.Classify(errors.ErrConfig, errors.New("command_timeout_ms must not be negative"))
	}
	if c.MaxTokens <= 0 {
		return errors.Classify(errors.ErrConfig, errors.New("max_tokens must be positive, got %d", c.MaxTokens))
	}
	if c.MaxOutputChars < 0 || c.MaxTurns < 0 {
		return errors.Classify(errors.ErrConfig, errors.New("max_output_chars and max_turns must not be negative"))
	}
	if c.Temperature != nil && (*c.Temperature < 0 || *c.Temperature > 2) {
		return errors.Classify(errors.ErrConfig, errors.New("temperature %v out of range [0, 2]", *c.Temperature))
	}
	if c.Protocol == ProtocolFreeText && c.CompletionSentinel == "" {
		return errors.Classify(errors.ErrConfig, errors.New("freetext protocol needs a completion_sentinel"))
	}
	return nil
}

// CommandTimeout returns the per-command timeout.
func (c *Config) CommandTimeout() time.Duration {
	if c.CommandTimeoutMS <= 0 {
		return DefaultCommandTimeoutMS * time.Millisecond
	}
	return time.Duration(c.CommandTimeoutMS) * time.Millisecond
}

// SamplingTemperature returns the configured temperature or the default.
func (c *Config) SamplingTemperature() float64 {
	if c.Temperature == nil {
		return DefaultTemperature
	}
	return *c.Temperature
}
