package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	DefaultAssistantName     = "Claw"
	DefaultResetCommand      = "/clear"
	DefaultPollIntervalMs    = 2000
	DefaultModel             = "claude-sonnet-4-5-20250929"
	DefaultMaxTokens         = 8192
	DefaultMaxToolIterations = 20
	DefaultAgentRunner       = "cli"
	DefaultAgentCommand      = "claude"
	DefaultBufSize           = 100
)

type Config struct {
	Assistant AssistantConfig `json:"assistant"`
	Router    RouterConfig    `json:"router"`
	Agent     AgentConfig     `json:"agent"`
	Provider  ProviderConfig  `json:"provider"`
	Channels  ChannelsConfig  `json:"channels"`
}

type AssistantConfig struct {
	Name         string `json:"name"`
	Trigger      string `json:"trigger,omitempty"` // default "@<name>", matched case-insensitively
	ResetCommand string `json:"resetCommand"`
}

type RouterConfig struct {
	PollIntervalMs int `json:"pollIntervalMs"`
}

type AgentConfig struct {
	Runner            string `json:"runner"` // "cli" (claude CLI subprocess) or "sdk" (in-process agentsdk-go)
	Command           string `json:"command,omitempty"`
	Model             string `json:"model"`
	MaxTokens         int    `json:"maxTokens"`
	MaxToolIterations int    `json:"maxToolIterations"`
}

type ProviderConfig struct {
	Type    string `json:"type,omitempty"` // "anthropic" (default) or "openai"
	APIKey  string `json:"apiKey"`
	BaseURL string `json:"baseUrl,omitempty"`
}

type ChannelsConfig struct {
	WhatsApp WhatsAppConfig `json:"whatsapp"`
	Telegram TelegramConfig `json:"telegram"`
}

type WhatsAppConfig struct {
	Enabled   bool     `json:"enabled"`
	StorePath string   `json:"storePath,omitempty"`
	AllowFrom []string `json:"allowFrom"`
}

type TelegramConfig struct {
	Enabled   bool     `json:"enabled"`
	Token     string   `json:"token"`
	AllowFrom []string `json:"allowFrom"`
	Proxy     string   `json:"proxy,omitempty"`
}

func DefaultConfig() *Config {
	return &Config{
		Assistant: AssistantConfig{
			Name:         DefaultAssistantName,
			ResetCommand: DefaultResetCommand,
		},
		Router: RouterConfig{
			PollIntervalMs: DefaultPollIntervalMs,
		},
		Agent: AgentConfig{
			Runner:            DefaultAgentRunner,
			Command:           DefaultAgentCommand,
			Model:             DefaultModel,
			MaxTokens:         DefaultMaxTokens,
			MaxToolIterations: DefaultMaxToolIterations,
		},
		Provider: ProviderConfig{},
		Channels: ChannelsConfig{},
	}
}

func ConfigDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".nanoclaw")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

// DataDir holds router state, sessions, and group registrations.
func DataDir() string {
	return filepath.Join(ConfigDir(), "data")
}

// StoreDir holds the message database and the WhatsApp device store.
func StoreDir() string {
	return filepath.Join(ConfigDir(), "store")
}

// GroupsDir holds one working directory per registered group.
func GroupsDir() string {
	return filepath.Join(ConfigDir(), "groups")
}

func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if key := os.Getenv("NANOCLAW_API_KEY"); key != "" {
		cfg.Provider.APIKey = key
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = key
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = key
		if cfg.Provider.Type == "" {
			cfg.Provider.Type = "openai"
		}
	}
	if url := os.Getenv("NANOCLAW_BASE_URL"); url != "" {
		cfg.Provider.BaseURL = url
	}
	if url := os.Getenv("ANTHROPIC_BASE_URL"); url != "" && cfg.Provider.BaseURL == "" {
		cfg.Provider.BaseURL = url
	}
	if name := os.Getenv("NANOCLAW_ASSISTANT_NAME"); name != "" {
		cfg.Assistant.Name = name
	}
	if token := os.Getenv("NANOCLAW_TELEGRAM_TOKEN"); token != "" {
		cfg.Channels.Telegram.Token = token
	}
	if interval := os.Getenv("NANOCLAW_POLL_INTERVAL_MS"); interval != "" {
		if parsed, err := strconv.Atoi(interval); err == nil && parsed > 0 {
			cfg.Router.PollIntervalMs = parsed
		}
	}
	if runner := os.Getenv("NANOCLAW_AGENT_RUNNER"); runner != "" {
		cfg.Agent.Runner = runner
	}

	if cfg.Assistant.Name == "" {
		cfg.Assistant.Name = DefaultAssistantName
	}
	if cfg.Assistant.ResetCommand == "" {
		cfg.Assistant.ResetCommand = DefaultResetCommand
	}
	if cfg.Router.PollIntervalMs <= 0 {
		cfg.Router.PollIntervalMs = DefaultPollIntervalMs
	}
	if cfg.Agent.Runner == "" {
		cfg.Agent.Runner = DefaultAgentRunner
	}
	if cfg.Agent.Command == "" {
		cfg.Agent.Command = DefaultAgentCommand
	}

	return cfg, nil
}

// DefaultTrigger returns the configured trigger token, falling back to
// "@<name>" in lowercase.
func (a AssistantConfig) DefaultTrigger() string {
	if a.Trigger != "" {
		return a.Trigger
	}
	return "@" + strings.ToLower(a.Name)
}

func SaveConfig(cfg *Config) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(ConfigPath(), data, 0644)
}
