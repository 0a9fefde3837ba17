// Package config loads the bridge's single immutable configuration tree
// from a YAML file, following the teacher's root-struct-of-sub-structs
// layout: one exported Config assembled from per-concern sub-structs, each
// yaml-tagged and independently defaultable.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the single value every component is constructed from. It is
// loaded once at startup and never mutated afterward — §9's "single
// immutable config value" design note.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Session      SessionConfig      `yaml:"session"`
	Auth         AuthConfig         `yaml:"auth"`
	Conversation ConversationConfig `yaml:"conversation"`
	LLM          LLMConfig          `yaml:"llm"`
	Tools        ToolsConfig        `yaml:"tools"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// ServerConfig configures the websocket listener.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// SessionConfig configures C5's session table.
type SessionConfig struct {
	// IdleTimeout closes a session that has seen no activity for this long.
	IdleTimeout time.Duration `yaml:"idle_timeout"`
	// ReapInterval is how often the idle reaper sweeps the session table.
	ReapInterval time.Duration `yaml:"reap_interval"`
	// BusyPolicy is "reject" or "queue" — see spec.md §9 Open Question 1.
	BusyPolicy string `yaml:"busy_policy"`
	// MaxToolCalls is the per-turn fatal cap on total tool invocations.
	MaxToolCalls int `yaml:"max_tool_calls"`
	// MaxToolCallsPerTurn bounds concurrency of a single fan-out.
	MaxToolCallsPerTurn int `yaml:"max_tool_calls_per_turn"`
	// TurnTimeout bounds total wall-clock time for one turn.
	TurnTimeout time.Duration `yaml:"turn_timeout"`
}

// AuthConfig configures C1's credential handling.
type AuthConfig struct {
	// OAuth2ExpiryFraction is the fraction of expires_in for a cached
	// token's deadline (0.9 per §4.1). internal/auth does not read it; the
	// token source always uses a fixed 0.9.
	OAuth2ExpiryFraction float64 `yaml:"oauth2_expiry_fraction"`
	// ToolCallTimeout bounds a single outbound HTTP tool call.
	ToolCallTimeout time.Duration `yaml:"tool_call_timeout"`
	// MaxRetries bounds retry attempts for a retryable tool call failure.
	MaxRetries int `yaml:"max_retries"`
	// RetryBackoff is the initial retry delay; doubled per attempt with
	// jitter via internal/retry.
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

// ConversationConfig configures C3's budget and eviction behavior.
type ConversationConfig struct {
	// Strategy selects the eviction strategy: "truncate", "sliding_window",
	// or "smart_prune".
	Strategy string `yaml:"strategy"`
	// MaxMessages is the hard cap on retained history length.
	MaxMessages int `yaml:"max_messages"`
	// MaxChars is the approximate character budget for a snapshot.
	MaxChars int `yaml:"max_chars"`

	// NewResponseThreshold/Target are tier-1 truncation bounds, applied to
	// a tool result as soon as it is produced.
	NewResponseThreshold int `yaml:"new_response_threshold"`
	NewResponseTarget    int `yaml:"new_response_target"`

	// HistoryThreshold/Target are tier-2 truncation bounds, applied when a
	// tool result ages into history.
	HistoryThreshold int `yaml:"history_threshold"`
	HistoryTarget    int `yaml:"history_target"`
}

// LLMConfig configures C4.
type LLMConfig struct {
	DefaultProvider string                      `yaml:"default_provider"`
	FallbackChain   []string                     `yaml:"fallback_chain"`
	Providers       map[string]LLMProviderConfig `yaml:"providers"`
	RateLimit       LLMRateLimitConfig           `yaml:"rate_limit"`
	MaxRetries      int                          `yaml:"max_retries"`
	RetryBackoff    time.Duration                `yaml:"retry_backoff"`
}

// LLMProviderConfig configures a single named model-invocation client.
type LLMProviderConfig struct {
	Family       string  `yaml:"family"` // "claude", "gpt", or "llama"
	APIKey       string  `yaml:"api_key"`
	BaseURL      string  `yaml:"base_url,omitempty"`
	DefaultModel string  `yaml:"default_model"`
	Region       string  `yaml:"region,omitempty"` // bedrock/llama only
	Temperature  float64 `yaml:"temperature"`
	MaxTokens    int     `yaml:"max_tokens"`
}

// LLMRateLimitConfig backs the per-session token-bucket rate gate.
type LLMRateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size"`
	Enabled           bool    `yaml:"enabled"`
}

// ToolsConfig points at the static tool-descriptor source (§6.1).
type ToolsConfig struct {
	DescriptorsFile string `yaml:"descriptors_file"`
}

// LoggingConfig configures the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
}

// Default returns a Config with every field set to a reasonable default,
// matching the values named in spec.md §6's configuration option list.
func Default() Config {
	return Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8080},
		Session: SessionConfig{
			IdleTimeout:         30 * time.Minute,
			ReapInterval:        time.Minute,
			BusyPolicy:          "reject",
			MaxToolCalls:        25,
			MaxToolCallsPerTurn: 8,
			TurnTimeout:         2 * time.Minute,
		},
		Auth: AuthConfig{
			OAuth2ExpiryFraction: 0.9,
			ToolCallTimeout:      15 * time.Second,
			MaxRetries:           3,
			RetryBackoff:         200 * time.Millisecond,
		},
		Conversation: ConversationConfig{
			Strategy:             "smart_prune",
			MaxMessages:          120,
			MaxChars:             60000,
			NewResponseThreshold: 4000,
			NewResponseTarget:    2000,
			HistoryThreshold:     1500,
			HistoryTarget:        500,
		},
		LLM: LLMConfig{
			DefaultProvider: "claude",
			FallbackChain:   []string{"claude", "gpt", "llama"},
			RateLimit:       LLMRateLimitConfig{RequestsPerSecond: 5, BurstSize: 10, Enabled: true},
			MaxRetries:      3,
			RetryBackoff:    500 * time.Millisecond,
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}

// Load reads and parses a YAML config file, applying defaults for any zero
// fields left unset, following internal/config/loader.go's
// load-then-default pipeline.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Validate rejects a config whose values could not produce a working
// bridge.
func (c Config) Validate() error {
	if c.Session.BusyPolicy != "reject" && c.Session.BusyPolicy != "queue" {
		return fmt.Errorf("session.busy_policy must be \"reject\" or \"queue\", got %q", c.Session.BusyPolicy)
	}
	switch c.Conversation.Strategy {
	case "truncate", "sliding_window", "smart_prune":
	default:
		return fmt.Errorf("conversation.strategy must be one of truncate|sliding_window|smart_prune, got %q", c.Conversation.Strategy)
	}
	if c.LLM.DefaultProvider == "" {
		return fmt.Errorf("llm.default_provider is required")
	}
	return nil
}
