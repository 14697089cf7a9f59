// Package config provides configuration for the chat agent service.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config holds the service configuration.
type Config struct {
	// Server settings
	HTTPPort int

	// Storage
	DataDir      string // one SQLite database per actor; ":memory:" keeps everything in memory
	StoreTimeout time.Duration

	// Inference settings
	LLMBaseURL           string
	LLMAPIKey            string
	LLMModel             string
	LLMTimeout           time.Duration
	LLMRequestsPerMinute float64
	Mode                 string // GOGO_MODE, MOCK selects the mock LLM client
	SystemPrompt         string
	FallbackRulesFile    string

	// Search settings
	SearchURL          string
	SearchAPIKey       string
	SearchTimeout      time.Duration
	SearchMaxResults   int
	SearchSnippetChars int
	SearchCacheTTL     time.Duration
	RedisURL           string

	// Actor settings
	ContextMaxMessages int
	HistoryLimit       int
	MaxMessageLength   int
	PolicyFile         string // rego module replacing the built-in frame policy
	ActorIdleTimeout   time.Duration
	ActorMailboxSize   int

	// WebSocket settings
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	MaxMessageSize int64

	// Observability
	LogLevel     string
	OTelEndpoint string
	OTelInsecure bool
}

// DefaultSystemPrompt is the directive prepended to every inference context.
const DefaultSystemPrompt = "You are a helpful, concise assistant. Answer in the same language as the user. " +
	"When web search results are provided, ground your answer in them and cite the source URLs."

var defaults = map[string]interface{}{
	"http_port":               8090,
	"data_dir":                "./data",
	"store_timeout_ms":        5000,
	"llm_base_url":            "",
	"llm_api_key":             "",
	"llm_model":               "gpt-4o-mini",
	"llm_timeout_ms":          30000,
	"llm_requests_per_minute": 600,
	"gogo_mode":               "",
	"system_prompt":           DefaultSystemPrompt,
	"fallback_rules_file":     "",
	"search_url":              "",
	"search_api_key":          "",
	"search_timeout_ms":       8000,
	"search_max_results":      5,
	"search_snippet_chars":    500,
	"search_cache_ttl_ms":     600000,
	"redis_url":               "",
	"context_max_messages":    10,
	"history_limit":           100,
	"max_message_length":      8000,
	"policy_file":             "",
	"actor_idle_timeout_ms":   600000,
	"actor_mailbox_size":      64,
	"ws_ping_interval_ms":     30000,
	"ws_write_timeout_ms":     10000,
	"ws_read_timeout_ms":      60000,
	"ws_max_message_size":     65536,
	"log_level":               "info",
	"otel_endpoint":           "",
	"otel_insecure":           true,
}

// Load loads configuration from environment variables and, when CONFIG_FILE is
// set, from that file. Environment variables win over the file.
func Load() (*Config, error) {
	v := viper.New()
	for key, val := range defaults {
		v.SetDefault(key, val)
	}
	v.AutomaticEnv()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	cfg := &Config{
		HTTPPort:             v.GetInt("http_port"),
		DataDir:              v.GetString("data_dir"),
		StoreTimeout:         millis(v, "store_timeout_ms"),
		LLMBaseURL:           v.GetString("llm_base_url"),
		LLMAPIKey:            v.GetString("llm_api_key"),
		LLMModel:             v.GetString("llm_model"),
		LLMTimeout:           millis(v, "llm_timeout_ms"),
		LLMRequestsPerMinute: v.GetFloat64("llm_requests_per_minute"),
		Mode:                 v.GetString("gogo_mode"),
		SystemPrompt:         v.GetString("system_prompt"),
		FallbackRulesFile:    v.GetString("fallback_rules_file"),
		SearchURL:            v.GetString("search_url"),
		SearchAPIKey:         v.GetString("search_api_key"),
		SearchTimeout:        millis(v, "search_timeout_ms"),
		SearchMaxResults:     v.GetInt("search_max_results"),
		SearchSnippetChars:   v.GetInt("search_snippet_chars"),
		SearchCacheTTL:       millis(v, "search_cache_ttl_ms"),
		RedisURL:             v.GetString("redis_url"),
		ContextMaxMessages:   v.GetInt("context_max_messages"),
		HistoryLimit:         v.GetInt("history_limit"),
		MaxMessageLength:     v.GetInt("max_message_length"),
		PolicyFile:           v.GetString("policy_file"),
		ActorIdleTimeout:     millis(v, "actor_idle_timeout_ms"),
		ActorMailboxSize:     v.GetInt("actor_mailbox_size"),
		PingInterval:         millis(v, "ws_ping_interval_ms"),
		WriteTimeout:         millis(v, "ws_write_timeout_ms"),
		ReadTimeout:          millis(v, "ws_read_timeout_ms"),
		MaxMessageSize:       v.GetInt64("ws_max_message_size"),
		LogLevel:             v.GetString("log_level"),
		OTelEndpoint:         v.GetString("otel_endpoint"),
		OTelInsecure:         v.GetBool("otel_insecure"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP_PORT %d", c.HTTPPort)
	}
	if c.DataDir == "" {
		return fmt.Errorf("DATA_DIR is required")
	}
	if c.ContextMaxMessages < 0 {
		return fmt.Errorf("CONTEXT_MAX_MESSAGES must not be negative")
	}
	if c.ActorMailboxSize <= 0 {
		return fmt.Errorf("ACTOR_MAILBOX_SIZE must be positive")
	}
	return nil
}

func millis(v *viper.Viper, key string) time.Duration {
	return time.Duration(v.GetInt64(key)) * time.Millisecond
}
