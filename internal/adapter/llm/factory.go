package llm

import (
	"time"

	"go.uber.org/zap"
)

const (
	// ModeMock indicates mock mode should be used (GOGO_MODE=MOCK).
	ModeMock = "MOCK"
)

// Options selects and configures the LLM client.
type Options struct {
	Mode              string
	BaseURL           string
	APIKey            string
	Model             string
	Timeout           time.Duration
	RequestsPerMinute float64
}

// NewLLMClient creates an LLM client from opts. It returns nil when no model
// endpoint is configured, in which case callers serve fallback replies.
func NewLLMClient(opts Options, logger *zap.Logger) LLMClient {
	if opts.Mode == ModeMock {
		logger.Info("GOGO_MODE=MOCK detected, using mock LLM client")
		return NewMockClient()
	}

	if opts.BaseURL == "" {
		logger.Warn("LLM_BASE_URL not set, inference will use local fallback replies")
		return nil
	}

	return NewClient(opts.BaseURL, opts.APIKey, opts.Model, opts.Timeout, opts.RequestsPerMinute)
}
