// Package llm provides an abstraction for LLM API clients.
package llm

import "context"

// LLMClient defines the interface for LLM API operations.
type LLMClient interface {
	// CreateChatCompletion sends a chat completion request (non-streaming).
	CreateChatCompletion(ctx context.Context, req *ChatCompletionRequest) (*ChatCompletionResponse, error)

	// Model returns the default model name used when a request leaves it empty.
	Model() string
}

// Ensure Client implements LLMClient interface.
var _ LLMClient = (*Client)(nil)
