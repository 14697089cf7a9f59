package llm

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"unicode/utf8"
)

const mockQuoteRunes = 100

// MockClient answers without a model endpoint. It quotes the latest user turn
// and says how much context it was given, which makes context assembly
// visible when running the server locally.
type MockClient struct {
	calls atomic.Int64
}

// NewMockClient creates a new mock LLM client.
func NewMockClient() *MockClient {
	return &MockClient{}
}

var _ LLMClient = (*MockClient)(nil)

// Model returns the mock model name.
func (m *MockClient) Model() string {
	return "mock"
}

// Calls returns how many completions were served.
func (m *MockClient) Calls() int64 {
	return m.calls.Load()
}

// CreateChatCompletion returns a single assistant choice.
func (m *MockClient) CreateChatCompletion(ctx context.Context, req *ChatCompletionRequest) (*ChatCompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n := m.calls.Add(1)

	var last string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			last = req.Messages[i].Content
			break
		}
	}

	var b strings.Builder
	if last == "" {
		b.WriteString("[mock] nothing to answer")
	} else {
		fmt.Fprintf(&b, "[mock] you said %q", clip(last, mockQuoteRunes))
	}
	fmt.Fprintf(&b, " (%d turns of context)", len(req.Messages))

	return &ChatCompletionResponse{
		ID:     fmt.Sprintf("mock-%d", n),
		Object: "chat.completion",
		Model:  m.Model(),
		Choices: []Choice{{
			Message:      &ChatMessage{Role: "assistant", Content: b.String()},
			FinishReason: "stop",
		}},
	}, nil
}

func clip(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
