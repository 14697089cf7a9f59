// Package inference calls the language model and guarantees a displayable reply.
package inference

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xiaot623/gogo/chatd/internal/adapter/llm"
	"github.com/xiaot623/gogo/chatd/internal/domain"
	"github.com/xiaot623/gogo/chatd/internal/metrics"
	"github.com/xiaot623/gogo/chatd/internal/prompt"
	"github.com/xiaot623/gogo/chatd/internal/tracing"
)

// Fallback reasons
const (
	ReasonUnavailable = "unavailable"
	ReasonError       = "error"
	ReasonEmpty       = "empty"
)

// EmptyReply is used when the model answers with nothing usable.
const EmptyReply = "I'm not sure how to respond to that yet. Could you rephrase?"

// Reply is the outcome of one inference call.
type Reply struct {
	Text     string
	Fallback bool
	Reason   string // set when Fallback is true
}

// Client wraps an optional LLM behind a fallback policy.
type Client struct {
	model     llm.LLMClient
	responder Responder
	timeout   time.Duration
	logger    *zap.Logger
}

// NewClient creates an inference client. model may be nil.
func NewClient(model llm.LLMClient, responder Responder, timeout time.Duration, logger *zap.Logger) *Client {
	if responder == nil {
		responder = NewRuleTable(DefaultRules)
	}
	return &Client{
		model:     model,
		responder: responder,
		timeout:   timeout,
		logger:    logger,
	}
}

// Available reports whether a model is configured.
func (c *Client) Available() bool {
	return c.model != nil
}

// Infer returns a reply for turns. It never fails: every failure path yields
// fallback text.
func (c *Client) Infer(ctx context.Context, turns []prompt.Turn) Reply {
	lastUser := lastUserContent(turns)

	if c.model == nil {
		metrics.FallbackTotal.WithLabelValues(ReasonUnavailable).Inc()
		return Reply{Text: c.responder.Respond(lastUser), Fallback: true, Reason: ReasonUnavailable}
	}

	ctx, span := tracing.StartInferenceSpan(ctx, c.model.Model(), len(turns))
	defer span.End()

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req := &llm.ChatCompletionRequest{Messages: make([]llm.ChatMessage, 0, len(turns))}
	for _, t := range turns {
		req.Messages = append(req.Messages, llm.ChatMessage{Role: string(t.Role), Content: t.Content})
	}

	start := time.Now()
	resp, err := c.model.CreateChatCompletion(ctx, req)
	elapsed := time.Since(start).Seconds()
	if err != nil {
		metrics.InferenceDuration.WithLabelValues("error").Observe(elapsed)
		metrics.FallbackTotal.WithLabelValues(ReasonError).Inc()
		tracing.Fail(span, err)
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("timed out after %s", c.timeout)
		}
		c.logger.Warn("inference failed, using fallback", zap.Error(err))
		return Reply{Text: apology(err) + c.responder.Respond(lastUser), Fallback: true, Reason: ReasonError}
	}

	text := strings.TrimSpace(resp.FirstContent())
	if text == "" {
		metrics.InferenceDuration.WithLabelValues("empty").Observe(elapsed)
		metrics.FallbackTotal.WithLabelValues(ReasonEmpty).Inc()
		c.logger.Warn("inference returned no content")
		return Reply{Text: EmptyReply, Fallback: true, Reason: ReasonEmpty}
	}

	metrics.InferenceDuration.WithLabelValues("ok").Observe(elapsed)
	return Reply{Text: text}
}

func apology(err error) string {
	return fmt.Sprintf("I'm sorry, I ran into a problem generating a response (%v). ", err)
}

func lastUserContent(turns []prompt.Turn) string {
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == domain.RoleUser {
			return turns[i].Content
		}
	}
	return ""
}
