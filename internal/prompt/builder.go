// Package prompt turns stored conversation history into a bounded inference context.
package prompt

import (
	"context"
	"fmt"

	"github.com/xiaot623/gogo/chatd/internal/domain"
)

// Turn is one entry of the context handed to the model.
type Turn struct {
	Role    domain.Role `json:"role"`
	Content string      `json:"content"`
}

// HistorySource supplies the most recent stored messages in chronological order.
type HistorySource interface {
	RecentWindow(ctx context.Context, n int) ([]domain.Message, error)
}

// Builder composes inference contexts. It only reads history.
type Builder struct {
	source    HistorySource
	directive string
}

// NewBuilder creates a builder that prepends directive as the system turn.
func NewBuilder(source HistorySource, directive string) *Builder {
	return &Builder{source: source, directive: directive}
}

// Build returns [directive] + last maxMessages stored messages + [newUserMessage].
// Truncation is by message count. newUserMessage must not be persisted yet.
func (b *Builder) Build(ctx context.Context, newUserMessage string, maxMessages int) ([]Turn, error) {
	history, err := b.source.RecentWindow(ctx, maxMessages)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	turns := make([]Turn, 0, len(history)+2)
	if b.directive != "" {
		turns = append(turns, Turn{Role: domain.RoleSystem, Content: b.directive})
	}
	for _, m := range history {
		turns = append(turns, Turn{Role: m.Role, Content: m.Content})
	}
	turns = append(turns, Turn{Role: domain.RoleUser, Content: newUserMessage})
	return turns, nil
}

// Directive returns the system directive.
func (b *Builder) Directive() string {
	return b.directive
}
