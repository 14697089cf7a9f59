// Package store provides the durable per-actor conversation store.
package store

import (
	"context"

	"github.com/xiaot623/gogo/chatd/internal/domain"
)

// Store is the persistence contract of one actor. Implementations are owned by
// exactly one actor and are never shared.
type Store interface {
	// Messages
	Append(ctx context.Context, role domain.Role, content string) (domain.Message, error)
	RecentWindow(ctx context.Context, n int) ([]domain.Message, error)
	CountMessages(ctx context.Context) (int, error)
	DeleteAll(ctx context.Context) error

	// Notes
	AddNote(ctx context.Context, content string) (domain.Note, error)
	ListNotes(ctx context.Context) ([]domain.Note, error)

	// Research
	AddResearch(ctx context.Context, query string, results []domain.SearchResult, summary string) (domain.ResearchRecord, error)
	ListResearch(ctx context.Context, limit int) ([]domain.ResearchRecord, error)

	Close() error
}
