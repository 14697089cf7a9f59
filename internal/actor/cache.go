package actor

import (
	"context"

	"github.com/xiaot623/gogo/chatd/internal/domain"
	store "github.com/xiaot623/gogo/chatd/internal/repository"
)

// recentCache keeps the tail of the message log in memory. The store stays the
// source of truth: windows the cache cannot answer are read from it.
type recentCache struct {
	store    store.Store
	capacity int
	msgs     []domain.Message
	complete bool // msgs holds every stored message
	valid    bool
}

func newRecentCache(st store.Store, capacity int) *recentCache {
	return &recentCache{store: st, capacity: capacity}
}

// warm rebuilds the cache from the store.
func (c *recentCache) warm(ctx context.Context) error {
	c.valid = false
	if c.capacity <= 0 {
		return nil
	}
	msgs, err := c.store.RecentWindow(ctx, c.capacity)
	if err != nil {
		return err
	}
	c.msgs = msgs
	c.complete = len(msgs) < c.capacity
	c.valid = true
	return nil
}

// RecentWindow implements prompt.HistorySource.
func (c *recentCache) RecentWindow(ctx context.Context, n int) ([]domain.Message, error) {
	if n <= 0 {
		return []domain.Message{}, nil
	}
	if !c.valid || (n > len(c.msgs) && !c.complete) {
		return c.store.RecentWindow(ctx, n)
	}
	start := len(c.msgs) - n
	if start < 0 {
		start = 0
	}
	return append([]domain.Message(nil), c.msgs[start:]...), nil
}

func (c *recentCache) push(m domain.Message) {
	if !c.valid {
		return
	}
	c.msgs = append(c.msgs, m)
	if over := len(c.msgs) - c.capacity; over > 0 {
		c.msgs = append([]domain.Message(nil), c.msgs[over:]...)
		c.complete = false
	}
}

func (c *recentCache) reset() {
	c.msgs = nil
	c.complete = true
	c.valid = c.capacity > 0
}
