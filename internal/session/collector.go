package session

import (
	"sync"

	"github.com/google/uuid"

	"github.com/xiaot623/gogo/chatd/internal/protocol"
)

// Collector is the origin of a request/response call. It records the frames
// addressed to it so they can be returned to the caller.
type Collector struct {
	id     string
	mu     sync.Mutex
	frames []protocol.Outbound
}

var _ Sink = (*Collector)(nil)

// NewCollector creates a collector with a fresh id.
func NewCollector() *Collector {
	return &Collector{id: "req-" + uuid.New().String()}
}

func (c *Collector) ID() string { return c.id }

func (c *Collector) Open() bool { return true }

func (c *Collector) Close() error { return nil }

func (c *Collector) Deliver(frame protocol.Outbound) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, frame)
	return nil
}

// Frames returns the frames delivered so far.
func (c *Collector) Frames() []protocol.Outbound {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.Outbound(nil), c.frames...)
}
