// Package dispatch maps actor identifiers to exactly one live actor.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/xiaot623/gogo/chatd/internal/actor"
	"github.com/xiaot623/gogo/chatd/internal/domain"
	"github.com/xiaot623/gogo/chatd/internal/metrics"
	"github.com/xiaot623/gogo/chatd/internal/protocol"
	store "github.com/xiaot623/gogo/chatd/internal/repository"
)

// Config configures a Registry.
type Config struct {
	DataDir     string
	IdleTimeout time.Duration
	Deps        actor.Deps
	Options     actor.Options
}

// Registry owns the live actors. For every id at most one actor is live, and
// a replacement is only activated after its predecessor has fully stopped.
type Registry struct {
	cfg    Config
	logger *zap.Logger

	mu     sync.Mutex
	actors map[string]*actor.Actor
	group  singleflight.Group

	// newActor builds an inactive actor; replaced in tests.
	newActor func(id string) *actor.Actor
}

// NewRegistry creates a registry.
func NewRegistry(cfg Config, logger *zap.Logger) *Registry {
	r := &Registry{
		cfg:    cfg,
		logger: logger,
		actors: make(map[string]*actor.Actor),
	}
	r.newActor = r.defaultActor
	return r
}

func (r *Registry) defaultActor(id string) *actor.Actor {
	dsn := store.DSNForActor(r.cfg.DataDir, id)
	open := func(ctx context.Context) (store.Store, error) {
		return store.NewSQLiteStore(dsn)
	}
	return actor.New(id, open, r.cfg.Deps, r.cfg.Options)
}

// Resolve returns the live actor for id, activating one if needed.
func (r *Registry) Resolve(ctx context.Context, id string) (*actor.Actor, error) {
	if !store.ValidActorID(id) {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidActorID, id)
	}

	if a := r.live(id); a != nil {
		return a, nil
	}

	v, err, _ := r.group.Do(id, func() (interface{}, error) {
		r.mu.Lock()
		prev := r.actors[id]
		r.mu.Unlock()
		if prev != nil {
			if !prev.Closing() {
				return prev, nil
			}
			select {
			case <-prev.Stopped():
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		if r.cfg.DataDir != ":memory:" {
			if err := os.MkdirAll(r.cfg.DataDir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create data dir: %w", err)
			}
		}

		a := r.newActor(id)
		if err := a.Activate(ctx); err != nil {
			return nil, err
		}

		r.mu.Lock()
		r.actors[id] = a
		n := len(r.actors)
		r.mu.Unlock()
		metrics.ActiveActors.Set(float64(n))
		return a, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*actor.Actor), nil
}

func (r *Registry) live(id string) *actor.Actor {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.actors[id]; ok && !a.Closing() {
		return a
	}
	return nil
}

// Deliver resolves id and hands frame to the actor. When the actor is being
// disposed concurrently the delivery is retried once on its successor.
func (r *Registry) Deliver(ctx context.Context, id string, frame protocol.Inbound) (*actor.Response, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		a, err := r.Resolve(ctx, id)
		if err != nil {
			return nil, err
		}
		resp, err := a.Deliver(ctx, frame)
		if errors.Is(err, domain.ErrActorDisposed) {
			lastErr = err
			continue
		}
		return resp, err
	}
	return nil, lastErr
}

// Len returns the number of live actors.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.actors)
}

// RunEvictor disposes idle actors every interval until ctx is done.
func (r *Registry) RunEvictor(ctx context.Context, interval time.Duration) {
	if r.cfg.IdleTimeout <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			r.sweepIdle(ctx, now)
		}
	}
}

func (r *Registry) sweepIdle(ctx context.Context, now time.Time) int {
	r.mu.Lock()
	var idle []*actor.Actor
	for _, a := range r.actors {
		if a.Idle(now, r.cfg.IdleTimeout) {
			idle = append(idle, a)
		}
	}
	r.mu.Unlock()

	for _, a := range idle {
		r.logger.Info("evicting idle actor", zap.String("actor_id", a.ID()))
		r.dispose(ctx, a)
	}
	return len(idle)
}

// dispose stops a and removes it from the map once it has fully stopped.
func (r *Registry) dispose(ctx context.Context, a *actor.Actor) error {
	err := a.Dispose(ctx)
	if err != nil {
		r.logger.Warn("actor disposal did not finish", zap.String("actor_id", a.ID()), zap.Error(err))
		return err
	}
	r.mu.Lock()
	if r.actors[a.ID()] == a {
		delete(r.actors, a.ID())
	}
	n := len(r.actors)
	r.mu.Unlock()
	metrics.ActiveActors.Set(float64(n))
	return nil
}

// Shutdown disposes every actor concurrently.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	all := make([]*actor.Actor, 0, len(r.actors))
	for _, a := range r.actors {
		all = append(all, a)
	}
	r.mu.Unlock()

	var g errgroup.Group
	for _, a := range all {
		g.Go(func() error {
			return r.dispose(ctx, a)
		})
	}
	return g.Wait()
}
