// Package actor implements the per-conversation agent: a single-writer state
// machine that owns one conversation store and the sessions attached to it.
package actor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/xiaot623/gogo/chatd/internal/domain"
	"github.com/xiaot623/gogo/chatd/internal/inference"
	"github.com/xiaot623/gogo/chatd/internal/metrics"
	"github.com/xiaot623/gogo/chatd/internal/policy"
	"github.com/xiaot623/gogo/chatd/internal/prompt"
	"github.com/xiaot623/gogo/chatd/internal/protocol"
	store "github.com/xiaot623/gogo/chatd/internal/repository"
	"github.com/xiaot623/gogo/chatd/internal/session"
)

// Inferer produces a reply for an inference context. It must not fail.
type Inferer interface {
	Infer(ctx context.Context, turns []prompt.Turn) inference.Reply
}

// Augmenter enriches contexts with search results.
type Augmenter interface {
	Enabled() bool
	Wants(text string) bool
	Augment(ctx context.Context, text string, turns []prompt.Turn) ([]prompt.Turn, []domain.SearchResult)
	Search(ctx context.Context, query string) ([]domain.SearchResult, error)
}

// Admitter decides whether a frame may be processed.
type Admitter interface {
	Admit(ctx context.Context, actorID, frameType, text string) (policy.Decision, error)
}

// StoreOpener opens (and bootstraps) the actor's store.
type StoreOpener func(ctx context.Context) (store.Store, error)

// Deps are the collaborators of an actor. Augmenter and Admitter are optional.
type Deps struct {
	Inferer   Inferer
	Augmenter Augmenter
	Admitter  Admitter
	Logger    *zap.Logger
}

// Options tunes an actor.
type Options struct {
	SystemPrompt       string
	ContextMaxMessages int
	HistoryLimit       int
	StoreTimeout       time.Duration
	MailboxSize        int
}

// Response is what a request/response caller gets back from Deliver.
type Response struct {
	Frames       []protocol.Outbound
	MessageCount int
}

type envelopeKind int

const (
	kindRegister envelopeKind = iota
	kindUnregister
	kindInbound
	kindRequest
)

type envelope struct {
	kind   envelopeKind
	ctx    context.Context
	origin session.Sink
	connID string
	raw    []byte
	frame  protocol.Inbound
	reply  chan *Response
}

// Actor is the addressable unit of conversation state. All envelopes are
// handled one at a time by a single goroutine.
type Actor struct {
	id     string
	open   StoreOpener
	deps   Deps
	opts   Options
	logger *zap.Logger

	// owned by the loop
	store    store.Store
	cache    *recentCache
	builder  *prompt.Builder
	sessions *session.Set

	state        atomic.Int32
	sessionCount atomic.Int32
	lastActive   atomic.Int64

	mailbox  chan envelope
	done     chan struct{}
	stopped  chan struct{}
	started  atomic.Bool
	stopOnce sync.Once
}

// New creates an inactive actor. Call Activate before delivering frames.
func New(id string, open StoreOpener, deps Deps, opts Options) *Actor {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Inferer == nil {
		deps.Inferer = inference.NewClient(nil, nil, 0, deps.Logger)
	}
	if opts.MailboxSize <= 0 {
		opts.MailboxSize = 64
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 100
	}
	a := &Actor{
		id:       id,
		open:     open,
		deps:     deps,
		opts:     opts,
		logger:   deps.Logger.With(zap.String("actor_id", id)),
		sessions: session.NewSet(),
		mailbox:  make(chan envelope, opts.MailboxSize),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	a.touch()
	return a
}

// ID returns the actor identifier.
func (a *Actor) ID() string { return a.id }

// State returns the current lifecycle state.
func (a *Actor) State() State { return State(a.state.Load()) }

// Sessions returns the number of registered sessions.
func (a *Actor) Sessions() int { return int(a.sessionCount.Load()) }

// Stopped is closed once the actor is disposed and its store closed.
func (a *Actor) Stopped() <-chan struct{} { return a.stopped }

// Closing reports whether disposal has begun.
func (a *Actor) Closing() bool {
	select {
	case <-a.done:
		return true
	default:
		return false
	}
}

// Activate opens the store, rebuilds the recent-message cache and starts the
// processing loop.
func (a *Actor) Activate(ctx context.Context) error {
	if !a.state.CompareAndSwap(int32(StateInactive), int32(StateActivating)) {
		return fmt.Errorf("actor %s cannot activate from state %s", a.id, a.State())
	}

	st, err := a.open(ctx)
	if err != nil {
		a.state.Store(int32(StateInactive))
		return fmt.Errorf("failed to open store: %w", err)
	}
	a.store = st
	a.cache = newRecentCache(st, a.opts.ContextMaxMessages)
	a.builder = prompt.NewBuilder(a.cache, a.opts.SystemPrompt)

	warmCtx, cancel := a.storeContext(ctx)
	if err := a.cache.warm(warmCtx); err != nil {
		a.logger.Warn("failed to warm message cache, reading through to store", zap.Error(err))
	}
	cancel()

	a.started.Store(true)
	a.state.Store(int32(StateReady))
	go a.run()

	a.logger.Info("actor activated")
	return nil
}

// Register attaches a session. The actor greets it with a connected frame.
func (a *Actor) Register(sink session.Sink) error {
	return a.enqueue(envelope{kind: kindRegister, origin: sink})
}

// Unregister detaches the session with connID.
func (a *Actor) Unregister(connID string) error {
	return a.enqueue(envelope{kind: kindUnregister, connID: connID})
}

// HandleInbound queues a raw frame received from origin.
func (a *Actor) HandleInbound(origin session.Sink, data []byte) error {
	return a.enqueue(envelope{kind: kindInbound, ctx: context.Background(), origin: origin, raw: data})
}

// Deliver processes frame on behalf of a caller that is not a registered
// session and returns the frames addressed to it. Cancelling ctx stops the
// wait but not the processing.
func (a *Actor) Deliver(ctx context.Context, frame protocol.Inbound) (*Response, error) {
	reply := make(chan *Response, 1)
	env := envelope{
		kind:   kindRequest,
		ctx:    context.WithoutCancel(ctx),
		origin: session.NewCollector(),
		frame:  frame,
		reply:  reply,
	}
	if err := a.enqueue(env); err != nil {
		return nil, err
	}
	select {
	case resp := <-reply:
		return resp, nil
	case <-a.stopped:
		select {
		case resp := <-reply:
			return resp, nil
		default:
			return nil, domain.ErrActorDisposed
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Idle reports whether the actor has had no sessions and no work for longer
// than timeout.
func (a *Actor) Idle(now time.Time, timeout time.Duration) bool {
	if a.State() != StateReady || a.Sessions() > 0 || len(a.mailbox) > 0 {
		return false
	}
	return now.Sub(time.Unix(0, a.lastActive.Load())) > timeout
}

// Dispose stops accepting envelopes, finishes the ones already queued, closes
// the remaining sessions and the store. It blocks until done or ctx expires.
func (a *Actor) Dispose(ctx context.Context) error {
	a.stopOnce.Do(func() {
		close(a.done)
		if !a.started.Load() {
			a.state.Store(int32(StateDisposed))
			close(a.stopped)
		}
	})
	select {
	case <-a.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Actor) enqueue(env envelope) error {
	if !a.started.Load() {
		return fmt.Errorf("actor %s is not active", a.id)
	}
	select {
	case <-a.done:
		return domain.ErrActorDisposed
	default:
	}
	a.touch()
	select {
	case a.mailbox <- env:
		return nil
	case <-a.done:
		return domain.ErrActorDisposed
	}
}

func (a *Actor) run() {
	for {
		select {
		case env := <-a.mailbox:
			a.handle(env)
		case <-a.done:
			for {
				select {
				case env := <-a.mailbox:
					a.handle(env)
				default:
					a.shutdown()
					return
				}
			}
		}
	}
}

func (a *Actor) shutdown() {
	if n := a.sessions.CloseAll(); n > 0 {
		metrics.OpenSessions.Sub(float64(n))
	}
	a.sessionCount.Store(0)
	if err := a.store.Close(); err != nil {
		a.logger.Error("failed to close store", zap.Error(err))
	}
	a.state.Store(int32(StateDisposed))
	close(a.stopped)
	a.logger.Info("actor disposed")
}

func (a *Actor) handle(env envelope) {
	a.touch()
	defer a.touch()

	switch env.kind {
	case kindRegister:
		a.sessions.Add(env.origin)
		a.sessionCount.Store(int32(a.sessions.Len()))
		metrics.OpenSessions.Inc()
		a.reply(env.origin, protocol.NewConnected(fmt.Sprintf("Connected to agent %s", a.id)))
		a.logger.Info("session registered", zap.String("conn_id", env.origin.ID()))

	case kindUnregister:
		if a.sessions.Remove(env.connID) {
			a.sessionCount.Store(int32(a.sessions.Len()))
			metrics.OpenSessions.Dec()
			a.logger.Info("session unregistered", zap.String("conn_id", env.connID))
		}

	case kindInbound:
		frame, err := protocol.Decode(env.raw)
		if err != nil {
			a.rejectFrame(env.origin, err)
			return
		}
		a.process(env.ctx, env.origin, frame)

	case kindRequest:
		a.process(env.ctx, env.origin, env.frame)
		resp := &Response{MessageCount: a.messageCount(env.ctx)}
		if c, ok := env.origin.(*session.Collector); ok {
			resp.Frames = c.Frames()
		}
		env.reply <- resp
	}
}

func (a *Actor) rejectFrame(origin session.Sink, err error) {
	metrics.FramesTotal.WithLabelValues("invalid", "error").Inc()
	code := protocol.ErrorCodeInvalidMessage
	if errors.Is(err, domain.ErrUnknownFrame) {
		code = protocol.ErrorCodeUnknownType
	}
	a.reply(origin, protocol.NewError(code, err.Error()))
}

func (a *Actor) messageCount(ctx context.Context) int {
	ctx, cancel := a.storeContext(ctx)
	defer cancel()
	n, err := a.store.CountMessages(ctx)
	if err != nil {
		a.logger.Warn("failed to count messages", zap.Error(err))
		return 0
	}
	return n
}

// reply sends a request-scoped frame to the origin only.
func (a *Actor) reply(origin session.Sink, frame protocol.Outbound) {
	if origin == nil || !origin.Open() {
		return
	}
	if err := origin.Deliver(frame); err != nil {
		a.logger.Debug("failed to deliver frame",
			zap.String("conn_id", origin.ID()),
			zap.String("type", frame.FrameType()),
			zap.Error(err))
	}
}

// publish sends a frame describing a change to shared conversation state to
// every open session, and to the origin when it is not a registered session.
func (a *Actor) publish(origin session.Sink, frame protocol.Outbound) {
	a.sessions.Broadcast(frame)
	if origin != nil && !a.sessions.Has(origin.ID()) {
		a.reply(origin, frame)
	}
}

func (a *Actor) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.opts.StoreTimeout > 0 {
		return context.WithTimeout(ctx, a.opts.StoreTimeout)
	}
	return context.WithCancel(ctx)
}

func (a *Actor) touch() {
	a.lastActive.Store(time.Now().UnixNano())
}
