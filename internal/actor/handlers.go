package actor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/xiaot623/gogo/chatd/internal/augment"
	"github.com/xiaot623/gogo/chatd/internal/domain"
	"github.com/xiaot623/gogo/chatd/internal/metrics"
	"github.com/xiaot623/gogo/chatd/internal/prompt"
	"github.com/xiaot623/gogo/chatd/internal/protocol"
	"github.com/xiaot623/gogo/chatd/internal/session"
	"github.com/xiaot623/gogo/chatd/internal/tracing"
)

// Status notices sent while a request is in flight.
const (
	StatusThinking    = "Thinking..."
	StatusSearching   = "Searching the web..."
	StatusResearching = "Researching..."
)

const researchListLimit = 20

// frameError ends a processing step with an error frame to the origin.
type frameError struct {
	code    string
	message string
	err     error
}

func (e *frameError) Error() string {
	if e.err != nil {
		return e.message + ": " + e.err.Error()
	}
	return e.message
}

func (e *frameError) Unwrap() error { return e.err }

func failWith(code, message string, err error) error {
	return &frameError{code: code, message: message, err: err}
}

// process runs one frame to completion. A panic or error ends the step with
// an error frame to the origin and leaves the actor ready for the next one.
func (a *Actor) process(ctx context.Context, origin session.Sink, frame protocol.Inbound) {
	frameType := frame.FrameType()
	a.state.Store(int32(StateProcessing))
	start := time.Now()

	ctx, span := tracing.StartFrameSpan(ctx, a.id, frameType)
	defer span.End()

	var err error
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("panic while processing frame",
				zap.String("type", frameType),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			err = failWith(protocol.ErrorCodeInternalError, "internal error", fmt.Errorf("panic: %v", r))
		}
		outcome := "ok"
		if err != nil {
			outcome = "error"
			tracing.Fail(span, err)
			a.reportError(origin, frameType, err)
		}
		metrics.FramesTotal.WithLabelValues(frameType, outcome).Inc()
		metrics.FrameDuration.WithLabelValues(frameType).Observe(time.Since(start).Seconds())
		a.state.Store(int32(StateReady))
	}()

	if err = a.admit(ctx, frame); err != nil {
		return
	}

	switch f := frame.(type) {
	case *protocol.ChatFrame:
		err = a.handleChat(ctx, origin, f.Message)
	case *protocol.ResearchFrame:
		err = a.handleResearch(ctx, origin, f.Query)
	case *protocol.SaveNoteFrame:
		err = a.handleSaveNote(ctx, origin, f.Note)
	case *protocol.GetNotesFrame:
		err = a.handleGetNotes(ctx, origin)
	case *protocol.GetHistoryFrame:
		err = a.handleGetHistory(ctx, origin)
	case *protocol.ClearHistoryFrame:
		err = a.handleClearHistory(ctx, origin)
	case *protocol.GetResearchFrame:
		err = a.handleGetResearch(ctx, origin)
	default:
		err = failWith(protocol.ErrorCodeUnknownType, fmt.Sprintf("unknown message type: %s", frameType), domain.ErrUnknownFrame)
	}
}

func (a *Actor) reportError(origin session.Sink, frameType string, err error) {
	var fe *frameError
	if !errors.As(err, &fe) {
		fe = &frameError{code: protocol.ErrorCodeInternalError, message: "internal error", err: err}
	}
	if fe.code == protocol.ErrorCodePersistFailed || fe.code == protocol.ErrorCodeInternalError {
		a.logger.Error("frame failed", zap.String("type", frameType), zap.Error(err))
	} else {
		a.logger.Warn("frame rejected", zap.String("type", frameType), zap.Error(err))
	}
	a.reply(origin, protocol.NewError(fe.code, fe.message))
}

func (a *Actor) admit(ctx context.Context, frame protocol.Inbound) error {
	if a.deps.Admitter == nil {
		return nil
	}
	decision, err := a.deps.Admitter.Admit(ctx, a.id, frame.FrameType(), frame.Text())
	if err != nil {
		return failWith(protocol.ErrorCodeInternalError, "failed to evaluate policy", err)
	}
	if !decision.Allowed() {
		return failWith(protocol.ErrorCodePolicyBlocked, decision.Reason, nil)
	}
	return nil
}

func (a *Actor) handleChat(ctx context.Context, origin session.Sink, text string) error {
	a.reply(origin, protocol.NewStatus(StatusThinking))

	// The context is built before the new message is stored so it appears once.
	buildCtx, cancel := a.storeContext(ctx)
	turns, err := a.builder.Build(buildCtx, text, a.opts.ContextMaxMessages)
	cancel()
	if err != nil {
		return failWith(protocol.ErrorCodeStoreFailed, "failed to load conversation history", err)
	}

	if err := a.appendMessage(ctx, domain.RoleUser, text); err != nil {
		return failWith(protocol.ErrorCodePersistFailed, "failed to save your message", err)
	}

	var results []domain.SearchResult
	if a.deps.Augmenter != nil && a.deps.Augmenter.Wants(text) {
		a.reply(origin, protocol.NewStatus(StatusSearching))
		turns, results = a.deps.Augmenter.Augment(ctx, text, turns)
	}

	reply := a.deps.Inferer.Infer(ctx, turns)
	if reply.Fallback {
		a.logger.Info("reply served by fallback", zap.String("reason", reply.Reason))
	}

	if err := a.appendMessage(ctx, domain.RoleAssistant, reply.Text); err != nil {
		return failWith(protocol.ErrorCodePersistFailed, "failed to save the reply", err)
	}

	if len(results) > 0 {
		a.publish(origin, protocol.NewSearchResults(text, results))
	}
	a.publish(origin, protocol.NewChatResponse(reply.Text))
	return nil
}

func (a *Actor) handleResearch(ctx context.Context, origin session.Sink, query string) error {
	if a.deps.Augmenter == nil || !a.deps.Augmenter.Enabled() {
		return failWith(protocol.ErrorCodeSearchFailed, "web search is not configured", nil)
	}
	a.reply(origin, protocol.NewStatus(StatusResearching))

	results, err := a.deps.Augmenter.Search(ctx, query)
	if err != nil {
		return failWith(protocol.ErrorCodeSearchFailed, "search failed", err)
	}

	summary := augment.Digest(query, results)
	if len(results) > 0 {
		turns := []prompt.Turn{
			{Role: domain.RoleSystem, Content: a.builder.Directive()},
			{Role: domain.RoleUser, Content: "Summarize the research results for: " + query},
		}
		if reply := a.deps.Inferer.Infer(ctx, augment.Inject(turns, results)); !reply.Fallback {
			summary = reply.Text
		}
	}

	var saveErr error
	for attempt := 0; attempt < 2; attempt++ {
		storeCtx, cancel := a.storeContext(ctx)
		_, saveErr = a.store.AddResearch(storeCtx, query, results, summary)
		cancel()
		if saveErr == nil {
			break
		}
	}
	if saveErr != nil {
		return failWith(protocol.ErrorCodePersistFailed, "failed to save research", saveErr)
	}

	a.publish(origin, protocol.NewResearchResponse(query, results, summary))
	return nil
}

func (a *Actor) handleSaveNote(ctx context.Context, origin session.Sink, note string) error {
	storeCtx, cancel := a.storeContext(ctx)
	defer cancel()
	saved, err := a.store.AddNote(storeCtx, note)
	if err != nil {
		return failWith(protocol.ErrorCodePersistFailed, "failed to save note", err)
	}
	a.publish(origin, protocol.NewNoteSaved(fmt.Sprintf("Note saved: %s", saved.Content)))
	return nil
}

func (a *Actor) handleGetNotes(ctx context.Context, origin session.Sink) error {
	storeCtx, cancel := a.storeContext(ctx)
	defer cancel()
	notes, err := a.store.ListNotes(storeCtx)
	if err != nil {
		return failWith(protocol.ErrorCodeStoreFailed, "failed to load notes", err)
	}
	a.reply(origin, protocol.NewNotesResponse(notes))
	return nil
}

func (a *Actor) handleGetHistory(ctx context.Context, origin session.Sink) error {
	storeCtx, cancel := a.storeContext(ctx)
	defer cancel()
	history, err := a.store.RecentWindow(storeCtx, a.opts.HistoryLimit)
	if err != nil {
		return failWith(protocol.ErrorCodeStoreFailed, "failed to load history", err)
	}
	a.reply(origin, protocol.NewHistoryResponse(history))
	return nil
}

func (a *Actor) handleClearHistory(ctx context.Context, origin session.Sink) error {
	storeCtx, cancel := a.storeContext(ctx)
	defer cancel()
	if err := a.store.DeleteAll(storeCtx); err != nil {
		return failWith(protocol.ErrorCodePersistFailed, "failed to clear history", err)
	}
	a.cache.reset()
	a.publish(origin, protocol.NewHistoryCleared("Conversation history cleared"))
	return nil
}

func (a *Actor) handleGetResearch(ctx context.Context, origin session.Sink) error {
	storeCtx, cancel := a.storeContext(ctx)
	defer cancel()
	records, err := a.store.ListResearch(storeCtx, researchListLimit)
	if err != nil {
		return failWith(protocol.ErrorCodeStoreFailed, "failed to load research", err)
	}
	a.reply(origin, protocol.NewResearchHistory(records))
	return nil
}

// appendMessage stores a message, retrying once, and feeds the cache.
func (a *Actor) appendMessage(ctx context.Context, role domain.Role, content string) error {
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		storeCtx, cancel := a.storeContext(ctx)
		var msg domain.Message
		msg, err = a.store.Append(storeCtx, role, content)
		cancel()
		if err == nil {
			a.cache.push(msg)
			return nil
		}
		if attempt == 0 {
			a.logger.Warn("append failed, retrying", zap.String("role", string(role)), zap.Error(err))
		}
	}
	return fmt.Errorf("%w: %v", domain.ErrPersist, err)
}
