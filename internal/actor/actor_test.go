package actor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/xiaot623/gogo/chatd/internal/augment"
	"github.com/xiaot623/gogo/chatd/internal/domain"
	"github.com/xiaot623/gogo/chatd/internal/inference"
	"github.com/xiaot623/gogo/chatd/internal/policy"
	"github.com/xiaot623/gogo/chatd/internal/prompt"
	"github.com/xiaot623/gogo/chatd/internal/protocol"
	store "github.com/xiaot623/gogo/chatd/internal/repository"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// recordingSink is a session that keeps every frame it receives.
type recordingSink struct {
	id     string
	mu     sync.Mutex
	frames []protocol.Outbound
	closed bool
}

func newSink(id string) *recordingSink { return &recordingSink{id: id} }

func (s *recordingSink) ID() string { return s.id }

func (s *recordingSink) Open() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

func (s *recordingSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *recordingSink) Deliver(frame protocol.Outbound) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, frame)
	return nil
}

func (s *recordingSink) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.frames))
	for _, f := range s.frames {
		out = append(out, f.FrameType())
	}
	return out
}

type flakyStore struct {
	store.Store
	mu            sync.Mutex
	failAppends   int // remaining appends to fail
	failAssistant bool
}

func (f *flakyStore) Append(ctx context.Context, role domain.Role, content string) (domain.Message, error) {
	f.mu.Lock()
	fail := f.failAppends > 0 || (f.failAssistant && role == domain.RoleAssistant)
	if f.failAppends > 0 {
		f.failAppends--
	}
	f.mu.Unlock()
	if fail {
		return domain.Message{}, errors.New("disk full")
	}
	return f.Store.Append(ctx, role, content)
}

type panickingInferer struct{ calls int }

func (p *panickingInferer) Infer(context.Context, []prompt.Turn) inference.Reply {
	p.calls++
	if p.calls == 1 {
		panic("boom")
	}
	return inference.Reply{Text: "recovered"}
}

type stubAugmenter struct {
	results []domain.SearchResult
	err     error
}

func (s *stubAugmenter) Enabled() bool          { return true }
func (s *stubAugmenter) Wants(text string) bool { return augment.DetectIntent(text) }
func (s *stubAugmenter) Search(context.Context, string) ([]domain.SearchResult, error) {
	return s.results, s.err
}
func (s *stubAugmenter) Augment(_ context.Context, _ string, turns []prompt.Turn) ([]prompt.Turn, []domain.SearchResult) {
	if s.err != nil {
		return turns, nil
	}
	return augment.Inject(turns, s.results), s.results
}

func newTestActor(t *testing.T, st store.Store, deps Deps) *Actor {
	t.Helper()
	if st == nil {
		var err error
		st, err = store.NewSQLiteStore(":memory:")
		require.NoError(t, err)
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	a := New("agent-1", func(context.Context) (store.Store, error) { return st, nil }, deps, Options{
		SystemPrompt:       "You are a test assistant.",
		ContextMaxMessages: 10,
		HistoryLimit:       100,
		StoreTimeout:       time.Second,
		MailboxSize:        16,
	})
	require.NoError(t, a.Activate(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Dispose(ctx)
	})
	return a
}

func deliver(t *testing.T, a *Actor, frame protocol.Inbound) *Response {
	t.Helper()
	resp, err := a.Deliver(context.Background(), frame)
	require.NoError(t, err)
	return resp
}

func chat(msg string) *protocol.ChatFrame {
	return &protocol.ChatFrame{BaseMessage: protocol.BaseMessage{Type: protocol.TypeChat}, Message: msg}
}

func findFrame[T protocol.Outbound](frames []protocol.Outbound) (T, bool) {
	for _, f := range frames {
		if v, ok := f.(T); ok {
			return v, true
		}
	}
	var zero T
	return zero, false
}

func history(t *testing.T, a *Actor) []domain.Message {
	t.Helper()
	resp := deliver(t, a, &protocol.GetHistoryFrame{BaseMessage: protocol.BaseMessage{Type: protocol.TypeGetHistory}})
	h, ok := findFrame[*protocol.HistoryResponseMessage](resp.Frames)
	require.True(t, ok)
	return h.History
}

func TestActivateTransitionsToReady(t *testing.T) {
	a := New("agent-1", func(context.Context) (store.Store, error) { return store.NewSQLiteStore(":memory:") }, Deps{}, Options{})
	assert.Equal(t, StateInactive, a.State())

	require.NoError(t, a.Activate(context.Background()))
	assert.Equal(t, StateReady, a.State())
	assert.Error(t, a.Activate(context.Background()))

	require.NoError(t, a.Dispose(context.Background()))
	assert.Equal(t, StateDisposed, a.State())
	<-a.Stopped()
}

func TestActivateFailure(t *testing.T) {
	a := New("agent-1", func(context.Context) (store.Store, error) { return nil, errors.New("no disk") }, Deps{}, Options{})
	assert.Error(t, a.Activate(context.Background()))
	assert.Equal(t, StateInactive, a.State())
	require.NoError(t, a.Dispose(context.Background()))
}

func TestHelloWithoutInference(t *testing.T) {
	st, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	a := newTestActor(t, st, Deps{})

	resp := deliver(t, a, chat("hello"))

	assert.Equal(t, []string{protocol.TypeStatus, protocol.TypeChatResponse}, frameTypes(resp.Frames))
	reply, ok := findFrame[*protocol.ChatResponseMessage](resp.Frames)
	require.True(t, ok)
	assert.Equal(t, inference.DefaultRules[0].Response, reply.Message)
	assert.Equal(t, 2, resp.MessageCount)

	msgs, err := st.RecentWindow(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, domain.RoleUser, msgs[0].Role)
	assert.Equal(t, "hello", msgs[0].Content)
	assert.Equal(t, domain.RoleAssistant, msgs[1].Role)
	assert.Equal(t, reply.Message, msgs[1].Content)
}

func TestChatOrderMatchesSendOrder(t *testing.T) {
	a := newTestActor(t, nil, Deps{})
	sink := newSink("ws-1")
	require.NoError(t, a.Register(sink))

	for i := 0; i < 5; i++ {
		raw, _ := json.Marshal(chat(fmt.Sprintf("message %d", i)))
		require.NoError(t, a.HandleInbound(sink, raw))
	}

	msgs := history(t, a)
	require.Len(t, msgs, 10)
	for i := 0; i < 5; i++ {
		assert.Equal(t, fmt.Sprintf("message %d", i), msgs[2*i].Content)
		assert.Equal(t, domain.RoleAssistant, msgs[2*i+1].Role)
		if i > 0 {
			assert.Greater(t, msgs[2*i].ID, msgs[2*i-1].ID)
		}
	}
}

func TestContextExcludesDuplicateUserMessage(t *testing.T) {
	rec := &recordingInferer{}
	a := newTestActor(t, nil, Deps{Inferer: rec})

	deliver(t, a, chat("first"))
	deliver(t, a, chat("second"))

	require.Len(t, rec.calls, 2)
	last := rec.calls[1]
	require.Len(t, last, 4)
	assert.Equal(t, domain.RoleSystem, last[0].Role)
	assert.Equal(t, "first", last[1].Content)
	assert.Equal(t, "reply", last[2].Content)
	assert.Equal(t, "second", last[3].Content)
}

type recordingInferer struct{ calls [][]prompt.Turn }

func (r *recordingInferer) Infer(_ context.Context, turns []prompt.Turn) inference.Reply {
	r.calls = append(r.calls, turns)
	return inference.Reply{Text: "reply"}
}

func TestClearHistoryIdempotent(t *testing.T) {
	a := newTestActor(t, nil, Deps{})
	deliver(t, a, chat("hello"))
	require.Len(t, history(t, a), 2)

	clearFrame := &protocol.ClearHistoryFrame{BaseMessage: protocol.BaseMessage{Type: protocol.TypeClearHistory}}
	for i := 0; i < 2; i++ {
		resp := deliver(t, a, clearFrame)
		_, ok := findFrame[*protocol.HistoryClearedMessage](resp.Frames)
		assert.True(t, ok)
		assert.Empty(t, history(t, a))
		assert.Empty(t, history(t, a))
	}
}

func TestNotes(t *testing.T) {
	a := newTestActor(t, nil, Deps{})

	resp := deliver(t, a, &protocol.SaveNoteFrame{BaseMessage: protocol.BaseMessage{Type: protocol.TypeSaveNote}, Note: "buy milk"})
	_, ok := findFrame[*protocol.NoteSavedMessage](resp.Frames)
	require.True(t, ok)

	resp = deliver(t, a, &protocol.GetNotesFrame{BaseMessage: protocol.BaseMessage{Type: protocol.TypeGetNotes}})
	notes, ok := findFrame[*protocol.NotesResponseMessage](resp.Frames)
	require.True(t, ok)
	require.Len(t, notes.Notes, 1)
	assert.Equal(t, "buy milk", notes.Notes[0].Content)
	assert.Equal(t, 0, resp.MessageCount)
}

func TestDeliveryContract(t *testing.T) {
	a := newTestActor(t, nil, Deps{})
	origin := newSink("ws-origin")
	other := newSink("ws-other")
	require.NoError(t, a.Register(origin))
	require.NoError(t, a.Register(other))

	raw, _ := json.Marshal(chat("hello"))
	require.NoError(t, a.HandleInbound(origin, raw))
	raw, _ = json.Marshal(protocol.GetNotesFrame{BaseMessage: protocol.BaseMessage{Type: protocol.TypeGetNotes}})
	require.NoError(t, a.HandleInbound(origin, raw))
	raw, _ = json.Marshal(protocol.SaveNoteFrame{BaseMessage: protocol.BaseMessage{Type: protocol.TypeSaveNote}, Note: "n"})
	require.NoError(t, a.HandleInbound(origin, raw))
	require.NoError(t, a.HandleInbound(origin, []byte(`{"type":"dance"}`)))

	// A request from a caller that is not a session acts as a barrier.
	resp := deliver(t, a, &protocol.ClearHistoryFrame{BaseMessage: protocol.BaseMessage{Type: protocol.TypeClearHistory}})

	assert.Equal(t, []string{
		protocol.TypeConnected,
		protocol.TypeStatus, protocol.TypeChatResponse,
		protocol.TypeNotesResponse,
		protocol.TypeNoteSaved,
		protocol.TypeError,
		protocol.TypeHistoryCleared,
	}, origin.types())

	// Shared-state frames reach every session; request-scoped ones do not.
	assert.Equal(t, []string{
		protocol.TypeConnected,
		protocol.TypeChatResponse,
		protocol.TypeNoteSaved,
		protocol.TypeHistoryCleared,
	}, other.types())

	// The non-session origin gets its own copy of the broadcast.
	assert.Equal(t, []string{protocol.TypeHistoryCleared}, frameTypes(resp.Frames))
}

func TestUnregisteredSessionStopsReceiving(t *testing.T) {
	a := newTestActor(t, nil, Deps{})
	s := newSink("ws-1")
	require.NoError(t, a.Register(s))
	require.NoError(t, a.Unregister(s.ID()))

	deliver(t, a, chat("hello"))

	assert.Equal(t, []string{protocol.TypeConnected}, s.types())
	assert.Equal(t, 0, a.Sessions())
}

func TestInvalidFrames(t *testing.T) {
	a := newTestActor(t, nil, Deps{})
	s := newSink("ws-1")
	require.NoError(t, a.Register(s))

	require.NoError(t, a.HandleInbound(s, []byte(`not json`)))
	require.NoError(t, a.HandleInbound(s, []byte(`{"type":"teleport"}`)))
	deliver(t, a, &protocol.GetNotesFrame{BaseMessage: protocol.BaseMessage{Type: protocol.TypeGetNotes}})

	s.mu.Lock()
	defer s.mu.Unlock()
	require.Len(t, s.frames, 3)
	first := s.frames[1].(*protocol.ErrorMessage)
	second := s.frames[2].(*protocol.ErrorMessage)
	assert.Equal(t, protocol.ErrorCodeInvalidMessage, first.Code)
	assert.Equal(t, protocol.ErrorCodeUnknownType, second.Code)
	assert.Equal(t, StateReady, a.State())
}

func TestPanicIsRecovered(t *testing.T) {
	a := newTestActor(t, nil, Deps{Inferer: &panickingInferer{}})

	resp := deliver(t, a, chat("hello"))
	errFrame, ok := findFrame[*protocol.ErrorMessage](resp.Frames)
	require.True(t, ok)
	assert.Equal(t, protocol.ErrorCodeInternalError, errFrame.Code)
	assert.Equal(t, StateReady, a.State())

	resp = deliver(t, a, chat("again"))
	reply, ok := findFrame[*protocol.ChatResponseMessage](resp.Frames)
	require.True(t, ok)
	assert.Equal(t, "recovered", reply.Message)
}

func TestReplyPersistRetriedOnce(t *testing.T) {
	st, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	flaky := &flakyStore{Store: st, failAppends: 1}
	a := newTestActor(t, flaky, Deps{})

	resp := deliver(t, a, chat("hello"))
	_, ok := findFrame[*protocol.ChatResponseMessage](resp.Frames)
	assert.True(t, ok)
	assert.Equal(t, 2, resp.MessageCount)
}

func TestReplyPersistFailureSendsNoReply(t *testing.T) {
	st, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	flaky := &flakyStore{Store: st, failAssistant: true}
	a := newTestActor(t, flaky, Deps{})
	other := newSink("ws-other")
	require.NoError(t, a.Register(other))

	resp := deliver(t, a, chat("hello"))

	_, replied := findFrame[*protocol.ChatResponseMessage](resp.Frames)
	assert.False(t, replied)
	errFrame, ok := findFrame[*protocol.ErrorMessage](resp.Frames)
	require.True(t, ok)
	assert.Equal(t, protocol.ErrorCodePersistFailed, errFrame.Code)
	assert.Equal(t, []string{protocol.TypeConnected}, other.types())
	assert.Equal(t, 1, resp.MessageCount)
}

func TestPolicyBlocksEmptyChat(t *testing.T) {
	engine, err := policy.NewEngine(context.Background(), policy.DefaultPolicy, 20)
	require.NoError(t, err)
	a := newTestActor(t, nil, Deps{Admitter: engine})

	for _, msg := range []string{"   ", "this message is definitely longer than twenty runes"} {
		resp := deliver(t, a, chat(msg))
		errFrame, ok := findFrame[*protocol.ErrorMessage](resp.Frames)
		require.True(t, ok)
		assert.Equal(t, protocol.ErrorCodePolicyBlocked, errFrame.Code)
		assert.Equal(t, 0, resp.MessageCount)
	}
}

func TestChatWithSearchAugmentation(t *testing.T) {
	rec := &recordingInferer{}
	aug := &stubAugmenter{results: []domain.SearchResult{{Title: "Paris", URL: "https://example.com/paris", Snippet: "Capital of France"}}}
	a := newTestActor(t, nil, Deps{Inferer: rec, Augmenter: aug})

	resp := deliver(t, a, chat("what is the capital of France"))

	assert.Equal(t, []string{
		protocol.TypeStatus, protocol.TypeStatus,
		protocol.TypeSearchResults, protocol.TypeChatResponse,
	}, frameTypes(resp.Frames))
	require.Len(t, rec.calls, 1)
	assert.Equal(t, domain.RoleSystem, rec.calls[0][1].Role)
	assert.Contains(t, rec.calls[0][1].Content, "Capital of France")
	assert.Equal(t, 2, resp.MessageCount)
}

func TestChatSearchFailureDegrades(t *testing.T) {
	aug := &stubAugmenter{err: errors.New("search down")}
	a := newTestActor(t, nil, Deps{Inferer: &recordingInferer{}, Augmenter: aug})

	resp := deliver(t, a, chat("latest news"))

	assert.Equal(t, []string{protocol.TypeStatus, protocol.TypeStatus, protocol.TypeChatResponse}, frameTypes(resp.Frames))
}

func TestResearch(t *testing.T) {
	results := []domain.SearchResult{{Title: "Go", URL: "https://go.dev", Snippet: "The Go language"}}
	a := newTestActor(t, nil, Deps{Augmenter: &stubAugmenter{results: results}})

	resp := deliver(t, a, &protocol.ResearchFrame{BaseMessage: protocol.BaseMessage{Type: protocol.TypeResearch}, Query: "golang"})
	research, ok := findFrame[*protocol.ResearchResponseMessage](resp.Frames)
	require.True(t, ok)
	assert.Equal(t, "golang", research.Query)
	assert.Equal(t, results, research.Results)
	assert.Contains(t, research.Summary, "https://go.dev")

	resp = deliver(t, a, &protocol.GetResearchFrame{BaseMessage: protocol.BaseMessage{Type: protocol.TypeGetResearch}})
	list, ok := findFrame[*protocol.ResearchHistoryMessage](resp.Frames)
	require.True(t, ok)
	require.Len(t, list.Research, 1)
	assert.Equal(t, "golang", list.Research[0].Query)
	assert.Equal(t, 0, resp.MessageCount)
}

func TestResearchSummaryFromInference(t *testing.T) {
	rec := &recordingInferer{}
	results := []domain.SearchResult{{Title: "Go", URL: "https://go.dev", Snippet: "The Go language"}}
	a := newTestActor(t, nil, Deps{Inferer: rec, Augmenter: &stubAugmenter{results: results}})

	resp := deliver(t, a, &protocol.ResearchFrame{BaseMessage: protocol.BaseMessage{Type: protocol.TypeResearch}, Query: "golang"})
	research, ok := findFrame[*protocol.ResearchResponseMessage](resp.Frames)
	require.True(t, ok)
	assert.Equal(t, "reply", research.Summary)

	require.Len(t, rec.calls, 1)
	turns := rec.calls[0]
	require.Len(t, turns, 3)
	assert.Equal(t, "You are a test assistant.", turns[0].Content)
	assert.Equal(t, domain.RoleSystem, turns[1].Role)
	assert.Equal(t, "Summarize the research results for: golang", turns[2].Content)
}

func TestResearchWithoutSearch(t *testing.T) {
	a := newTestActor(t, nil, Deps{})
	resp := deliver(t, a, &protocol.ResearchFrame{BaseMessage: protocol.BaseMessage{Type: protocol.TypeResearch}, Query: "golang"})
	errFrame, ok := findFrame[*protocol.ErrorMessage](resp.Frames)
	require.True(t, ok)
	assert.Equal(t, protocol.ErrorCodeSearchFailed, errFrame.Code)
}

func TestDisposeClosesSessionsAndRejectsWork(t *testing.T) {
	st, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	a := New("agent-1", func(context.Context) (store.Store, error) { return st, nil }, Deps{}, Options{})
	require.NoError(t, a.Activate(context.Background()))
	s := newSink("ws-1")
	require.NoError(t, a.Register(s))
	_, err = a.Deliver(context.Background(), chat("hello"))
	require.NoError(t, err)

	require.NoError(t, a.Dispose(context.Background()))
	require.NoError(t, a.Dispose(context.Background()))

	assert.True(t, a.Closing())
	assert.False(t, s.Open())
	assert.Equal(t, StateDisposed, a.State())
	_, err = a.Deliver(context.Background(), chat("late"))
	assert.ErrorIs(t, err, domain.ErrActorDisposed)
	assert.ErrorIs(t, a.Register(newSink("ws-2")), domain.ErrActorDisposed)
}

func TestIdle(t *testing.T) {
	a := newTestActor(t, nil, Deps{})
	assert.False(t, a.Idle(time.Now(), time.Hour))
	assert.True(t, a.Idle(time.Now().Add(2*time.Hour), time.Hour))

	s := newSink("ws-1")
	require.NoError(t, a.Register(s))
	deliver(t, a, &protocol.GetNotesFrame{BaseMessage: protocol.BaseMessage{Type: protocol.TypeGetNotes}})
	assert.False(t, a.Idle(time.Now().Add(2*time.Hour), time.Hour))
}

func TestCacheRebuiltOnActivation(t *testing.T) {
	st, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	ctx := context.Background()
	for i := 0; i < 15; i++ {
		_, err := st.Append(ctx, domain.RoleUser, fmt.Sprintf("m%d", i))
		require.NoError(t, err)
	}
	rec := &recordingInferer{}
	a := newTestActor(t, st, Deps{Inferer: rec})

	deliver(t, a, chat("next"))

	require.Len(t, rec.calls, 1)
	turns := rec.calls[0]
	require.Len(t, turns, 12)
	assert.Equal(t, "m5", turns[1].Content)
	assert.Equal(t, "m14", turns[10].Content)
	assert.Equal(t, "next", turns[11].Content)
}

func TestCacheWindowSlidesAndResetsOnClear(t *testing.T) {
	rec := &recordingInferer{}
	a := newTestActor(t, nil, Deps{Inferer: rec})

	for i := 1; i <= 13; i++ {
		deliver(t, a, chat(fmt.Sprintf("c%d", i)))
	}

	require.Len(t, rec.calls, 13)
	turns := rec.calls[12]
	require.Len(t, turns, 12)
	assert.Equal(t, domain.RoleSystem, turns[0].Role)
	assert.Equal(t, "c8", turns[1].Content)
	assert.Equal(t, "reply", turns[10].Content)
	assert.Equal(t, "c13", turns[11].Content)

	resp := deliver(t, a, &protocol.ClearHistoryFrame{BaseMessage: protocol.BaseMessage{Type: protocol.TypeClearHistory}})
	assert.Equal(t, 0, resp.MessageCount)

	deliver(t, a, chat("fresh start"))
	turns = rec.calls[13]
	require.Len(t, turns, 2)
	assert.Equal(t, domain.RoleSystem, turns[0].Role)
	assert.Equal(t, "fresh start", turns[1].Content)

	deliver(t, a, chat("again"))
	turns = rec.calls[14]
	require.Len(t, turns, 4)
	assert.Equal(t, "fresh start", turns[1].Content)
	assert.Equal(t, "again", turns[3].Content)
}

func TestQueuedWorkRefreshesActivity(t *testing.T) {
	a := newTestActor(t, nil, Deps{})
	stale := time.Now().Add(-2 * time.Hour)
	a.lastActive.Store(stale.UnixNano())
	require.True(t, a.Idle(time.Now(), time.Hour))

	require.NoError(t, a.Register(newSink("ws-1")))

	assert.False(t, a.Idle(time.Now(), time.Hour))
	assert.Less(t, time.Since(time.Unix(0, a.lastActive.Load())), time.Minute)
}

func frameTypes(frames []protocol.Outbound) []string {
	out := make([]string, 0, len(frames))
	for _, f := range frames {
		out = append(out, f.FrameType())
	}
	return out
}
