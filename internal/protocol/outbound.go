package protocol

import "github.com/xiaot623/gogo/chatd/internal/domain"

// ConnectedMessage is sent once a connection is registered with an agent.
type ConnectedMessage struct {
	BaseMessage
	Message string `json:"message"`
}

// StatusMessage reports pipeline progress for the current request.
type StatusMessage struct {
	BaseMessage
	Message string `json:"message"`
}

// ChatResponseMessage carries the assistant reply.
type ChatResponseMessage struct {
	BaseMessage
	Message string `json:"message"`
}

// SearchResultsMessage exposes the search results used for a reply, for citation display.
type SearchResultsMessage struct {
	BaseMessage
	Query   string                `json:"query"`
	Results []domain.SearchResult `json:"results"`
}

// ResearchResponseMessage carries the outcome of a research request.
type ResearchResponseMessage struct {
	BaseMessage
	Query   string                `json:"query"`
	Results []domain.SearchResult `json:"results"`
	Summary string                `json:"summary"`
}

// NoteSavedMessage acknowledges a saved note.
type NoteSavedMessage struct {
	BaseMessage
	Message string `json:"message"`
}

// NotesResponseMessage lists saved notes.
type NotesResponseMessage struct {
	BaseMessage
	Notes []domain.Note `json:"notes"`
}

// HistoryResponseMessage lists stored messages in chronological order.
type HistoryResponseMessage struct {
	BaseMessage
	History []domain.Message `json:"history"`
}

// HistoryClearedMessage acknowledges a history clear.
type HistoryClearedMessage struct {
	BaseMessage
	Message string `json:"message"`
}

// ResearchHistoryMessage lists stored research records.
type ResearchHistoryMessage struct {
	BaseMessage
	Research []domain.ResearchRecord `json:"research"`
}

// ErrorMessage is sent when a frame cannot be processed.
type ErrorMessage struct {
	BaseMessage
	Code    string `json:"code"`
	Message string `json:"message"`
}

func base(t string) BaseMessage {
	return BaseMessage{Type: t, Timestamp: Now()}
}

func NewConnected(message string) *ConnectedMessage {
	return &ConnectedMessage{BaseMessage: base(TypeConnected), Message: message}
}

func NewStatus(message string) *StatusMessage {
	return &StatusMessage{BaseMessage: base(TypeStatus), Message: message}
}

func NewChatResponse(message string) *ChatResponseMessage {
	return &ChatResponseMessage{BaseMessage: base(TypeChatResponse), Message: message}
}

func NewSearchResults(query string, results []domain.SearchResult) *SearchResultsMessage {
	return &SearchResultsMessage{BaseMessage: base(TypeSearchResults), Query: query, Results: results}
}

func NewResearchResponse(query string, results []domain.SearchResult, summary string) *ResearchResponseMessage {
	if results == nil {
		results = []domain.SearchResult{}
	}
	return &ResearchResponseMessage{BaseMessage: base(TypeResearchResponse), Query: query, Results: results, Summary: summary}
}

func NewNoteSaved(message string) *NoteSavedMessage {
	return &NoteSavedMessage{BaseMessage: base(TypeNoteSaved), Message: message}
}

func NewNotesResponse(notes []domain.Note) *NotesResponseMessage {
	if notes == nil {
		notes = []domain.Note{}
	}
	return &NotesResponseMessage{BaseMessage: base(TypeNotesResponse), Notes: notes}
}

func NewHistoryResponse(history []domain.Message) *HistoryResponseMessage {
	if history == nil {
		history = []domain.Message{}
	}
	return &HistoryResponseMessage{BaseMessage: base(TypeHistoryResponse), History: history}
}

func NewHistoryCleared(message string) *HistoryClearedMessage {
	return &HistoryClearedMessage{BaseMessage: base(TypeHistoryCleared), Message: message}
}

func NewResearchHistory(records []domain.ResearchRecord) *ResearchHistoryMessage {
	if records == nil {
		records = []domain.ResearchRecord{}
	}
	return &ResearchHistoryMessage{BaseMessage: base(TypeResearchHistory), Research: records}
}

func NewError(code, message string) *ErrorMessage {
	return &ErrorMessage{BaseMessage: base(TypeError), Code: code, Message: message}
}
