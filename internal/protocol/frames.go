// Package protocol defines the WebSocket frame protocol between clients and agents.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/xiaot623/gogo/chatd/internal/domain"
)

// Frame types from client to agent
const (
	TypeChat         = "chat"
	TypeResearch     = "research"
	TypeSaveNote     = "save_note"
	TypeGetNotes     = "get_notes"
	TypeGetHistory   = "get_history"
	TypeClearHistory = "clear_history"
	TypeGetResearch  = "get_research"
)

// Frame types from agent to client
const (
	TypeConnected        = "connected"
	TypeStatus           = "status"
	TypeChatResponse     = "chat_response"
	TypeSearchResults    = "search_results"
	TypeResearchResponse = "research_response"
	TypeNoteSaved        = "note_saved"
	TypeNotesResponse    = "notes_response"
	TypeHistoryResponse  = "history_response"
	TypeHistoryCleared   = "history_cleared"
	TypeResearchHistory  = "research_history"
	TypeError            = "error"
)

// Error codes
const (
	ErrorCodeInvalidMessage = "invalid_message"
	ErrorCodeUnknownType    = "unknown_type"
	ErrorCodePolicyBlocked  = "policy_blocked"
	ErrorCodePersistFailed  = "persist_failed"
	ErrorCodeStoreFailed    = "store_failed"
	ErrorCodeSearchFailed   = "search_failed"
	ErrorCodeInternalError  = "internal_error"
)

// BaseMessage contains common fields for all frames.
type BaseMessage struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// FrameType returns the frame's type tag.
func (b BaseMessage) FrameType() string { return b.Type }

// Inbound is the closed set of frames a client may send.
type Inbound interface {
	FrameType() string
	// Text is the user-supplied content carried by the frame, if any.
	Text() string
	inbound()
}

// Outbound is any frame sent to a client.
type Outbound interface {
	FrameType() string
}

// ChatFrame asks the agent for a reply.
type ChatFrame struct {
	BaseMessage
	Message string `json:"message"`
}

// ResearchFrame asks the agent to search the web and summarize.
type ResearchFrame struct {
	BaseMessage
	Query string `json:"query"`
}

// SaveNoteFrame stores a note.
type SaveNoteFrame struct {
	BaseMessage
	Note string `json:"note"`
}

// GetNotesFrame lists saved notes.
type GetNotesFrame struct{ BaseMessage }

// GetHistoryFrame lists stored messages.
type GetHistoryFrame struct{ BaseMessage }

// ClearHistoryFrame deletes all stored messages.
type ClearHistoryFrame struct{ BaseMessage }

// GetResearchFrame lists stored research records.
type GetResearchFrame struct{ BaseMessage }

func (f ChatFrame) Text() string         { return f.Message }
func (f ResearchFrame) Text() string     { return f.Query }
func (f SaveNoteFrame) Text() string     { return f.Note }
func (f GetNotesFrame) Text() string     { return "" }
func (f GetHistoryFrame) Text() string   { return "" }
func (f ClearHistoryFrame) Text() string { return "" }
func (f GetResearchFrame) Text() string  { return "" }

func (ChatFrame) inbound()         {}
func (ResearchFrame) inbound()     {}
func (SaveNoteFrame) inbound()     {}
func (GetNotesFrame) inbound()     {}
func (GetHistoryFrame) inbound()   {}
func (ClearHistoryFrame) inbound() {}
func (GetResearchFrame) inbound()  {}

// Decode parses a raw client frame into its typed variant.
func Decode(data []byte) (Inbound, error) {
	var base BaseMessage
	if err := json.Unmarshal(data, &base); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON message", domain.ErrInvalidFrame)
	}

	var frame Inbound
	switch base.Type {
	case TypeChat:
		frame = &ChatFrame{}
	case TypeResearch:
		frame = &ResearchFrame{}
	case TypeSaveNote:
		frame = &SaveNoteFrame{}
	case TypeGetNotes:
		frame = &GetNotesFrame{}
	case TypeGetHistory:
		frame = &GetHistoryFrame{}
	case TypeClearHistory:
		frame = &ClearHistoryFrame{}
	case TypeGetResearch:
		frame = &GetResearchFrame{}
	case "":
		return nil, fmt.Errorf("%w: missing type", domain.ErrInvalidFrame)
	default:
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownFrame, base.Type)
	}

	if err := json.Unmarshal(data, frame); err != nil {
		return nil, fmt.Errorf("%w: invalid %s message", domain.ErrInvalidFrame, base.Type)
	}
	return frame, nil
}

// Now returns the frame timestamp for the current instant.
func Now() int64 {
	return time.Now().UnixMilli()
}
