package protocol

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/chatd/internal/domain"
)

func TestDecodeKnownFrames(t *testing.T) {
	tests := []struct {
		raw      string
		wantType string
		wantText string
	}{
		{`{"type":"chat","message":"hello"}`, TypeChat, "hello"},
		{`{"type":"research","query":"go generics"}`, TypeResearch, "go generics"},
		{`{"type":"save_note","note":"buy milk"}`, TypeSaveNote, "buy milk"},
		{`{"type":"get_notes"}`, TypeGetNotes, ""},
		{`{"type":"get_history"}`, TypeGetHistory, ""},
		{`{"type":"clear_history"}`, TypeClearHistory, ""},
		{`{"type":"get_research"}`, TypeGetResearch, ""},
	}

	for _, tt := range tests {
		t.Run(tt.wantType, func(t *testing.T) {
			frame, err := Decode([]byte(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, frame.FrameType())
			assert.Equal(t, tt.wantText, frame.Text())
		})
	}
}

func TestDecodeRejectsBadInput(t *testing.T) {
	_, err := Decode([]byte(`{not json`))
	assert.True(t, errors.Is(err, domain.ErrInvalidFrame))

	_, err = Decode([]byte(`{"message":"no type"}`))
	assert.True(t, errors.Is(err, domain.ErrInvalidFrame))

	_, err = Decode([]byte(`{"type":"dance"}`))
	assert.True(t, errors.Is(err, domain.ErrUnknownFrame))

	_, err = Decode([]byte(`{"type":"chat","message":42}`))
	assert.True(t, errors.Is(err, domain.ErrInvalidFrame))
}

func TestOutboundEncoding(t *testing.T) {
	data, err := json.Marshal(NewChatResponse("hi"))
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, TypeChatResponse, decoded["type"])
	assert.Equal(t, "hi", decoded["message"])
	assert.NotZero(t, decoded["timestamp"])

	data, err = json.Marshal(NewNotesResponse(nil))
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(mustField(t, data, "notes")))
}

func mustField(t *testing.T, data []byte, field string) json.RawMessage {
	t.Helper()
	var m map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &m))
	return m[field]
}
