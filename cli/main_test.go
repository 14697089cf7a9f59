package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseInput(t *testing.T) {
	tests := []struct {
		line string
		want map[string]string
	}{
		{"hello there", map[string]string{"type": "chat", "message": "hello there"}},
		{"/note buy milk", map[string]string{"type": "save_note", "note": "buy milk"}},
		{"/notes", map[string]string{"type": "get_notes"}},
		{"/history", map[string]string{"type": "get_history"}},
		{"/clear", map[string]string{"type": "clear_history"}},
		{"/research go generics", map[string]string{"type": "research", "query": "go generics"}},
		{"/researched", map[string]string{"type": "get_research"}},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, quit, err := parseInput(tt.line)
			require.NoError(t, err)
			assert.False(t, quit)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseInputErrors(t *testing.T) {
	_, quit, err := parseInput("/quit")
	assert.NoError(t, err)
	assert.True(t, quit)

	for _, line := range []string{"/note", "/research  ", "/dance"} {
		_, _, err := parseInput(line)
		assert.Error(t, err, line)
	}
}

func TestWSURL(t *testing.T) {
	assert.Equal(t, "ws://localhost:8090/agents/a/ws", wsURL("http://localhost:8090/", "a"))
	assert.Equal(t, "wss://example.com/agents/b/ws", wsURL("https://example.com", "b"))
}

func TestRender(t *testing.T) {
	assert.Equal(t, "agent: hi", render([]byte(`{"type":"chat_response","message":"hi"}`)))
	assert.Equal(t, "error [policy_blocked]: empty content", render([]byte(`{"type":"error","code":"policy_blocked","message":"empty content"}`)))
	assert.Equal(t, "(no history)", render([]byte(`{"type":"history_response","history":[]}`)))
	assert.Equal(t, "user: a\nassistant: b", render([]byte(`{"type":"history_response","history":[{"role":"user","content":"a"},{"role":"assistant","content":"b"}]}`)))
}
