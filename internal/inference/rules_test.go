package inference

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRuleTableMatch(t *testing.T) {
	table := NewRuleTable(DefaultRules)

	tests := []struct {
		input string
		want  string
	}{
		{"hello", "greeting"},
		{"Hey there!", "greeting"},
		{"Good morning, agent", "greeting"},
		{"can you help me?", "help"},
		{"What can you do", "help"},
		{"thanks!", "thanks"},
		{"Thank you so much", "thanks"},
		{"this is a long question about history", "default"},
		{"", "default"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, table.Match(tt.input).Name)
		})
	}
}

func TestRuleTableWholeWords(t *testing.T) {
	table := NewRuleTable(DefaultRules)
	// "hi" inside "this" and "history" must not trigger the greeting.
	assert.Equal(t, "default", table.Match("this history").Name)
}

func TestRuleTableFirstMatchWins(t *testing.T) {
	table := NewRuleTable(DefaultRules)
	assert.Equal(t, "greeting", table.Match("hello, thanks for the help").Name)
}

func TestNewRuleTableAppendsCatchAll(t *testing.T) {
	table := NewRuleTable([]Rule{{Name: "ping", Keywords: []string{"ping"}, Response: "pong"}})

	assert.Equal(t, "pong", table.Respond("ping"))
	assert.NotEmpty(t, table.Respond("anything else"))
	assert.Equal(t, "default", table.Match("anything else").Name)
}

func TestLoadRules(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	content := `
- name: weather
  keywords: ["rain", "sunny"]
  response: "I can't check the weather offline."
- name: fallback
  response: "Offline."
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	table, err := LoadRules(path)
	require.NoError(t, err)
	assert.Equal(t, "I can't check the weather offline.", table.Respond("will it rain?"))
	assert.Equal(t, "Offline.", table.Respond("hello"))
}

func TestLoadRulesErrors(t *testing.T) {
	_, err := LoadRules(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("- name: x\n  keywords: [a]\n"), 0o600))
	_, err = LoadRules(path)
	assert.Error(t, err)
}
