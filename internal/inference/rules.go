package inference

import (
	"fmt"
	"os"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"
)

// Responder produces a local reply for a user message without calling a model.
type Responder interface {
	Respond(input string) string
}

// Rule maps keywords to a canned response. A rule without keywords matches everything.
type Rule struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
	Response string   `yaml:"response"`
}

// RuleTable is an ordered keyword→response table; the first matching rule wins.
type RuleTable struct {
	rules []Rule
}

var _ Responder = (*RuleTable)(nil)

// DefaultRules is the built-in fallback table.
var DefaultRules = []Rule{
	{
		Name:     "greeting",
		Keywords: []string{"hello", "hi", "hey", "good morning", "good afternoon", "good evening", "greetings"},
		Response: "Hello! I'm running in offline mode right now, but I'm still here. What can I do for you?",
	},
	{
		Name:     "help",
		Keywords: []string{"help", "what can you do", "how do i", "commands"},
		Response: "I can chat with you, save notes, list your notes, show or clear the conversation history, and run web research when search is available.",
	},
	{
		Name:     "thanks",
		Keywords: []string{"thanks", "thank you", "thx", "cheers"},
		Response: "You're welcome!",
	},
	{
		Name:     "default",
		Response: "I can't reach my language model at the moment, so I can't give you a full answer. Your message has been saved; please try again shortly.",
	},
}

// NewRuleTable builds a table from rules. The table always ends with a catch-all.
func NewRuleTable(rules []Rule) *RuleTable {
	table := &RuleTable{rules: append([]Rule(nil), rules...)}
	if len(table.rules) == 0 || len(table.rules[len(table.rules)-1].Keywords) != 0 {
		table.rules = append(table.rules, DefaultRules[len(DefaultRules)-1])
	}
	return table
}

// LoadRules reads a YAML list of rules from path.
func LoadRules(path string) (*RuleTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fallback rules: %w", err)
	}
	var rules []Rule
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("failed to parse fallback rules: %w", err)
	}
	for i, r := range rules {
		if strings.TrimSpace(r.Response) == "" {
			return nil, fmt.Errorf("fallback rule %d (%s) has no response", i, r.Name)
		}
	}
	return NewRuleTable(rules), nil
}

// Respond returns the response of the first rule matching input.
func (t *RuleTable) Respond(input string) string {
	return t.Match(input).Response
}

// Match returns the first rule matching input.
func (t *RuleTable) Match(input string) Rule {
	normalized := Normalize(input)
	for _, r := range t.rules {
		if len(r.Keywords) == 0 {
			return r
		}
		if ContainsAny(normalized, r.Keywords) {
			return r
		}
	}
	return t.rules[len(t.rules)-1]
}

// Normalize lowercases s and collapses it into space-separated words with a
// leading and trailing space, so phrases can be matched on word boundaries.
func Normalize(s string) string {
	words := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
	return " " + strings.Join(words, " ") + " "
}

// ContainsAny reports whether any keyword occurs as a whole word or phrase in normalized.
func ContainsAny(normalized string, keywords []string) bool {
	for _, kw := range keywords {
		k := strings.TrimSpace(Normalize(kw))
		if k == "" {
			continue
		}
		if strings.Contains(normalized, " "+k+" ") {
			return true
		}
	}
	return false
}
