package augment

import "github.com/xiaot623/gogo/chatd/internal/inference"

// IntentKeywords trigger a web search when they occur in a user message.
var IntentKeywords = []string{
	"search", "look up", "google",
	"latest", "current", "news", "today", "recent",
	"weather", "price of", "how much",
	"what is", "who is", "when is", "where is",
}

// DetectIntent reports whether text looks like it needs fresh information.
// It is a keyword heuristic; false negatives are acceptable.
func DetectIntent(text string) bool {
	return inference.ContainsAny(inference.Normalize(text), IntentKeywords)
}
