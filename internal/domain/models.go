package domain

import "time"

// Message is one immutable entry of an actor's conversation log.
// IDs are assigned by the store and increase monotonically.
type Message struct {
	ID        int64     `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"timestamp"`
}

// Note is a free-form note saved by the user.
type Note struct {
	ID        int64     `json:"id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"timestamp"`
}

// SearchResult is one snippet returned by the web search capability.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// ResearchRecord stores a research query together with its raw results and summary.
type ResearchRecord struct {
	ID        int64          `json:"id"`
	Query     string         `json:"query"`
	Results   []SearchResult `json:"results"`
	Summary   string         `json:"summary"`
	CreatedAt time.Time      `json:"timestamp"`
}
