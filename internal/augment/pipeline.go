// Package augment enriches an inference context with web search results.
package augment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xiaot623/gogo/chatd/internal/adapter/search"
	"github.com/xiaot623/gogo/chatd/internal/domain"
	"github.com/xiaot623/gogo/chatd/internal/metrics"
	"github.com/xiaot623/gogo/chatd/internal/prompt"
	"github.com/xiaot623/gogo/chatd/internal/tracing"
)

const (
	MinResults = 3
	MaxResults = 5

	DefaultSnippetChars = 500
)

// Options tunes a Pipeline.
type Options struct {
	MaxResults   int
	SnippetChars int // upper bound in runes, ellipsis included
	Timeout      time.Duration
}

// Pipeline performs intent detection, search and preamble injection.
type Pipeline struct {
	searcher     search.Searcher
	maxResults   int
	snippetChars int
	timeout      time.Duration
	logger       *zap.Logger
}

// NewPipeline creates a pipeline. A nil searcher disables augmentation.
func NewPipeline(searcher search.Searcher, opts Options, logger *zap.Logger) *Pipeline {
	n := opts.MaxResults
	if n < MinResults {
		n = MinResults
	}
	if n > MaxResults {
		n = MaxResults
	}
	chars := opts.SnippetChars
	if chars <= 0 {
		chars = DefaultSnippetChars
	}
	return &Pipeline{
		searcher:     searcher,
		maxResults:   n,
		snippetChars: chars,
		timeout:      opts.Timeout,
		logger:       logger,
	}
}

// Enabled reports whether a searcher is configured.
func (p *Pipeline) Enabled() bool {
	return p != nil && p.searcher != nil
}

// Wants reports whether text should be augmented.
func (p *Pipeline) Wants(text string) bool {
	return p.Enabled() && DetectIntent(text)
}

// Search queries the searcher, keeping at most the configured number of
// results and truncating their snippets.
func (p *Pipeline) Search(ctx context.Context, query string) ([]domain.SearchResult, error) {
	if !p.Enabled() {
		return nil, fmt.Errorf("search is not configured")
	}

	ctx, span := tracing.StartSearchSpan(ctx, query)
	defer span.End()

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	results, err := p.searcher.Search(ctx, query, p.maxResults)
	if err != nil {
		metrics.SearchTotal.WithLabelValues("error").Inc()
		tracing.Fail(span, err)
		return nil, err
	}
	metrics.SearchTotal.WithLabelValues("ok").Inc()

	if len(results) > p.maxResults {
		results = results[:p.maxResults]
	}
	out := make([]domain.SearchResult, len(results))
	for i, r := range results {
		r.Snippet = truncate(r.Snippet, p.snippetChars)
		out[i] = r
	}
	return out, nil
}

// Augment injects search results for text into turns when intent is
// detected. On any search failure the original turns are returned with no
// results.
func (p *Pipeline) Augment(ctx context.Context, text string, turns []prompt.Turn) ([]prompt.Turn, []domain.SearchResult) {
	if !p.Wants(text) {
		return turns, nil
	}
	results, err := p.Search(ctx, text)
	if err != nil {
		p.logger.Warn("search failed, continuing without augmentation", zap.Error(err))
		return turns, nil
	}
	if len(results) == 0 {
		return turns, nil
	}
	return Inject(turns, results), results
}

// Inject returns a copy of turns with the search preamble placed after the
// leading system directive, or first when there is none.
func Inject(turns []prompt.Turn, results []domain.SearchResult) []prompt.Turn {
	at := 0
	if len(turns) > 0 && turns[0].Role == domain.RoleSystem {
		at = 1
	}
	out := make([]prompt.Turn, 0, len(turns)+1)
	out = append(out, turns[:at]...)
	out = append(out, prompt.Turn{Role: domain.RoleSystem, Content: Preamble(results)})
	out = append(out, turns[at:]...)
	return out
}

// Preamble renders results as a system message.
func Preamble(results []domain.SearchResult) string {
	var b strings.Builder
	b.WriteString("Relevant web search results (use them to answer and cite the URLs you rely on):\n")
	for i, r := range results {
		fmt.Fprintf(&b, "\n[%d] %s\nURL: %s\n%s\n", i+1, r.Title, r.URL, r.Snippet)
	}
	return b.String()
}

// Digest is a model-free summary of results for query.
func Digest(query string, results []domain.SearchResult) string {
	if len(results) == 0 {
		return fmt.Sprintf("No results found for %q.", query)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Top results for %q:", query)
	for i, r := range results {
		fmt.Fprintf(&b, "\n%d. %s (%s): %s", i+1, r.Title, r.URL, r.Snippet)
	}
	return b.String()
}

const ellipsis = "..."

// truncate shortens s to at most n runes, ending in an ellipsis when cut.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	if n <= len(ellipsis) {
		return string(runes[:n])
	}
	return string(runes[:n-len(ellipsis)]) + ellipsis
}
