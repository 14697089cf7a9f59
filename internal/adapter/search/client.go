// Package search is the web search adapter used by the augmentation pipeline.
package search

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/xiaot623/gogo/chatd/internal/domain"
)

// Searcher returns up to count results for query, best match first.
type Searcher interface {
	Search(ctx context.Context, query string, count int) ([]domain.SearchResult, error)
}

// Client talks to a Brave-compatible web search API.
type Client struct {
	url    string
	apiKey string
	client *resty.Client
}

var _ Searcher = (*Client)(nil)

// NewClient creates a search client for the endpoint at url.
func NewClient(url, apiKey string, timeout time.Duration) *Client {
	client := resty.New()
	client.SetTimeout(timeout)
	client.SetRetryCount(1)
	client.SetRetryWaitTime(100 * time.Millisecond)
	client.AddRetryCondition(func(r *resty.Response, err error) bool {
		return err == nil && r.StatusCode() >= http.StatusInternalServerError
	})
	return &Client{url: url, apiKey: apiKey, client: client}
}

type webResponse struct {
	Web struct {
		Results []webResult `json:"results"`
	} `json:"web"`
}

type webResult struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
}

// Search runs query against the API.
func (c *Client) Search(ctx context.Context, query string, count int) ([]domain.SearchResult, error) {
	var body webResponse
	r := c.client.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		SetQueryParam("q", query).
		SetQueryParam("count", strconv.Itoa(count)).
		SetResult(&body)
	if c.apiKey != "" {
		r.SetHeader("X-Subscription-Token", c.apiKey)
	}

	resp, err := r.Get(c.url)
	if err != nil {
		return nil, fmt.Errorf("failed to send search request: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("search API error [%d]: %s", resp.StatusCode(), resp.String())
	}

	results := make([]domain.SearchResult, 0, len(body.Web.Results))
	for _, wr := range body.Web.Results {
		if count > 0 && len(results) >= count {
			break
		}
		results = append(results, domain.SearchResult{
			Title:   wr.Title,
			URL:     wr.URL,
			Snippet: wr.Description,
		})
	}
	return results, nil
}
