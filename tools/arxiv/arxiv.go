// Package arxiv provides a paper-search tool backed by the arXiv Atom API.
package arxiv

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mfadhil/agentos"
)

// Tool searches arXiv and returns the top matching papers.
type Tool struct {
	client  *http.Client
	baseURL string
}

// Option configures an arxiv Tool.
type Option func(*Tool)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(t *Tool) { t.client = c }
}

// WithBaseURL overrides the arXiv API base. Used in tests.
func WithBaseURL(u string) Option {
	return func(t *Tool) { t.baseURL = u }
}

// New creates an arXiv search tool with a 15-second timeout.
func New(opts ...Option) *Tool {
	t := &Tool{
		client:  &http.Client{Timeout: 15 * time.Second},
		baseURL: "https://export.arxiv.org/api/query",
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Tool) Definitions() []agentos.ToolDefinition {
	return []agentos.ToolDefinition{{
		Name:        "arxiv_search",
		Description: "Search arXiv for academic papers. Returns title, authors, summary, and link for the top matches.",
		Parameters:  json.RawMessage(`{"type":"object","properties":{"query":{"type":"string","description":"Search query, e.g. \"transformer attention\""},"max_results":{"type":"integer","description":"Number of papers to return (default 5, max 20)"}},"required":["query"]}`),
	}}
}

func (t *Tool) Execute(ctx context.Context, _ string, args json.RawMessage) (agentos.ToolResult, error) {
	var params struct {
		Query      string `json:"query"`
		MaxResults int    `json:"max_results"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return agentos.ToolResult{Error: "invalid args: " + err.Error()}, nil
	}
	if params.Query == "" {
		return agentos.ToolResult{Error: "query is required"}, nil
	}
	if params.MaxResults <= 0 {
		params.MaxResults = 5
	}
	if params.MaxResults > 20 {
		params.MaxResults = 20
	}

	papers, err := t.Search(ctx, params.Query, params.MaxResults)
	if err != nil {
		return agentos.ToolResult{Error: err.Error()}, nil
	}
	if len(papers) == 0 {
		return agentos.ToolResult{Content: fmt.Sprintf("No papers found for %q.", params.Query)}, nil
	}

	content, err := json.Marshal(papers)
	if err != nil {
		return agentos.ToolResult{Error: "encode papers: " + err.Error()}, nil
	}
	return agentos.ToolResult{Content: string(content)}, nil
}

// Paper is one search hit.
type Paper struct {
	Title     string   `json:"title"`
	Authors   []string `json:"authors"`
	Summary   string   `json:"summary"`
	Published string   `json:"published"`
	Link      string   `json:"link"`
}

// atom feed subset returned by the arXiv query endpoint.
type feed struct {
	Entries []entry `xml:"entry"`
}

type entry struct {
	Title     string   `xml:"title"`
	Summary   string   `xml:"summary"`
	Published string   `xml:"published"`
	ID        string   `xml:"id"`
	Authors   []author `xml:"author"`
}

type author struct {
	Name string `xml:"name"`
}

// Search queries the arXiv API sorted by relevance.
func (t *Tool) Search(ctx context.Context, query string, max int) ([]Paper, error) {
	u := fmt.Sprintf("%s?search_query=all:%s&start=0&max_results=%d&sortBy=relevance",
		t.baseURL, url.QueryEscape(query), max)

	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("arxiv API error: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("arxiv API HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("arxiv read error: %w", err)
	}

	var f feed
	if err := xml.Unmarshal(body, &f); err != nil {
		return nil, fmt.Errorf("arxiv parse error: %w", err)
	}

	papers := make([]Paper, 0, len(f.Entries))
	for _, e := range f.Entries {
		var names []string
		for _, a := range e.Authors {
			names = append(names, a.Name)
		}
		summary := strings.Join(strings.Fields(e.Summary), " ")
		if len(summary) > 600 {
			summary = summary[:600] + "..."
		}
		papers = append(papers, Paper{
			Title:     strings.Join(strings.Fields(e.Title), " "),
			Authors:   names,
			Summary:   summary,
			Published: e.Published,
			Link:      e.ID,
		})
	}
	return papers, nil
}

var _ agentos.Tool = (*Tool)(nil)
