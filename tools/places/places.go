// Package places provides a point-of-interest lookup tool backed by the
// OpenStreetMap Nominatim search API (no API key required).
package places

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/mfadhil/agentos"
)

// Tool searches for named places: restaurants, hotels, landmarks.
type Tool struct {
	client    *http.Client
	baseURL   string
	userAgent string
}

// Option configures a places Tool.
type Option func(*Tool)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(t *Tool) { t.client = c }
}

// WithBaseURL overrides the Nominatim API base. Used in tests.
func WithBaseURL(u string) Option {
	return func(t *Tool) { t.baseURL = u }
}

// New creates a places tool with a 10-second timeout.
func New(opts ...Option) *Tool {
	t := &Tool{
		client:    &http.Client{Timeout: 10 * time.Second},
		baseURL:   "https://nominatim.openstreetmap.org/search",
		userAgent: "agentos/1.0",
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Tool) Definitions() []agentos.ToolDefinition {
	return []agentos.ToolDefinition{{
		Name:        "find_places",
		Description: "Find places of interest (restaurants, hotels, attractions, shops) matching a free-text query, optionally near a city.",
		Parameters:  json.RawMessage(`{"type":"object","properties":{"query":{"type":"string","description":"What to find, e.g. \"ramen restaurant\""},"city":{"type":"string","description":"City to search in, e.g. \"Osaka\""},"limit":{"type":"integer","description":"Max results (default 5, max 10)"}},"required":["query"]}`),
	}}
}

func (t *Tool) Execute(ctx context.Context, _ string, args json.RawMessage) (agentos.ToolResult, error) {
	var params struct {
		Query string `json:"query"`
		City  string `json:"city"`
		Limit int    `json:"limit"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return agentos.ToolResult{Error: "invalid args: " + err.Error()}, nil
	}
	if params.Query == "" {
		return agentos.ToolResult{Error: "query is required"}, nil
	}
	if params.Limit <= 0 {
		params.Limit = 5
	}
	if params.Limit > 10 {
		params.Limit = 10
	}

	places, err := t.Search(ctx, params.Query, params.City, params.Limit)
	if err != nil {
		return agentos.ToolResult{Error: err.Error()}, nil
	}
	if len(places) == 0 {
		return agentos.ToolResult{Content: fmt.Sprintf("No places found for %q.", params.Query)}, nil
	}

	content, err := json.Marshal(places)
	if err != nil {
		return agentos.ToolResult{Error: "encode places: " + err.Error()}, nil
	}
	return agentos.ToolResult{Content: string(content)}, nil
}

// Place is one point of interest.
type Place struct {
	Name     string `json:"name"`
	Category string `json:"category,omitempty"`
	Address  string `json:"address"`
	Lat      string `json:"lat"`
	Lon      string `json:"lon"`
}

// Search queries Nominatim with the free-text query, scoped to a city when
// one is given.
func (t *Tool) Search(ctx context.Context, query, city string, limit int) ([]Place, error) {
	q := query
	if city != "" {
		q = query + " in " + city
	}
	u := fmt.Sprintf("%s?q=%s&format=jsonv2&limit=%d", t.baseURL, url.QueryEscape(q), limit)

	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	// Nominatim's usage policy requires an identifying User-Agent.
	req.Header.Set("User-Agent", t.userAgent)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("places API error: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("places API HTTP %d", resp.StatusCode)
	}

	var data []struct {
		Name        string `json:"name"`
		DisplayName string `json:"display_name"`
		Category    string `json:"category"`
		Type        string `json:"type"`
		Lat         string `json:"lat"`
		Lon         string `json:"lon"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("places API parse error: %w", err)
	}

	places := make([]Place, 0, len(data))
	for _, d := range data {
		name := d.Name
		if name == "" {
			name = d.DisplayName
		}
		places = append(places, Place{
			Name:     name,
			Category: d.Type,
			Address:  d.DisplayName,
			Lat:      d.Lat,
			Lon:      d.Lon,
		})
	}
	return places, nil
}

var _ agentos.Tool = (*Tool)(nil)
