package omdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// NotAvailable is OMDb's placeholder for missing values.
const NotAvailable = "N/A"

// SearchItem is one search match.
type SearchItem struct {
	Title  string `json:"Title"`
	Year   string `json:"Year"`
	ImdbID string `json:"imdbID"`
	Type   string `json:"Type"`
	Poster string `json:"Poster"`
}

// SearchResponse models the `s=` search payload.
type SearchResponse struct {
	Search       []SearchItem `json:"Search"`
	TotalResults string       `json:"totalResults"`
	Response     string       `json:"Response"`
	Error        string       `json:"Error"`
}

// Details models the `i=` lookup payload.
type Details struct {
	Title      string `json:"Title"`
	Year       string `json:"Year"`
	Rated      string `json:"Rated"`
	Runtime    string `json:"Runtime"`
	Genre      string `json:"Genre"`
	Director   string `json:"Director"`
	Actors     string `json:"Actors"`
	Plot       string `json:"Plot"`
	Poster     string `json:"Poster"`
	ImdbRating string `json:"imdbRating"`
	ImdbID     string `json:"imdbID"`
	Response   string `json:"Response"`
	Error      string `json:"Error"`
}

// Value returns s, or "" when OMDb reported it as unavailable.
func Value(s string) string {
	s = strings.TrimSpace(s)
	if s == NotAvailable {
		return ""
	}
	return s
}

// List splits a comma separated OMDb field.
func List(s string) []string {
	s = Value(s)
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// LeadingInt parses the leading digits of values like "2010–2012" or
// "148 min". It returns 0 when there are none.
func LeadingInt(s string) int {
	s = strings.TrimSpace(s)
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	n, _ := strconv.Atoi(s[:end])
	return n
}

// Client talks to the OMDb API.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient = &http.Client{Timeout: timeout}
		}
	}
}

// New creates an OMDb client.
func New(apiKey, baseURL string, opts ...Option) (*Client, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("omdb api key required")
	}
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, errors.New("omdb base url required")
	}
	client := &Client{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// Search looks up movies by title. A "not found" answer is an empty result,
// not an error.
func (c *Client) Search(ctx context.Context, title string, year int) ([]SearchItem, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, errors.New("title must not be empty")
	}
	params := url.Values{}
	params.Set("s", title)
	params.Set("type", "movie")
	if year > 0 {
		params.Set("y", strconv.Itoa(year))
	}
	var payload SearchResponse
	if err := c.get(ctx, params, "omdb search", &payload); err != nil {
		return nil, err
	}
	if payload.Response != "True" {
		if isNotFound(payload.Error) {
			return nil, nil
		}
		return nil, fmt.Errorf("omdb search: %s", payload.Error)
	}
	return payload.Search, nil
}

// Details fetches the full record for an IMDb id.
func (c *Client) Details(ctx context.Context, imdbID string) (*Details, error) {
	imdbID = strings.TrimSpace(imdbID)
	if imdbID == "" {
		return nil, errors.New("imdb id must not be empty")
	}
	params := url.Values{}
	params.Set("i", imdbID)
	params.Set("plot", "full")
	var payload Details
	if err := c.get(ctx, params, "omdb details", &payload); err != nil {
		return nil, err
	}
	if payload.Response != "True" {
		return nil, fmt.Errorf("omdb details %s: %s", imdbID, payload.Error)
	}
	return &payload, nil
}

func (c *Client) get(ctx context.Context, params url.Values, op string, out any) error {
	endpoint, err := url.Parse(c.baseURL + "/")
	if err != nil {
		return fmt.Errorf("parse omdb url: %w", err)
	}
	params.Set("apikey", c.apiKey)
	params.Set("r", "json")
	endpoint.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	requestStart := time.Now()
	resp, err := c.httpClient.Do(req)
	latency := time.Since(requestStart)
	if err != nil {
		return fmt.Errorf("execute request (latency=%v): %w", latency, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned %d (latency=%v)", op, resp.StatusCode, latency)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", op, err)
	}
	return nil
}

func isNotFound(message string) bool {
	return strings.Contains(strings.ToLower(message), "not found")
}
