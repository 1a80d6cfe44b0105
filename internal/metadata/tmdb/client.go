package tmdb

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

// DefaultImageBaseURL serves poster and backdrop images.
const DefaultImageBaseURL = "https://image.tmdb.org/t/p"

// Result represents a single TMDB search match.
type Result struct {
	ID            int64   `json:"id"`
	Title         string  `json:"title"`
	OriginalTitle string  `json:"original_title"`
	Overview      string  `json:"overview"`
	ReleaseDate   string  `json:"release_date"`
	PosterPath    string  `json:"poster_path"`
	BackdropPath  string  `json:"backdrop_path"`
	Popularity    float64 `json:"popularity"`
	VoteAverage   float64 `json:"vote_average"`
	VoteCount     int64   `json:"vote_count"`
}

// Response models the TMDB paginated search response.
type Response struct {
	Page         int      `json:"page"`
	Results      []Result `json:"results"`
	TotalPages   int      `json:"total_pages"`
	TotalResults int      `json:"total_results"`
}

// Genre is a named TMDB genre.
type Genre struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// CastMember is one credited actor.
type CastMember struct {
	Name      string `json:"name"`
	Character string `json:"character"`
	Order     int    `json:"order"`
}

// CrewMember is one credited crew member.
type CrewMember struct {
	Name string `json:"name"`
	Job  string `json:"job"`
}

// Credits groups cast and crew.
type Credits struct {
	Cast []CastMember `json:"cast"`
	Crew []CrewMember `json:"crew"`
}

// MovieDetails is the movie payload with credits appended.
type MovieDetails struct {
	Result
	ImdbID  string  `json:"imdb_id"`
	Runtime int     `json:"runtime"`
	Tagline string  `json:"tagline"`
	Genres  []Genre `json:"genres"`
	Credits Credits `json:"credits"`
}

// Director returns the first crew member credited as Director.
func (d *MovieDetails) Director() string {
	for _, member := range d.Credits.Crew {
		if member.Job == "Director" {
			return member.Name
		}
	}
	return ""
}

// Year extracts the release year, or 0 when unknown.
func (r Result) Year() int {
	if len(r.ReleaseDate) < 4 {
		return 0
	}
	year, err := strconv.Atoi(r.ReleaseDate[:4])
	if err != nil {
		return 0
	}
	return year
}

// Client provides access to the TMDB API.
type Client struct {
	apiKey       string
	baseURL      string
	imageBaseURL string
	language     string
	httpClient   *http.Client
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

// New creates a TMDB client.
func New(apiKey, baseURL, language string, opts ...Option) (*Client, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("tmdb api key required")
	}
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, errors.New("tmdb base url required")
	}
	client := &Client{
		apiKey:       apiKey,
		baseURL:      strings.TrimRight(baseURL, "/"),
		imageBaseURL: DefaultImageBaseURL,
		language:     strings.TrimSpace(language),
		httpClient:   &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// ImageURL builds a full image URL for path at the given size.
func (c *Client) ImageURL(path, size string) string {
	if path == "" {
		return ""
	}
	if size == "" {
		size = "w500"
	}
	return c.imageBaseURL + "/" + size + path
}

// SearchMovie searches TMDB movies, filtering by primary release year when
// year is positive.
func (c *Client) SearchMovie(ctx context.Context, query string, year int) (*Response, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("query must not be empty")
	}
	params := url.Values{}
	params.Set("query", query)
	params.Set("page", "1")
	if year > 0 {
		params.Set("primary_release_year", strconv.Itoa(year))
	}
	var payload Response
	if err := c.get(ctx, "/search/movie", params, "tmdb search", &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// GetMovieDetails fetches movie details and credits by TMDB ID.
func (c *Client) GetMovieDetails(ctx context.Context, movieID int64) (*MovieDetails, error) {
	if movieID <= 0 {
		return nil, errors.New("movie id must be positive")
	}
	params := url.Values{}
	params.Set("append_to_response", "credits")
	var payload MovieDetails
	if err := c.get(ctx, fmt.Sprintf("/movie/%d", movieID), params, "tmdb movie details", &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, op string, out any) error {
	endpoint, err := url.Parse(c.baseURL + path)
	if err != nil {
		return fmt.Errorf("parse tmdb url: %w", err)
	}
	params.Set("api_key", c.apiKey)
	if c.language != "" {
		params.Set("language", c.language)
	}
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
