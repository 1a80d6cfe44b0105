package metadata

import "context"

// Candidate is a ranked search match.
type Candidate struct {
	Provider      string  `json:"provider"`
	ID            string  `json:"id"`
	Title         string  `json:"title"`
	OriginalTitle string  `json:"original_title,omitempty"`
	Year          int     `json:"year,omitempty"`
	Plot          string  `json:"plot,omitempty"`
	PosterURL     string  `json:"poster_url,omitempty"`
	Popularity    float64 `json:"popularity,omitempty"`
	VoteAverage   float64 `json:"vote_average,omitempty"`
}

// Score orders candidates; higher ranks first.
func (c Candidate) Score() float64 {
	return c.Popularity + c.VoteAverage
}

// Record is a full metadata record.
type Record struct {
	Provider       string   `json:"provider,omitempty"`
	ID             string   `json:"id,omitempty"`
	ImdbID         string   `json:"imdb_id,omitempty"`
	Title          string   `json:"title"`
	OriginalTitle  string   `json:"original_title,omitempty"`
	Year           int      `json:"year,omitempty"`
	Plot           string   `json:"plot,omitempty"`
	Tagline        string   `json:"tagline,omitempty"`
	PosterURL      string   `json:"poster_url,omitempty"`
	BackdropURL    string   `json:"backdrop_url,omitempty"`
	RuntimeMinutes int      `json:"runtime,omitempty"`
	Director       string   `json:"director,omitempty"`
	Cast           []string `json:"cast,omitempty"`
	Genres         []string `json:"genres,omitempty"`
	Rated          string   `json:"rated,omitempty"`
	Rating         string   `json:"rating,omitempty"`
}

// Source is the metadata capability the pipeline depends on.
type Source interface {
	Search(ctx context.Context, title string, year int) ([]Candidate, error)
	Details(ctx context.Context, provider, id string) (*Record, error)
}

// Provider is one metadata backend.
type Provider interface {
	Name() string
	Search(ctx context.Context, title string, year int) ([]Candidate, error)
	Details(ctx context.Context, id string) (*Record, error)
}
