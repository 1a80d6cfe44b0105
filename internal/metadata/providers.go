package metadata

import (
	"context"
	"fmt"
	"strconv"

	"discarchive/internal/metadata/omdb"
	"discarchive/internal/metadata/tmdb"
)

// Search results kept per provider before merging.
const perProviderLimit = 5

const maxCast = 5

// TMDBProvider adapts the TMDB client.
type TMDBProvider struct {
	client *tmdb.Client
}

// NewTMDBProvider wraps client.
func NewTMDBProvider(client *tmdb.Client) *TMDBProvider {
	return &TMDBProvider{client: client}
}

func (p *TMDBProvider) Name() string { return "tmdb" }

func (p *TMDBProvider) Search(ctx context.Context, title string, year int) ([]Candidate, error) {
	resp, err := p.client.SearchMovie(ctx, title, year)
	if err != nil {
		return nil, err
	}
	results := resp.Results
	if len(results) > perProviderLimit {
		results = results[:perProviderLimit]
	}
	candidates := make([]Candidate, 0, len(results))
	for _, r := range results {
		candidates = append(candidates, Candidate{
			Provider:      p.Name(),
			ID:            strconv.FormatInt(r.ID, 10),
			Title:         r.Title,
			OriginalTitle: r.OriginalTitle,
			Year:          r.Year(),
			Plot:          r.Overview,
			PosterURL:     p.client.ImageURL(r.PosterPath, "w500"),
			Popularity:    r.Popularity,
			VoteAverage:   r.VoteAverage,
		})
	}
	return candidates, nil
}

func (p *TMDBProvider) Details(ctx context.Context, id string) (*Record, error) {
	movieID, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("tmdb id %q: %w", id, err)
	}
	d, err := p.client.GetMovieDetails(ctx, movieID)
	if err != nil {
		return nil, err
	}
	record := &Record{
		Provider:       p.Name(),
		ID:             strconv.FormatInt(d.ID, 10),
		ImdbID:         d.ImdbID,
		Title:          d.Title,
		OriginalTitle:  d.OriginalTitle,
		Year:           d.Year(),
		Plot:           d.Overview,
		Tagline:        d.Tagline,
		PosterURL:      p.client.ImageURL(d.PosterPath, "w500"),
		BackdropURL:    p.client.ImageURL(d.BackdropPath, "w1280"),
		RuntimeMinutes: d.Runtime,
		Director:       d.Director(),
	}
	for i, member := range d.Credits.Cast {
		if i == maxCast {
			break
		}
		record.Cast = append(record.Cast, member.Name)
	}
	for _, genre := range d.Genres {
		record.Genres = append(record.Genres, genre.Name)
	}
	return record, nil
}

// OMDBProvider adapts the OMDb client.
type OMDBProvider struct {
	client *omdb.Client
}

// NewOMDBProvider wraps client.
func NewOMDBProvider(client *omdb.Client) *OMDBProvider {
	return &OMDBProvider{client: client}
}

func (p *OMDBProvider) Name() string { return "omdb" }

func (p *OMDBProvider) Search(ctx context.Context, title string, year int) ([]Candidate, error) {
	items, err := p.client.Search(ctx, title, year)
	if err != nil {
		return nil, err
	}
	if len(items) > perProviderLimit {
		items = items[:perProviderLimit]
	}
	candidates := make([]Candidate, 0, len(items))
	for _, item := range items {
		candidates = append(candidates, Candidate{
			Provider:  p.Name(),
			ID:        item.ImdbID,
			Title:     item.Title,
			Year:      omdb.LeadingInt(item.Year),
			PosterURL: omdb.Value(item.Poster),
		})
	}
	return candidates, nil
}

func (p *OMDBProvider) Details(ctx context.Context, id string) (*Record, error) {
	d, err := p.client.Details(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Record{
		Provider:       p.Name(),
		ID:             d.ImdbID,
		ImdbID:         d.ImdbID,
		Title:          d.Title,
		Year:           omdb.LeadingInt(d.Year),
		Plot:           omdb.Value(d.Plot),
		PosterURL:      omdb.Value(d.Poster),
		RuntimeMinutes: omdb.LeadingInt(d.Runtime),
		Director:       omdb.Value(d.Director),
		Cast:           omdb.List(d.Actors),
		Genres:         omdb.List(d.Genre),
		Rated:          omdb.Value(d.Rated),
		Rating:         omdb.Value(d.ImdbRating),
	}, nil
}

var (
	_ Provider = (*TMDBProvider)(nil)
	_ Provider = (*OMDBProvider)(nil)
)
