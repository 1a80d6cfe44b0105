package metadata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"discarchive/internal/config"
	"discarchive/internal/logging"
	"discarchive/internal/metadata/omdb"
	"discarchive/internal/metadata/tmdb"
	"discarchive/internal/services"
)

// DefaultMaxCandidates caps merged search results.
const DefaultMaxCandidates = 10

// Fetcher merges search results from several providers.
type Fetcher struct {
	providers     []Provider
	maxCandidates int
	logger        *slog.Logger
}

// NewFetcher builds a Fetcher over providers.
func NewFetcher(providers []Provider, maxCandidates int, logger *slog.Logger) *Fetcher {
	if maxCandidates <= 0 {
		maxCandidates = DefaultMaxCandidates
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Fetcher{
		providers:     providers,
		maxCandidates: maxCandidates,
		logger:        logging.NewComponentLogger(logger, "metadata"),
	}
}

// NewFromConfig builds a Fetcher from the providers enabled in cfg. Providers
// without an API key are left out.
func NewFromConfig(cfg *config.Config, logger *slog.Logger) (*Fetcher, error) {
	if cfg == nil {
		return nil, services.Wrap(services.ErrConfiguration, "metadata", "init", "config required", nil)
	}
	timeout := cfg.Metadata.RequestTimeout()
	var providers []Provider
	for _, name := range cfg.EnabledProviders() {
		switch name {
		case "tmdb":
			client, err := tmdb.New(cfg.Metadata.TMDBAPIKey, cfg.Metadata.TMDBBaseURL, cfg.Metadata.TMDBLanguage, tmdb.WithTimeout(timeout))
			if err != nil {
				return nil, services.Wrap(services.ErrConfiguration, "metadata", "init tmdb", "", err)
			}
			providers = append(providers, NewTMDBProvider(client))
		case "omdb":
			client, err := omdb.New(cfg.Metadata.OMDBAPIKey, cfg.Metadata.OMDBBaseURL, omdb.WithTimeout(timeout))
			if err != nil {
				return nil, services.Wrap(services.ErrConfiguration, "metadata", "init omdb", "", err)
			}
			providers = append(providers, NewOMDBProvider(client))
		}
	}
	return NewFetcher(providers, cfg.Metadata.MaxCandidates, logger), nil
}

// Providers lists configured provider names in order.
func (f *Fetcher) Providers() []string {
	names := make([]string, 0, len(f.providers))
	for _, p := range f.providers {
		names = append(names, p.Name())
	}
	return names
}

// Search queries every provider concurrently and returns the merged
// candidates ranked by popularity plus vote average. Failing providers are
// skipped; when every provider fails the result is ErrMetadataUnavailable.
func (f *Fetcher) Search(ctx context.Context, title string, year int) ([]Candidate, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, services.Wrap(services.ErrValidation, "metadata", "search", "title required", nil)
	}
	if len(f.providers) == 0 {
		return nil, services.Wrap(services.ErrMetadataUnavailable, "metadata", "search", "no metadata providers configured", nil)
	}
	logger := logging.WithContext(ctx, f.logger)

	type outcome struct {
		candidates []Candidate
		err        error
	}
	outcomes := make([]outcome, len(f.providers))
	var wg sync.WaitGroup
	for i, provider := range f.providers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			started := time.Now()
			candidates, err := provider.Search(ctx, title, year)
			outcomes[i] = outcome{candidates: candidates, err: err}
			logger.Debug("metadata provider searched",
				logging.String("provider", provider.Name()),
				logging.Int("results", len(candidates)),
				logging.Duration("latency", time.Since(started)),
			)
		}()
	}
	wg.Wait()

	var merged []Candidate
	var errs []error
	for i, result := range outcomes {
		if result.err != nil {
			name := f.providers[i].Name()
			logging.WarnWithContext(logger, "metadata provider failed", "metadata_provider_failed",
				logging.String("provider", name),
				logging.Error(result.err),
				logging.String(logging.FieldImpact, "candidates from this provider are skipped"),
			)
			errs = append(errs, fmt.Errorf("%s: %w", name, result.err))
			continue
		}
		merged = append(merged, result.candidates...)
	}
	if len(errs) == len(f.providers) {
		if cause := context.Cause(ctx); cause != nil {
			return nil, cause
		}
		return nil, services.Wrap(services.ErrMetadataUnavailable, "metadata", "search", "all providers failed", errors.Join(errs...))
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Score() > merged[j].Score()
	})
	if len(merged) > f.maxCandidates {
		merged = merged[:f.maxCandidates]
	}
	logger.Info("metadata search complete",
		logging.String("query", title),
		logging.Int("year", year),
		logging.Int("candidates", len(merged)),
	)
	return merged, nil
}

// Details fetches the full record from the named provider.
func (f *Fetcher) Details(ctx context.Context, provider, id string) (*Record, error) {
	for _, p := range f.providers {
		if p.Name() != provider {
			continue
		}
		record, err := p.Details(ctx, id)
		if err != nil {
			if cause := context.Cause(ctx); cause != nil {
				return nil, cause
			}
			return nil, services.Wrap(services.ErrMetadataUnavailable, "metadata", "details "+provider, "", err)
		}
		return record, nil
	}
	return nil, services.Wrap(services.ErrMetadataUnavailable, "metadata", "details",
		fmt.Sprintf("provider %q not configured", provider), nil)
}

var _ Source = (*Fetcher)(nil)
