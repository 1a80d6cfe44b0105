// Package tmdb provides the minimal TMDB API client used for metadata
// lookups.
//
// It exposes movie search with an optional primary release year filter and
// movie detail retrieval with credits appended. Options allow tests to supply
// custom HTTP clients.
package tmdb
