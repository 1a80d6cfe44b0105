// Package omdb is a small OMDb API client: title search with an optional
// year and full-plot detail lookup by IMDb id.
package omdb
