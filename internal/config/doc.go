// Package config loads, normalizes, and validates discarchive configuration.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files (or YAML when the path ends in .yaml/.yml), and
// applies DISCARCHIVE_* environment overrides such as DISCARCHIVE_TMDB_API_KEY.
// The resulting Config value is built once and handed to each component at
// construction; nothing in this package keeps global mutable settings.
package config
