// Package metadata looks up film metadata for archived discs.
//
// Providers wrap the TMDB and OMDb clients and translate their payloads into
// Candidate and Record values. The Fetcher queries every configured provider,
// merges and ranks their candidates, and fetches details from the provider
// that produced a candidate. Record is also the shape of the metadata.json
// sidecar written next to every archived file.
package metadata
