// Package crawler defines the domain types, store and fetcher contracts, and
// error kinds shared by the resumable ticker-history crawl: entities with a
// completion flag, the OHLCV records fetched for them, and the per-entity
// outcomes reported by a run.
package crawler
