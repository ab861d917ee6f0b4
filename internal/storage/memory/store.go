// Package memory provides an in-process crawl store for development and tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/JakeFAU/tickercrawl/internal/crawler"
)

// recordBytes approximates the storage footprint of one record row.
const recordBytes = 6 * 8

// Store keeps entities and records in memory. It satisfies crawler.Store.
type Store struct {
	mu       sync.RWMutex
	order    []string
	entities map[string]crawler.Entity
	records  map[string][]crawler.Record
}

var _ crawler.Store = (*Store)(nil)

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		entities: make(map[string]crawler.Entity),
		records:  make(map[string][]crawler.Record),
	}
}

// Put registers an entity as pending. A second Put for the same locator is ignored.
func (s *Store) Put(_ context.Context, entity crawler.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entities[entity.Locator]; exists {
		return nil
	}
	entity.Done = false
	s.entities[entity.Locator] = entity
	s.order = append(s.order, entity.Locator)
	return nil
}

// Pending returns entities not yet done, in insertion order.
func (s *Store) Pending(_ context.Context) ([]crawler.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawler.Entity, 0, len(s.order))
	for _, locator := range s.order {
		if e := s.entities[locator]; !e.Done {
			out = append(out, e)
		}
	}
	return out, nil
}

// List returns every entity in insertion order.
func (s *Store) List(_ context.Context) ([]crawler.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawler.Entity, 0, len(s.order))
	for _, locator := range s.order {
		out = append(out, s.entities[locator])
	}
	return out, nil
}

// MarkDone flips the completion flag for locator.
func (s *Store) MarkDone(_ context.Context, locator string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entities[locator]
	if !ok {
		return crawler.ErrNotFound
	}
	e.Done = true
	s.entities[locator] = e
	return nil
}

// IsDone reports the completion flag for locator.
func (s *Store) IsDone(_ context.Context, locator string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entities[locator]
	if !ok {
		return false, crawler.ErrNotFound
	}
	return e.Done, nil
}

// Append validates rows and stores them under a single lock, or stores nothing.
func (s *Store) Append(_ context.Context, symbol string, rows []crawler.RawRow) (int, error) {
	recs, err := crawler.ParseRows(symbol, rows)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[symbol] = append(s.records[symbol], recs...)
	return len(recs), nil
}

// ForEntity returns the records for symbol ordered by date.
func (s *Store) ForEntity(_ context.Context, symbol string) ([]crawler.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedCopy(s.records[symbol], func(crawler.Record) bool { return true }), nil
}

// ForEntityRange returns the records for symbol with start <= date <= end.
func (s *Store) ForEntityRange(_ context.Context, symbol, start, end string) ([]crawler.Record, error) {
	from, to, err := crawler.ParseRange(start, end)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedCopy(s.records[symbol], func(r crawler.Record) bool {
		return r.Date >= from && r.Date <= to
	}), nil
}

// Stats returns entity counts and an approximate byte footprint.
func (s *Store) Stats(_ context.Context) (crawler.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := crawler.Stats{Entities: int64(len(s.entities)), Tables: 2}
	for _, e := range s.entities {
		if e.Done {
			stats.Done++
		}
		stats.StorageBytes += int64(len(e.Symbol) + len(e.DisplayName) + len(e.Locator) + 1)
	}
	for _, recs := range s.records {
		for _, r := range recs {
			stats.StorageBytes += int64(len(r.Symbol)+len(r.Date)) + recordBytes
		}
	}
	return stats, nil
}

// Close implements crawler.Store; it performs no action.
func (s *Store) Close() error {
	return nil
}

func sortedCopy(in []crawler.Record, keep func(crawler.Record) bool) []crawler.Record {
	out := make([]crawler.Record, 0, len(in))
	for _, r := range in {
		if keep(r) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}
