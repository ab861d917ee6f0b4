package crawler

import (
	"context"
	"time"
)

// EntityStore persists the crawl registry and each entity's completion flag.
type EntityStore interface {
	Put(ctx context.Context, entity Entity) error
	Pending(ctx context.Context) ([]Entity, error)
	List(ctx context.Context) ([]Entity, error)
	MarkDone(ctx context.Context, locator string) error
	IsDone(ctx context.Context, locator string) (bool, error)
}

// RecordStore persists fetched rows. Append is all-or-nothing per call.
type RecordStore interface {
	Append(ctx context.Context, symbol string, rows []RawRow) (int, error)
	ForEntity(ctx context.Context, symbol string) ([]Record, error)
	ForEntityRange(ctx context.Context, symbol, start, end string) ([]Record, error)
}

// StatsSource exposes the counters the progress estimator works from.
type StatsSource interface {
	Stats(ctx context.Context) (Stats, error)
}

// Store bundles the capabilities a concrete backend provides.
type Store interface {
	EntityStore
	RecordStore
	StatsSource
	Close() error
}

// Fetcher retrieves the raw rows for one entity locator. Implementations own
// their timeout policy.
type Fetcher interface {
	Fetch(ctx context.Context, locator string) ([]RawRow, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, locator string) ([]RawRow, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, locator string) ([]RawRow, error) {
	return f(ctx, locator)
}

// Queue provides enqueue/dequeue semantics for pending entities.
type Queue interface {
	Enqueue(ctx context.Context, entity Entity) error
	Dequeue(ctx context.Context) (Entity, error)
	Close()
}

// Publisher pushes completion notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
