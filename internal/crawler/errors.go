package crawler

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound signals that no entity has the requested locator.
	ErrNotFound = errors.New("entity not found")
	// ErrDivisionUndefined signals a progress fraction over zero entities.
	ErrDivisionUndefined = errors.New("progress undefined: no entities registered")
	// ErrNotComputable signals a size projection with nothing completed yet.
	ErrNotComputable = errors.New("projection not computable: no entities completed")
	// ErrNoTable signals a fetched page without a history table, such as a
	// consent wall or a page whose markup changed.
	ErrNoTable = errors.New("history table not found")
	// ErrQueueClosed signals that a work queue was closed and fully drained.
	ErrQueueClosed = errors.New("queue closed")
)

// ValidationError reports a malformed fetched row. The whole batch it belongs
// to is rejected.
type ValidationError struct {
	Symbol string
	Row    int
	Field  string
	Value  string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Row < 0 {
		return fmt.Sprintf("invalid %s %q: %v", e.Field, e.Value, e.Err)
	}
	return fmt.Sprintf("invalid row %d for %s: %s %q: %v", e.Row, e.Symbol, e.Field, e.Value, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// FetchFailure wraps any error returned by a Fetcher, timeouts included.
type FetchFailure struct {
	Locator string
	Err     error
}

func (e *FetchFailure) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Locator, e.Err)
}

func (e *FetchFailure) Unwrap() error {
	return e.Err
}

// IsEntityFailure reports whether err is scoped to a single entity and
// therefore must not abort a run.
func IsEntityFailure(err error) bool {
	var vErr *ValidationError
	var fErr *FetchFailure
	return errors.As(err, &vErr) || errors.As(err, &fErr)
}
