package progress

import "context"

type runIDKey struct{}

// WithRunID returns a context carrying the run ID that entity events are tagged with.
func WithRunID(ctx context.Context, runID [16]byte) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

// RunIDFrom extracts the run ID stored by WithRunID.
func RunIDFrom(ctx context.Context) ([16]byte, bool) {
	id, ok := ctx.Value(runIDKey{}).([16]byte)
	return id, ok
}
