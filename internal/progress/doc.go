// Package progress carries crawl run milestones from the workers to pluggable
// sinks. Emit never blocks; events are batched on a background goroutine.
package progress
