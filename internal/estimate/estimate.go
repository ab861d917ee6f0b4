// Package estimate derives crawl completion and final-size projections from
// store statistics. It never mutates state and never caches a result.
package estimate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/JakeFAU/tickercrawl/internal/crawler"
)

// Report is one progress snapshot. A nil *Err field means the matching value
// is valid.
type Report struct {
	Entities     int64
	Done         int64
	StorageBytes int64
	Tables       int64

	// FractionDone is Done / Entities.
	FractionDone float64
	// ProjectedBytes is StorageBytes / FractionDone: the size once every entity is done.
	ProjectedBytes float64
	// RefinedBytes divides ProjectedBytes by (Tables-1)/Done. Advisory only.
	RefinedBytes float64

	FractionErr   error
	ProjectionErr error
	RefinementErr error
}

// Compute derives a Report from stats.
func Compute(stats crawler.Stats) Report {
	r := Report{
		Entities:     stats.Entities,
		Done:         stats.Done,
		StorageBytes: stats.StorageBytes,
		Tables:       stats.Tables,
	}
	if stats.Entities <= 0 {
		r.FractionErr = crawler.ErrDivisionUndefined
		r.ProjectionErr = crawler.ErrDivisionUndefined
		r.RefinementErr = crawler.ErrDivisionUndefined
		return r
	}
	r.FractionDone = float64(stats.Done) / float64(stats.Entities)

	if stats.Done <= 0 {
		r.ProjectionErr = crawler.ErrNotComputable
		r.RefinementErr = crawler.ErrNotComputable
		return r
	}
	r.ProjectedBytes = float64(stats.StorageBytes) / r.FractionDone

	if stats.Tables <= 1 {
		r.RefinementErr = fmt.Errorf("%w: %d tables", crawler.ErrNotComputable, stats.Tables)
		return r
	}
	perTable := float64(stats.Tables-1) / float64(stats.Done)
	r.RefinedBytes = r.ProjectedBytes / perTable
	return r
}

// Computable reports whether FractionDone is defined.
func (r Report) Computable() bool {
	return r.FractionErr == nil
}

// Percent returns FractionDone as a percentage.
func (r Report) Percent() float64 {
	return r.FractionDone * 100
}

// String renders the report the way the progress command prints it.
func (r Report) String() string {
	var b strings.Builder
	if r.FractionErr != nil {
		fmt.Fprintf(&b, "progress: %v", r.FractionErr)
		return b.String()
	}
	fmt.Fprintf(&b, "progress: %d/%d entities (%.2f%%)\n", r.Done, r.Entities, r.Percent())
	fmt.Fprintf(&b, "storage: %s\n", formatBytes(float64(r.StorageBytes)))
	if r.ProjectionErr != nil {
		fmt.Fprintf(&b, "projected size: %v", r.ProjectionErr)
		return b.String()
	}
	fmt.Fprintf(&b, "projected size: %s\n", formatBytes(r.ProjectedBytes))
	fmt.Fprintf(&b, "tables: %d\n", r.Tables)
	if r.RefinementErr != nil {
		fmt.Fprintf(&b, "refined size: %v", r.RefinementErr)
		return b.String()
	}
	fmt.Fprintf(&b, "refined size: %s", formatBytes(r.RefinedBytes))
	return b.String()
}

func formatBytes(bytes float64) string {
	if bytes < 0 {
		bytes = 0
	}
	return humanize.Bytes(uint64(bytes))
}

type reportJSON struct {
	Entities       int64    `json:"entities"`
	Done           int64    `json:"done"`
	StorageBytes   int64    `json:"storage_bytes"`
	Tables         int64    `json:"tables"`
	FractionDone   *float64 `json:"fraction_done"`
	ProjectedBytes *float64 `json:"projected_bytes"`
	RefinedBytes   *float64 `json:"refined_bytes"`
	FractionErr    string   `json:"fraction_error,omitempty"`
	ProjectionErr  string   `json:"projection_error,omitempty"`
	RefinementErr  string   `json:"refinement_error,omitempty"`
}

// MarshalJSON encodes values that are not computable as null with the reason alongside.
func (r Report) MarshalJSON() ([]byte, error) {
	out := reportJSON{
		Entities:     r.Entities,
		Done:         r.Done,
		StorageBytes: r.StorageBytes,
		Tables:       r.Tables,
	}
	out.FractionDone, out.FractionErr = valueOrReason(r.FractionDone, r.FractionErr)
	out.ProjectedBytes, out.ProjectionErr = valueOrReason(r.ProjectedBytes, r.ProjectionErr)
	out.RefinedBytes, out.RefinementErr = valueOrReason(r.RefinedBytes, r.RefinementErr)
	return json.Marshal(out)
}

func valueOrReason(v float64, err error) (*float64, string) {
	if err != nil {
		return nil, err.Error()
	}
	return &v, ""
}

// Estimator reads a StatsSource and computes a fresh Report on every call.
type Estimator struct {
	source crawler.StatsSource
}

// New constructs an Estimator over source.
func New(source crawler.StatsSource) *Estimator {
	return &Estimator{source: source}
}

// Report reads current statistics. The returned error is only set when the
// statistics cannot be read; precondition failures live in the Report.
func (e *Estimator) Report(ctx context.Context) (Report, error) {
	stats, err := e.source.Stats(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("read store stats: %w", err)
	}
	return Compute(stats), nil
}
