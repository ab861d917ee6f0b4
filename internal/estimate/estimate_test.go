package estimate

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/tickercrawl/internal/crawler"
)

func TestComputeBoundaries(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		stats         crawler.Stats
		fraction      float64
		projected     float64
		refined       float64
		fractionErr   error
		projectionErr error
		refinementErr error
	}{
		{
			name:          "no entities",
			stats:         crawler.Stats{StorageBytes: 4096, Tables: 2},
			fractionErr:   crawler.ErrDivisionUndefined,
			projectionErr: crawler.ErrDivisionUndefined,
			refinementErr: crawler.ErrDivisionUndefined,
		},
		{
			name:          "nothing done",
			stats:         crawler.Stats{Entities: 10, StorageBytes: 4096, Tables: 2},
			projectionErr: crawler.ErrNotComputable,
			refinementErr: crawler.ErrNotComputable,
		},
		{
			name:      "half done",
			stats:     crawler.Stats{Entities: 10, Done: 5, StorageBytes: 1000, Tables: 2},
			fraction:  0.5,
			projected: 2000,
			refined:   10000,
		},
		{
			name:      "all done",
			stats:     crawler.Stats{Entities: 4, Done: 4, StorageBytes: 800, Tables: 5},
			fraction:  1,
			projected: 800,
			refined:   800,
		},
		{
			name:          "single table",
			stats:         crawler.Stats{Entities: 4, Done: 1, StorageBytes: 100, Tables: 1},
			fraction:      0.25,
			projected:     400,
			refinementErr: crawler.ErrNotComputable,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			r := Compute(tc.stats)
			requireErr(t, tc.fractionErr, r.FractionErr)
			requireErr(t, tc.projectionErr, r.ProjectionErr)
			requireErr(t, tc.refinementErr, r.RefinementErr)
			require.InDelta(t, tc.fraction, r.FractionDone, 1e-9)
			require.InDelta(t, tc.projected, r.ProjectedBytes, 1e-6)
			require.InDelta(t, tc.refined, r.RefinedBytes, 1e-6)
		})
	}
}

func requireErr(t *testing.T, want, got error) {
	t.Helper()
	if want == nil {
		require.NoError(t, got)
		return
	}
	require.ErrorIs(t, got, want)
}

func TestReportJSONUsesNullForUncomputable(t *testing.T) {
	t.Parallel()

	data, err := json.Marshal(Compute(crawler.Stats{Entities: 10, StorageBytes: 1}))
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, 0.0, decoded["fraction_done"])
	require.Nil(t, decoded["projected_bytes"])
	require.Equal(t, crawler.ErrNotComputable.Error(), decoded["projection_error"])
	_, hasFractionErr := decoded["fraction_error"]
	require.False(t, hasFractionErr)
}

func TestReportString(t *testing.T) {
	t.Parallel()

	require.Contains(t, Compute(crawler.Stats{}).String(), "no entities registered")

	out := Compute(crawler.Stats{Entities: 3, Done: 2, StorageBytes: 2e9, Tables: 3}).String()
	require.Contains(t, out, "2/3 entities (66.67%)")
	require.Contains(t, out, "projected size: 3.0 GB")
	require.Contains(t, out, "refined size: 3.0 GB")
}

type statsFunc func(context.Context) (crawler.Stats, error)

func (f statsFunc) Stats(ctx context.Context) (crawler.Stats, error) {
	return f(ctx)
}

func TestEstimatorRecomputesEveryCall(t *testing.T) {
	t.Parallel()

	done := int64(0)
	est := New(statsFunc(func(context.Context) (crawler.Stats, error) {
		return crawler.Stats{Entities: 4, Done: done, StorageBytes: 100, Tables: 2}, nil
	}))

	first, err := est.Report(context.Background())
	require.NoError(t, err)
	require.ErrorIs(t, first.ProjectionErr, crawler.ErrNotComputable)

	done = 2
	second, err := est.Report(context.Background())
	require.NoError(t, err)
	require.InDelta(t, 0.5, second.FractionDone, 1e-9)
	require.InDelta(t, 200, second.ProjectedBytes, 1e-9)

	failing := New(statsFunc(func(context.Context) (crawler.Stats, error) {
		return crawler.Stats{}, errors.New("no such table")
	}))
	_, err = failing.Report(context.Background())
	require.ErrorContains(t, err, "read store stats")
}
