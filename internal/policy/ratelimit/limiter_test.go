package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/tickercrawl/internal/crawler"
	"github.com/JakeFAU/tickercrawl/internal/metrics"
)

func TestLimiterWait(t *testing.T) {
	metrics.Init()
	// 10 RPS = 1 token every 100ms, starting with one.
	l := New(Config{DefaultRPS: 10, DefaultBurst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://test.com/quote/A/history"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://test.com/quote/B/history"))
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestLimiterDifferentHosts(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 1, DefaultBurst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://a.com/1"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://b.com/1"))
	require.Less(t, time.Since(start), 50*time.Millisecond, "host b blocked by host a")
}

func TestLimiterUnlimited(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	for range 100 {
		require.NoError(t, l.Wait(context.Background(), "https://example.com"))
	}
}

func TestLimiterWaitCanceled(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 0.1, DefaultBurst: 1})
	require.NoError(t, l.Wait(context.Background(), "https://slow.example"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, l.Wait(ctx, "https://slow.example"))
}

func TestWrapGatesFetcher(t *testing.T) {
	t.Parallel()

	calls := 0
	inner := crawler.FetcherFunc(func(_ context.Context, locator string) ([]crawler.RawRow, error) {
		calls++
		return []crawler.RawRow{{Date: locator}}, nil
	})
	l := New(Config{DefaultRPS: 0.1, DefaultBurst: 1})
	f := l.Wrap(inner)

	rows, err := f.Fetch(context.Background(), "https://host.example/a")
	require.NoError(t, err)
	require.Equal(t, "https://host.example/a", rows[0].Date)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = f.Fetch(ctx, "https://host.example/b")
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, calls)
}

func TestHostOf(t *testing.T) {
	t.Parallel()

	require.Equal(t, "finance.example.com", hostOf("https://finance.example.com:8443/quote/A"))
	require.Equal(t, "unknown", hostOf("::bad"))
	require.Equal(t, "unknown", hostOf("relative/path"))
}
