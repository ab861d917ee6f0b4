package bootstrap

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/tickercrawl/internal/crawler"
	"github.com/JakeFAU/tickercrawl/internal/storage/memory"
)

func TestNewValidatesTemplate(t *testing.T) {
	t.Parallel()

	_, err := New("https://example.com/quote", nil)
	require.ErrorContains(t, err, "{symbol}")

	l, err := New("", nil)
	require.NoError(t, err)
	require.Equal(t, "https://finance.yahoo.com/quote/AAPL/history?p=AAPL", l.Locator("AAPL"))
	require.Equal(t, "https://finance.yahoo.com/quote/BRK%2FB/history?p=BRK%2FB", l.Locator("BRK/B"))
}

func TestLoadSkipsHeaderAndBlankSymbols(t *testing.T) {
	t.Parallel()

	input := strings.Join([]string{
		"Symbol,Company",
		"AAPL,Apple Inc.",
		",Nameless Corp",
		"MSFT, Microsoft Corporation,NASDAQ,",
		"GOOG",
		"AAPL,Apple Inc.",
	}, "\n")
	store := memory.NewStore()
	l, err := New("https://example.com/{symbol}", nil)
	require.NoError(t, err)

	n, err := l.Load(context.Background(), strings.NewReader(input), store)
	require.NoError(t, err)
	require.Equal(t, 4, n)

	all, err := store.List(context.Background())
	require.NoError(t, err)
	require.Equal(t, []crawler.Entity{
		{Symbol: "AAPL", DisplayName: "Apple Inc.", Locator: "https://example.com/AAPL"},
		{Symbol: "MSFT", DisplayName: "Microsoft Corporation", Locator: "https://example.com/MSFT"},
		{Symbol: "GOOG", Locator: "https://example.com/GOOG"},
	}, all)
}

type failingStore struct {
	crawler.EntityStore
}

func (failingStore) Put(context.Context, crawler.Entity) error {
	return errors.New("read-only database")
}

func TestLoadStopsOnStoreError(t *testing.T) {
	t.Parallel()

	l, err := New("", nil)
	require.NoError(t, err)
	n, err := l.Load(context.Background(), strings.NewReader("AAPL,Apple\n"), failingStore{})
	require.ErrorContains(t, err, "put AAPL")
	require.Zero(t, n)
}

func TestLoadFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ticker1.csv"), []byte("B,Beta,\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ticker0.csv"), []byte("A,Alpha,\nC,Gamma,\n"), 0o600))

	l, err := New("", nil)
	require.NoError(t, err)
	store := memory.NewStore()
	n, err := l.LoadFiles(context.Background(), filepath.Join(dir, "ticker*.csv"), store)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	all, err := store.List(context.Background())
	require.NoError(t, err)
	require.Equal(t, "A", all[0].Symbol)
	require.Equal(t, "B", all[2].Symbol)

	_, err = l.LoadFiles(context.Background(), filepath.Join(dir, "missing*.csv"), store)
	require.ErrorContains(t, err, "no files match")
}

func TestRegister(t *testing.T) {
	t.Parallel()

	l, err := New("https://quotes.example/{symbol}", nil)
	require.NoError(t, err)
	store := memory.NewStore()
	ctx := context.Background()

	ok, err := l.Register(ctx, store, "  ", "Blank Corp")
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = l.Register(ctx, store, " NVDA ", " NVIDIA Corporation ")
	require.NoError(t, err)
	require.True(t, ok)

	entities, err := store.List(ctx)
	require.NoError(t, err)
	require.Equal(t, []crawler.Entity{{
		Symbol:      "NVDA",
		DisplayName: "NVIDIA Corporation",
		Locator:     "https://quotes.example/NVDA",
	}}, entities)
}
