package harvest

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/tickercrawl/internal/bootstrap"
	"github.com/JakeFAU/tickercrawl/internal/crawler"
	"github.com/JakeFAU/tickercrawl/internal/storage/memory"
)

const (
	firstPage = `<html><body><section><table><tbody>
<tr><td>AAPL</td><td>Apple Inc.</td><td>XNAS</td></tr>
<tr><td></td><td>Nameless</td></tr>
<tr><td>MSFT</td><td>Microsoft Corporation</td><td>XNAS</td></tr>
</tbody></table>
<a href="/search?page=0">Previous</a><a rel="next" href="/search?page=2">Next</a>
</section></body></html>`
	secondPage = `<html><body><section><table><tbody>
<tr><td>GOOG</td><td>Alphabet Inc.</td><td>XNAS</td></tr>
</tbody></table></section></body></html>`
)

func listingServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		switch r.URL.Query().Get("page") {
		case "1":
			fmt.Fprint(w, firstPage)
		case "2":
			fmt.Fprint(w, secondPage)
		case "loop":
			fmt.Fprint(w, `<html><body><table><tbody><tr><td>LOOP</td></tr></tbody></table><a rel="next" href="/search?page=loop">Next</a></body></html>`)
		default:
			fmt.Fprint(w, `<html><body><p>Please sign in</p></body></html>`)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newHarvester(t *testing.T, cfg Config) *Harvester {
	t.Helper()
	loader, err := bootstrap.New("https://quotes.example/{symbol}", nil)
	require.NoError(t, err)
	h, err := New(cfg, loader, nil)
	require.NoError(t, err)
	return h
}

func symbols(t *testing.T, store *memory.Store) []string {
	t.Helper()
	entities, err := store.List(context.Background())
	require.NoError(t, err)
	out := make([]string, 0, len(entities))
	for _, e := range entities {
		out = append(out, e.Symbol)
	}
	return out
}

func TestRunFollowsNextLinks(t *testing.T) {
	t.Parallel()

	srv := listingServer(t)
	store := memory.NewStore()
	res, err := newHarvester(t, Config{StartURL: srv.URL + "/search?page=1"}).Run(context.Background(), store)
	require.NoError(t, err)
	require.Equal(t, Result{Pages: 2, Entities: 3}, res)
	require.Equal(t, []string{"AAPL", "MSFT", "GOOG"}, symbols(t, store))

	entities, err := store.List(context.Background())
	require.NoError(t, err)
	require.Equal(t, "Microsoft Corporation", entities[1].DisplayName)
	require.Equal(t, "https://quotes.example/MSFT", entities[1].Locator)
}

func TestRunStopsAtMaxPages(t *testing.T) {
	t.Parallel()

	srv := listingServer(t)
	store := memory.NewStore()
	res, err := newHarvester(t, Config{StartURL: srv.URL + "/search?page=1", MaxPages: 1}).Run(context.Background(), store)
	require.NoError(t, err)
	require.Equal(t, Result{Pages: 1, Entities: 2}, res)
	require.Equal(t, []string{"AAPL", "MSFT"}, symbols(t, store))
}

func TestRunStopsOnSelfLink(t *testing.T) {
	t.Parallel()

	srv := listingServer(t)
	store := memory.NewStore()
	res, err := newHarvester(t, Config{StartURL: srv.URL + "/search?page=loop"}).Run(context.Background(), store)
	require.NoError(t, err)
	require.Equal(t, Result{Pages: 1, Entities: 1}, res)
}

func TestRunWithoutTableFails(t *testing.T) {
	t.Parallel()

	srv := listingServer(t)
	_, err := newHarvester(t, Config{StartURL: srv.URL + "/search"}).Run(context.Background(), memory.NewStore())
	require.ErrorIs(t, err, crawler.ErrNoTable)
}

func TestRunHonorsCancellation(t *testing.T) {
	t.Parallel()

	srv := listingServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newHarvester(t, Config{StartURL: srv.URL + "/search?page=1"}).Run(ctx, memory.NewStore())
	require.ErrorIs(t, err, context.Canceled)
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	loader, err := bootstrap.New("", nil)
	require.NoError(t, err)

	_, err = New(Config{}, loader, nil)
	require.ErrorContains(t, err, "start url")
	_, err = New(Config{StartURL: "https://example.com"}, nil, nil)
	require.ErrorContains(t, err, "registrar")
	_, err = New(Config{StartURL: "https://example.com", MaxPages: -1}, loader, nil)
	require.ErrorContains(t, err, "max pages")

	h, err := New(Config{StartURL: "https://example.com"}, loader, nil)
	require.NoError(t, err)
	require.Equal(t, DefaultMaxPages, h.cfg.MaxPages)
	require.Equal(t, DefaultNextSelector, h.cfg.NextSelector)
	require.Equal(t, DefaultRowSelector, h.cfg.RowSelector)
}
