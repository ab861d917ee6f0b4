package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/tickercrawl/internal/crawler"
	"github.com/JakeFAU/tickercrawl/internal/estimate"
	"github.com/JakeFAU/tickercrawl/internal/metrics"
	"github.com/JakeFAU/tickercrawl/internal/storage/memory"
)

func TestServerHealthz(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t)
	rec := serve(server, "/healthz")

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestServerReadyz(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t)
	require.Equal(t, http.StatusOK, serve(server, "/readyz").Code)

	failing := NewServer(nil, nil, failingReporter{}, zap.NewNop())
	require.Equal(t, http.StatusServiceUnavailable, serve(failing, "/readyz").Code)

	missing := NewServer(nil, nil, nil, nil)
	require.Equal(t, http.StatusServiceUnavailable, serve(missing, "/readyz").Code)
}

func TestServerMetricsEndpoint(t *testing.T) {

	metrics.Init()
	server, _ := newTestServer(t)
	serve(server, "/healthz")

	rec := serve(server, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestServerProgressEmptyStore(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t)
	rec := serve(server, "/v1/progress")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Progress map[string]any `json:"progress"`
		Summary  string         `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Nil(t, body.Progress["fraction_done"])
	require.Equal(t, crawler.ErrDivisionUndefined.Error(), body.Progress["fraction_error"])
	require.Contains(t, body.Summary, "no entities registered")
}

func TestServerProgressReflectsStore(t *testing.T) {
	t.Parallel()

	server, store := newTestServer(t)
	seed(t, store)

	rec := serve(server, "/v1/progress")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Progress struct {
			Entities     int64    `json:"entities"`
			Done         int64    `json:"done"`
			FractionDone *float64 `json:"fraction_done"`
		} `json:"progress"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.EqualValues(t, 3, body.Progress.Entities)
	require.EqualValues(t, 1, body.Progress.Done)
	require.NotNil(t, body.Progress.FractionDone)
	require.InDelta(t, 1.0/3.0, *body.Progress.FractionDone, 1e-9)

	failing := NewServer(nil, nil, failingReporter{}, zap.NewNop())
	require.Equal(t, http.StatusInternalServerError, serve(failing, "/v1/progress").Code)
}

func TestServerListEntities(t *testing.T) {
	t.Parallel()

	server, store := newTestServer(t)
	seed(t, store)

	tests := []struct {
		path    string
		code    int
		symbols []string
		total   int
	}{
		{"/v1/entities", http.StatusOK, []string{"AAA", "BBB", "CCC"}, 3},
		{"/v1/entities?status=pending", http.StatusOK, []string{"BBB", "CCC"}, 2},
		{"/v1/entities?status=done", http.StatusOK, []string{"AAA"}, 1},
		{"/v1/entities?limit=1&offset=1", http.StatusOK, []string{"BBB"}, 3},
		{"/v1/entities?offset=10", http.StatusOK, []string{}, 3},
		{"/v1/entities?status=weird", http.StatusBadRequest, nil, 0},
		{"/v1/entities?limit=-1", http.StatusBadRequest, nil, 0},
		{"/v1/entities?offset=x", http.StatusBadRequest, nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := serve(server, tt.path)
			require.Equal(t, tt.code, rec.Code, rec.Body.String())
			if tt.code != http.StatusOK {
				return
			}
			var body struct {
				Entities []crawler.Entity `json:"entities"`
				Total    int              `json:"total"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			got := make([]string, 0, len(body.Entities))
			for _, e := range body.Entities {
				got = append(got, e.Symbol)
			}
			require.Equal(t, tt.symbols, got)
			require.Equal(t, tt.total, body.Total)
		})
	}
}

func TestServerListRecords(t *testing.T) {
	t.Parallel()

	server, store := newTestServer(t)
	seed(t, store)

	rec := serve(server, "/v1/entities/AAA/records")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Symbol  string           `json:"symbol"`
		Records []crawler.Record `json:"records"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "AAA", body.Symbol)
	require.Len(t, body.Records, 3)
	require.Equal(t, "2024-01-02", body.Records[0].Date)

	rec = serve(server, "/v1/entities/AAA/records?start=2024-01-03&end=Jan%204,%202024")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Records, 2)
	require.Equal(t, "2024-01-03", body.Records[0].Date)
	require.Equal(t, "2024-01-04", body.Records[1].Date)

	rec = serve(server, "/v1/entities/ZZZ/records")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"symbol":"ZZZ","records":[]}`, rec.Body.String())

	rec = serve(server, "/v1/entities/AAA/records?start=2024-01-03")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(server, "/v1/entities/AAA/records?start=yesterday&end=2024-01-04")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "start_date")
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t)
	h := server.recoverMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	_, _, err := rw.Hijack()
	require.EqualError(t, err, "hijacker not supported")

	h := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: h}
	conn, buf, err := rw.Hijack()
	require.NoError(t, err)
	require.NotNil(t, buf)
	require.NoError(t, conn.Close())
	require.NoError(t, h.CloseClient())
}

// --- helpers/fakes ---

func newTestServer(t *testing.T) (*Server, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	return NewServer(store, store, estimate.New(store), zap.NewNop()), store
}

func seed(t *testing.T, store *memory.Store) {
	t.Helper()
	ctx := context.Background()
	for _, sym := range []string{"AAA", "BBB", "CCC"} {
		require.NoError(t, store.Put(ctx, crawler.Entity{
			Symbol:  sym,
			Locator: "https://quotes.example/" + sym,
		}))
	}
	_, err := store.Append(ctx, "AAA", []crawler.RawRow{
		{Date: "Jan 4, 2024", Open: "1", High: "2", Low: "0.5", Close: "1.5", AdjClose: "1.5", Volume: "10"},
		{Date: "Jan 3, 2024", Open: "1", High: "2", Low: "0.5", Close: "1.5", AdjClose: "1.5", Volume: "10"},
		{Date: "Jan 2, 2024", Open: "1", High: "2", Low: "0.5", Close: "1.5", AdjClose: "1.5", Volume: "10"},
	})
	require.NoError(t, err)
	require.NoError(t, store.MarkDone(ctx, "https://quotes.example/AAA"))
}

func serve(s *Server, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

type failingReporter struct{}

func (failingReporter) Report(context.Context) (estimate.Report, error) {
	return estimate.Report{}, errors.New("store offline")
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	return server, bufio.NewReadWriter(bufio.NewReader(client), bufio.NewWriter(client)), nil
}

func (h *hijackableRecorder) CloseClient() error {
	if h.client != nil {
		if err := h.client.Close(); err != nil {
			return fmt.Errorf("close hijacker client: %w", err)
		}
	}
	return nil
}
