package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func routeObservations(t *testing.T, method, route string) uint64 {
	t.Helper()
	observer, err := httpRequestDurationSeconds.GetMetricWithLabelValues(method, route)
	if err != nil {
		t.Fatal(err)
	}
	var m dto.Metric
	if err := observer.(prometheus.Metric).Write(&m); err != nil {
		t.Fatal(err)
	}
	return m.GetHistogram().GetSampleCount()
}

func get(t *testing.T, url string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	if err := resp.Body.Close(); err != nil {
		t.Log(err)
	}
}

func TestMiddleware(t *testing.T) {
	Init()
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/test", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/notfound", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	r.Get("/v1/entities/{symbol}/records", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	ts := httptest.NewServer(r)
	defer ts.Close()

	okBefore := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "200"))
	missingBefore := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "404"))
	recordsBefore := routeObservations(t, "GET", "/v1/entities/{symbol}/records")

	get(t, ts.URL+"/test")
	get(t, ts.URL+"/notfound")
	get(t, ts.URL+"/v1/entities/AAPL/records")
	get(t, ts.URL+"/v1/entities/MSFT/records")

	if val := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "200")) - okBefore; val != 3 {
		t.Errorf("Expected 3 new GET 200 requests, got %f", val)
	}
	if val := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "404")) - missingBefore; val != 1 {
		t.Errorf("Expected 1 new GET 404 request, got %f", val)
	}
	// Both symbols collapse onto the route pattern.
	if val := routeObservations(t, "GET", "/v1/entities/{symbol}/records") - recordsBefore; val != 2 {
		t.Errorf("Expected 2 observations for the records route pattern, got %d", val)
	}
}

func TestMiddlewareWithoutRouter(t *testing.T) {
	Init()
	unknownBefore := routeObservations(t, "POST", "unknown")

	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/plain", nil))

	if rec.Code != http.StatusAccepted {
		t.Errorf("Expected status 202, got %d", rec.Code)
	}
	if val := routeObservations(t, "POST", "unknown") - unknownBefore; val != 1 {
		t.Errorf("Expected 1 observation for the unknown route, got %d", val)
	}
}
