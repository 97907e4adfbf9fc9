package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestInstrumentLabelsByRoute(t *testing.T) {
	reg := New("test")
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/catalog/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	h := reg.Instrument(mux)(mux)

	for _, path := range []string{"/api/catalog/1", "/api/catalog/2", "/nope"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}
	reg.Event("checkout", "ok")

	rec := httptest.NewRecorder()
	reg.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	out := string(body)

	want := []string{
		`test_http_requests_total{method="GET",route="GET /api/catalog/{id}",status="404"} 2`,
		`test_domain_events_total{outcome="ok",type="checkout"} 1`,
		`test_http_in_flight_requests 0`,
	}
	for _, line := range want {
		if !strings.Contains(out, line) {
			t.Fatalf("metrics output missing %q", line)
		}
	}
	if strings.Contains(out, `/api/catalog/1"`) {
		t.Fatalf("raw path leaked into labels")
	}
}
