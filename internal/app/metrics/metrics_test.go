package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCanonicalPath(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", "/"},
		{"/", "/"},
		{"/health", "/health"},
		{"/industry/requirements/6f1c2e9a-1111-4a4b-9c2d-0123456789ab/fulfill", "/industry/requirements/:id/fulfill"},
		{"/coins/balance/42", "/coins/balance/:id"},
		{"/products", "/products"},
	}
	for _, tt := range tests {
		if got := canonicalPath(tt.in); got != tt.want {
			t.Errorf("canonicalPath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestInstrumentHandlerCountsRequests(t *testing.T) {
	before := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/health", "204"))

	h := InstrumentHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	after := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/health", "204"))
	if after != before+1 {
		t.Fatalf("requests_total = %v, want %v", after, before+1)
	}
}

func TestRecordCoinsUsesAbsoluteAmounts(t *testing.T) {
	before := testutil.ToFloat64(coinsMoved.WithLabelValues("pickup_cost"))
	RecordCoins("pickup_cost", -300)
	RecordCoins("pickup_cost", 0)
	if got := testutil.ToFloat64(coinsMoved.WithLabelValues("pickup_cost")); got != before+300 {
		t.Fatalf("coins moved = %v, want %v", got, before+300)
	}
}

func TestHandlerExposesRegistry(t *testing.T) {
	RecordFulfillment("success", 20)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "scrap_layer_industry_fulfillments_total") {
		t.Fatal("fulfillment counter missing from exposition")
	}
}
