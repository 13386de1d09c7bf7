package telemetry

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestHandlerExposesCollectors(t *testing.T) {
	CacheLookups.WithLabelValues("price", "hit").Inc()
	LayoutPersists.WithLabelValues("ok").Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	body := rec.Body.String()
	for _, name := range []string{"cryptodash_cache_lookups_total", "cryptodash_layout_persists_total"} {
		if !strings.Contains(body, name) {
			t.Errorf("metrics output missing %s", name)
		}
	}
}

func TestCounterIncrements(t *testing.T) {
	before := testutil.ToFloat64(AlertsTriggered)
	AlertsTriggered.Inc()
	if got := testutil.ToFloat64(AlertsTriggered); got != before+1 {
		t.Errorf("AlertsTriggered = %v, want %v", got, before+1)
	}
}
