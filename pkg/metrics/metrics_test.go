package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	// Register the metrics of every package
	_ "github.com/Sternrassler/async-api-caller/pkg/batch"
	_ "github.com/Sternrassler/async-api-caller/pkg/cache"
	_ "github.com/Sternrassler/async-api-caller/pkg/client"
)

func TestRegistry(t *testing.T) {
	if Registry == nil {
		t.Error("Registry should not be nil")
	}

	if Registry != prometheus.DefaultRegisterer {
		t.Error("Registry should be the default Prometheus registerer")
	}
}

func TestHandler(t *testing.T) {
	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()

	Handler().ServeHTTP(w, req)

	body, _ := io.ReadAll(w.Result().Body)
	output := string(body)

	// Plain counters and histograms are exported before first use
	for _, name := range []string{
		"apicaller_batches_total",
		"apicaller_cache_misses_total",
		"apicaller_cache_purged_total",
		"apicaller_request_duration_seconds",
	} {
		if !strings.Contains(output, name) {
			t.Errorf("Expected metrics output to contain %s", name)
		}
	}
}
