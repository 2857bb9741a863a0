package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestHandlerExposesMetrics(t *testing.T) {
	EventsPublished.WithLabelValues("add").Inc()

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if !strings.Contains(string(body), `slidesync_events_published_total{type="add"}`) {
		t.Errorf("expected events counter in output")
	}
}

func TestTimer(t *testing.T) {
	h := prometheus.NewHistogram(prometheus.HistogramOpts{Name: "test_timer_seconds", Help: "test"})
	timer := NewTimer(h)
	time.Sleep(5 * time.Millisecond)
	if d := timer.ObserveDuration(); d < 5*time.Millisecond {
		t.Errorf("expected at least 5ms, got %v", d)
	}
	if n := testutil.CollectAndCount(h); n != 1 {
		t.Errorf("expected 1 metric, got %d", n)
	}
}
