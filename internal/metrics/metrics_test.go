package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/example/measulor/internal/capture"
)

func TestCaptureRecorder(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.Transition(capture.Idle, capture.Uploading)
	m.Transition(capture.Uploading, capture.Processing)
	if got := testutil.ToFloat64(m.inFlight); got != 1 {
		t.Fatalf("expected 1 in flight, got %v", got)
	}

	m.Transition(capture.Processing, capture.Error)
	m.Failure(capture.FailureStatus)
	m.Rejected(capture.RejectBusy)
	m.RoundTrip(1500 * time.Millisecond)

	if got := testutil.ToFloat64(m.inFlight); got != 0 {
		t.Fatalf("expected 0 in flight, got %v", got)
	}
	if got := testutil.ToFloat64(m.transitions.WithLabelValues("processing", "error")); got != 1 {
		t.Fatalf("expected processing>error counted once, got %v", got)
	}
	if got := testutil.ToFloat64(m.failures.WithLabelValues("status")); got != 1 {
		t.Fatalf("expected one status failure, got %v", got)
	}
	if got := testutil.ToFloat64(m.rejected.WithLabelValues("busy")); got != 1 {
		t.Fatalf("expected one busy rejection, got %v", got)
	}
	if n := testutil.CollectAndCount(m.roundTrip); n != 1 {
		t.Fatalf("expected round trip histogram to be collected, got %d", n)
	}
}

func TestEstimateAndCacheCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveEstimate(10*time.Millisecond, nil)
	m.ObserveEstimate(10*time.Millisecond, errors.New("boom"))
	m.CacheLookup("hit")
	m.CacheLookup("miss")
	m.CacheLookup("miss")

	if got := testutil.ToFloat64(m.estimateErrors); got != 1 {
		t.Fatalf("expected one estimate error, got %v", got)
	}
	if got := testutil.ToFloat64(m.cacheLookups.WithLabelValues("miss")); got != 2 {
		t.Fatalf("expected two misses, got %v", got)
	}
}

func TestMiddlewareUsesRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := New(prometheus.NewRegistry())

	router := gin.New()
	router.Use(m.Middleware())
	router.GET("/api/sessions/:id", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	for _, path := range []string{"/api/sessions/a", "/api/sessions/b", "/nowhere"} {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	if got := testutil.ToFloat64(m.requests.WithLabelValues("GET", "/api/sessions/:id", "204")); got != 2 {
		t.Fatalf("expected 2 templated requests, got %v", got)
	}
	if got := testutil.ToFloat64(m.requests.WithLabelValues("GET", "unmatched", "404")); got != 1 {
		t.Fatalf("expected 1 unmatched request, got %v", got)
	}
}

func TestNewPanicsOnDoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	defer func() {
		if recover() == nil {
			t.Fatal("expected duplicate registration to panic")
		}
	}()
	New(reg)
}
