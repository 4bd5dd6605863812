package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInit(t *testing.T) {
	// Reset collectors for testing purposes.
	httpRequestsTotal = nil
	httpRequestDurationSeconds = nil
	httpRequestsInFlight = nil

	// Call Init multiple times to test idempotency.
	Init()
	Init()

	if httpRequestsTotal == nil || httpRequestDurationSeconds == nil || httpRequestsInFlight == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}

	// A simple check to see if a metric can be used.
	ObserveHTTPRequest("PUT", "/v1/schedule", 204, 5*time.Millisecond)
	if val := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("PUT", "204")); val != 1 {
		t.Errorf("Expected httpRequestsTotal for PUT 204 to be 1, got %f", val)
	}
}
