package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"rapidoutput/pkg/models"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics

	m.RecordOutputStart()
	m.RecordOutputStop("out", models.StopSuccess, 1)
	m.RecordPacket("out", models.TrackVideo, 100)
	m.RecordStopTimeout(10, true)
	m.SetDelayBuffered("out", 3)
	m.RecordHTTPRequest("GET", "/", 200, 0.1)
}

func TestRecordOutputLifecycle(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RecordOutputStart()
	m.RecordOutputStart()
	m.RecordOutputDeactivate()
	m.RecordOutputStop("main", models.StopDisconnected, 0)
	m.RecordReconnectAttempt("main")
	m.RecordReconnectAttempt("main")

	if got := testutil.ToFloat64(m.ActiveOutputs); got != 1 {
		t.Errorf("Expected 1 active output, got %v", got)
	}
	if got := testutil.ToFloat64(m.OutputsStopped.WithLabelValues("main", "disconnected")); got != 1 {
		t.Errorf("Expected 1 disconnected stop, got %v", got)
	}
	if got := testutil.ToFloat64(m.ReconnectAttempts.WithLabelValues("main")); got != 2 {
		t.Errorf("Expected 2 reconnect attempts, got %v", got)
	}
}

func TestStatusCodeToString(t *testing.T) {
	tests := map[int]string{200: "2xx", 302: "3xx", 404: "4xx", 503: "5xx", 100: "code_100"}
	for code, want := range tests {
		if got := statusCodeToString(code); got != want {
			t.Errorf("statusCodeToString(%d) = %s, want %s", code, got, want)
		}
	}
}
