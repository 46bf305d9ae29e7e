package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecording(t *testing.T) {
	m := New()

	m.IncrementScansTotal("arp", "done")
	m.RecordScanDuration("arp", 3*time.Second)
	m.SetActiveScans(1)
	m.AddHostsDiscovered("arp", 12)
	m.AddOpenPorts(4)
	m.IncrementDeviceTransitions("online")
	m.IncrementNotifyFailures()
}

func TestMetricsHandlerExposition(t *testing.T) {
	m := New()
	m.IncrementScansTotal("ping", "done")
	m.AddHostsDiscovered("ping", 5)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "lanscout_scan_total")
	assert.Contains(t, body, "lanscout_discovery_hosts_total")
}

func TestGetGlobalMetricsSingleton(t *testing.T) {
	assert.Same(t, GetGlobalMetrics(), GetGlobalMetrics())
}
