// Package metrics provides Prometheus-based metrics collection for lanscout.
// It tracks scan lifecycle outcomes, discovery volume, port probe results
// and presence transitions, and exposes them on the daemon's HTTP listener.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	// Namespace for all lanscout metrics.
	namespace = "lanscout"

	// Subsystems.
	subsystemScan      = "scan"
	subsystemDiscovery = "discovery"
	subsystemDevice    = "device"
	subsystemNotify    = "notify"
)

// Metrics holds all Prometheus metric collectors.
type Metrics struct {
	scansTotal      *prometheus.CounterVec
	scanDuration    *prometheus.HistogramVec
	activeScans     prometheus.Gauge
	hostsDiscovered *prometheus.CounterVec
	openPortsFound  prometheus.Counter
	deviceStatus    *prometheus.CounterVec
	notifyFailures  prometheus.Counter
	registry        *prometheus.Registry
}

// New creates a metrics instance with all collectors registered.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		scansTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystemScan,
				Name:      "total",
				Help:      "Total number of scan jobs finished, by type and status",
			},
			[]string{"scan_type", "status"},
		),
		scanDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystemScan,
				Name:      "duration_seconds",
				Help:      "Duration of scan jobs in seconds",
				Buckets:   []float64{0.5, 1, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"scan_type"},
		),
		activeScans: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystemScan,
				Name:      "active",
				Help:      "Number of scan jobs currently running",
			},
		),
		hostsDiscovered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystemDiscovery,
				Name:      "hosts_total",
				Help:      "Total number of hosts reported by discovery, by method",
			},
			[]string{"method"},
		),
		openPortsFound: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystemScan,
				Name:      "open_ports_total",
				Help:      "Total number of open ports observed by the port prober",
			},
		),
		deviceStatus: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystemDevice,
				Name:      "transitions_total",
				Help:      "Total number of device status transitions, by new status",
			},
			[]string{"status"},
		),
		notifyFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystemNotify,
				Name:      "failures_total",
				Help:      "Total number of presence notifications that failed to publish",
			},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.scansTotal,
		m.scanDuration,
		m.activeScans,
		m.hostsDiscovered,
		m.openPortsFound,
		m.deviceStatus,
		m.notifyFailures,
	)

	// Standard Go and process collectors for runtime visibility.
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return m
}

// IncrementScansTotal records a finished scan by type and terminal status.
func (m *Metrics) IncrementScansTotal(scanType, status string) {
	m.scansTotal.WithLabelValues(scanType, status).Inc()
}

// RecordScanDuration records how long a scan job took.
func (m *Metrics) RecordScanDuration(scanType string, d time.Duration) {
	m.scanDuration.WithLabelValues(scanType).Observe(d.Seconds())
}

// SetActiveScans sets the number of currently running scan jobs.
func (m *Metrics) SetActiveScans(n int) {
	m.activeScans.Set(float64(n))
}

// AddHostsDiscovered records hosts reported by a discovery method
// ("arp", "ping" or "nmap").
func (m *Metrics) AddHostsDiscovered(method string, n int) {
	m.hostsDiscovered.WithLabelValues(method).Add(float64(n))
}

// AddOpenPorts records open ports observed during probing.
func (m *Metrics) AddOpenPorts(n int) {
	m.openPortsFound.Add(float64(n))
}

// IncrementDeviceTransitions records a device status transition.
func (m *Metrics) IncrementDeviceTransitions(status string) {
	m.deviceStatus.WithLabelValues(status).Inc()
}

// IncrementNotifyFailures records a dropped presence notification.
func (m *Metrics) IncrementNotifyFailures() {
	m.notifyFailures.Inc()
}

// Handler returns an HTTP handler serving this registry in the
// Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

var (
	globalMetrics *Metrics
	globalOnce    sync.Once
)

// GetGlobalMetrics returns the process-wide metrics instance,
// creating it on first use.
func GetGlobalMetrics() *Metrics {
	globalOnce.Do(func() {
		globalMetrics = New()
	})
	return globalMetrics
}
