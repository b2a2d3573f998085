// Package metrics holds the Prometheus collectors exported by the control plane.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups every collector. Components accept a *Metrics and tolerate nil.
type Metrics struct {
	BusConnected       prometheus.Gauge
	BusDisconnects     prometheus.Counter
	BusPublishFailures prometheus.Counter
	BusDropped         prometheus.Counter

	ReportsIngested prometheus.Counter
	ReportsRejected *prometheus.CounterVec
	Anomalies       prometheus.Counter
	ScoreLatency    prometheus.Histogram

	Commands *prometheus.CounterVec

	FleetAgents *prometheus.GaugeVec

	HubClients prometheus.Gauge
	HubDropped prometheus.Counter

	DeadmanTrips prometheus.Counter

	ArchiveWrites *prometheus.CounterVec
	ArchiveBytes  prometheus.Gauge

	gatherer prometheus.Gatherer
}

// New creates the collectors and registers them with reg. Passing a fresh
// prometheus.NewRegistry() keeps tests isolated from the default registry.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		BusConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sentinel_bus_connected",
			Help: "1 when the message bus connection is up, 0 otherwise.",
		}),
		BusDisconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_bus_disconnects_total",
			Help: "Message bus disconnections observed.",
		}),
		BusPublishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_bus_publish_failures_total",
			Help: "Publishes that failed or were refused while disconnected.",
		}),
		BusDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_bus_dropped_total",
			Help: "Inbound bus messages dropped because the consumer was full.",
		}),
		ReportsIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_reports_ingested_total",
			Help: "Telemetry reports accepted and persisted.",
		}),
		ReportsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_reports_rejected_total",
			Help: "Inbound messages dropped during ingest, by reason.",
		}, []string{"reason"}),
		Anomalies: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_anomalies_total",
			Help: "Reports flagged anomalous by the threat scorer.",
		}),
		ScoreLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sentinel_score_latency_seconds",
			Help:    "Time spent fitting and evaluating the isolation forest.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
		Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_commands_total",
			Help: "Command submissions, by outcome.",
		}, []string{"status"}),
		FleetAgents: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sentinel_fleet_agents",
			Help: "Registered agents, by status.",
		}, []string{"status"}),
		HubClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sentinel_hub_clients",
			Help: "Connected observers.",
		}),
		HubDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_hub_evicted_total",
			Help: "Observers removed after a full queue or failed send.",
		}),
		DeadmanTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_deadman_trips_total",
			Help: "Times the deadman supervisor fired its directive.",
		}),
		ArchiveWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_archive_writes_total",
			Help: "Snapshot writes, by destination and result.",
		}, []string{"destination", "result"}),
		ArchiveBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sentinel_archive_snapshot_bytes",
			Help: "Size of the most recent exported snapshot.",
		}),
		gatherer: reg,
	}

	reg.MustRegister(
		m.BusConnected, m.BusDisconnects, m.BusPublishFailures, m.BusDropped,
		m.ReportsIngested, m.ReportsRejected, m.Anomalies, m.ScoreLatency,
		m.Commands, m.FleetAgents, m.HubClients, m.HubDropped, m.DeadmanTrips,
		m.ArchiveWrites, m.ArchiveBytes,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// The helpers below let callers record without nil checks.

func (m *Metrics) SetBusConnected(up bool) {
	if m == nil {
		return
	}
	if up {
		m.BusConnected.Set(1)
	} else {
		m.BusConnected.Set(0)
	}
}

func (m *Metrics) IncBusDisconnect() {
	if m != nil {
		m.BusDisconnects.Inc()
	}
}

func (m *Metrics) IncPublishFailure() {
	if m != nil {
		m.BusPublishFailures.Inc()
	}
}

func (m *Metrics) IncBusDropped() {
	if m != nil {
		m.BusDropped.Inc()
	}
}

func (m *Metrics) IncIngested() {
	if m != nil {
		m.ReportsIngested.Inc()
	}
}

func (m *Metrics) IncRejected(reason string) {
	if m != nil {
		m.ReportsRejected.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) IncAnomaly() {
	if m != nil {
		m.Anomalies.Inc()
	}
}

func (m *Metrics) ObserveScore(seconds float64) {
	if m != nil {
		m.ScoreLatency.Observe(seconds)
	}
}

func (m *Metrics) IncCommand(status string) {
	if m != nil {
		m.Commands.WithLabelValues(status).Inc()
	}
}

// SetFleet records the per-status agent counts.
func (m *Metrics) SetFleet(counts map[string]int) {
	if m == nil {
		return
	}
	for status, n := range counts {
		m.FleetAgents.WithLabelValues(status).Set(float64(n))
	}
}

func (m *Metrics) SetHubClients(n int) {
	if m != nil {
		m.HubClients.Set(float64(n))
	}
}

func (m *Metrics) IncHubEvicted() {
	if m != nil {
		m.HubDropped.Inc()
	}
}

func (m *Metrics) IncDeadmanTrip() {
	if m != nil {
		m.DeadmanTrips.Inc()
	}
}

// ObserveArchiveWrite counts one snapshot write to dest.
func (m *Metrics) ObserveArchiveWrite(dest string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.ArchiveWrites.WithLabelValues(dest, result).Inc()
}

func (m *Metrics) SetArchiveBytes(n int) {
	if m != nil {
		m.ArchiveBytes.Set(float64(n))
	}
}
