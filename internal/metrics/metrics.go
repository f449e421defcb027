// Package metrics provides Prometheus collectors for channel provisioning.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Result labels.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// Metrics groups the provisioning collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	provisions     *prometheus.CounterVec
	duration       *prometheus.HistogramVec
	unitsCreated   prometheus.Counter
	configsWritten *prometheus.CounterVec
	reconciles     *prometheus.CounterVec
}

// New creates the collectors and registers them with registry.
func New(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		provisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "playout_provisions_total",
				Help: "Provisioning passes by mode and result",
			},
			[]string{"mode", "result"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "playout_provision_duration_seconds",
				Help:    "Duration of provisioning passes",
				Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
			},
			[]string{"mode"},
		),
		unitsCreated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "playout_supervisor_units_created_total",
				Help: "Supervisor unit files written",
			},
		),
		configsWritten: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "playout_channel_configs_written_total",
				Help: "Channel config files materialized, by how (derived or copied)",
			},
			[]string{"source"},
		),
		reconciles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "playout_reconcile_channels_total",
				Help: "Channels visited by the boot-time reconcile, by result",
			},
			[]string{"result"},
		),
	}
	registry.MustRegister(m.provisions, m.duration, m.unitsCreated, m.configsWritten, m.reconciles)
	return m
}

// ObserveProvision records one provisioning pass.
func (m *Metrics) ObserveProvision(mode string, started time.Time, err error) {
	if m == nil {
		return
	}
	m.provisions.WithLabelValues(mode, result(err)).Inc()
	m.duration.WithLabelValues(mode).Observe(time.Since(started).Seconds())
}

// UnitCreated counts a written unit file.
func (m *Metrics) UnitCreated() {
	if m == nil {
		return
	}
	m.unitsCreated.Inc()
}

// ConfigWritten counts a materialized channel config; source is "derived" or "copied".
func (m *Metrics) ConfigWritten(source string) {
	if m == nil {
		return
	}
	m.configsWritten.WithLabelValues(source).Inc()
}

// ReconcileVisited records one channel handled by reconcile.
func (m *Metrics) ReconcileVisited(err error) {
	if m == nil {
		return
	}
	m.reconciles.WithLabelValues(result(err)).Inc()
}

func result(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultOK
}
