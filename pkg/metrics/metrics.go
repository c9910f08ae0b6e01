// Package metrics holds the prometheus collectors of the client. A nil *Metrics
// is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "noteswap"

type Metrics struct {
	syncs          *prometheus.CounterVec
	submissions    *prometheus.CounterVec
	reconnects     prometheus.Counter
	dropped        prometheus.Counter
	channelState   prometheus.Gauge
	reconcileTicks *prometheus.CounterVec
	expectedNotes  prometheus.Gauge
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		syncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "syncs_total",
			Help:      "Ledger sync requests by outcome (performed, skipped).",
		}, []string{"outcome"}),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "submit",
			Name:      "submissions_total",
			Help:      "Note submissions by kind and outcome.",
		}, []string{"kind", "outcome"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "reconnects_total",
			Help:      "Scheduled reconnect attempts of the push channel.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "dropped_messages_total",
			Help:      "Inbound frames dropped because they could not be decoded.",
		}),
		channelState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "state",
			Help:      "Connection state: 0 disconnected, 1 connecting, 2 connected.",
		}),
		reconcileTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "ticks_total",
			Help:      "Reconciliation ticks by outcome (ran, skipped, failed).",
		}, []string{"outcome"}),
		expectedNotes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "expected_notes",
			Help:      "Inbound notes still expected.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.syncs,
			m.submissions,
			m.reconnects,
			m.dropped,
			m.channelState,
			m.reconcileTicks,
			m.expectedNotes,
		)
	}
	return m
}

func (m *Metrics) SyncPerformed() {
	if m != nil {
		m.syncs.WithLabelValues("performed").Inc()
	}
}

func (m *Metrics) SyncSkipped() {
	if m != nil {
		m.syncs.WithLabelValues("skipped").Inc()
	}
}

func (m *Metrics) Submission(kind, outcome string) {
	if m != nil {
		m.submissions.WithLabelValues(kind, outcome).Inc()
	}
}

func (m *Metrics) Reconnect() {
	if m != nil {
		m.reconnects.Inc()
	}
}

func (m *Metrics) DroppedMessage() {
	if m != nil {
		m.dropped.Inc()
	}
}

func (m *Metrics) SetChannelState(state int) {
	if m != nil {
		m.channelState.Set(float64(state))
	}
}

func (m *Metrics) ReconcileTick(outcome string) {
	if m != nil {
		m.reconcileTicks.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) SetExpectedNotes(n int) {
	if m != nil {
		m.expectedNotes.Set(float64(n))
	}
}
