package relay

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks broker activity. All methods are nil-safe so the
// broker can run without a registry in tests.
type Metrics struct {
	relaysActive prometheus.Gauge
	usersOnline  prometheus.Gauge
	opensTotal   prometheus.Counter
	conflicts    prometheus.Counter
	signals      *prometheus.CounterVec
	loadFailures prometheus.Counter
}

// NewMetrics registers the broker collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		relaysActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "grimwire_relays_active",
			Help: "Current number of open relays.",
		}),
		usersOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "grimwire_users_online",
			Help: "Current number of users with at least one open relay.",
		}),
		opensTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "grimwire_relays_opened_total",
			Help: "Relays opened since start.",
		}),
		conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "grimwire_relay_conflicts_total",
			Help: "Relay opens rejected because the key was already held.",
		}),
		signals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grimwire_signals_total",
			Help: "Broadcast dispatch attempts grouped by outcome.",
		}, []string{"result"}),
		loadFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "grimwire_account_load_failures_total",
			Help: "Account store failures while bringing a user online.",
		}),
	}

	reg.MustRegister(
		m.relaysActive,
		m.usersOnline,
		m.opensTotal,
		m.conflicts,
		m.signals,
		m.loadFailures,
	)
	return m
}

func (m *Metrics) relayOpened() {
	if m == nil {
		return
	}
	m.relaysActive.Inc()
	m.opensTotal.Inc()
}

func (m *Metrics) relayClosed() {
	if m == nil {
		return
	}
	m.relaysActive.Dec()
}

func (m *Metrics) userOnline() {
	if m == nil {
		return
	}
	m.usersOnline.Inc()
}

func (m *Metrics) userOffline() {
	if m == nil {
		return
	}
	m.usersOnline.Dec()
}

func (m *Metrics) conflict() {
	if m == nil {
		return
	}
	m.conflicts.Inc()
}

func (m *Metrics) signal(result string) {
	if m == nil {
		return
	}
	m.signals.WithLabelValues(result).Inc()
}

func (m *Metrics) accountLoadFailure() {
	if m == nil {
		return
	}
	m.loadFailures.Inc()
}
