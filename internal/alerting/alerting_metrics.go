package alerting

import "github.com/prometheus/client_golang/prometheus"

// Hooks receives instrumentation callbacks from the Service and Poller. Nil
// fields are skipped.
type Hooks struct {
	OnCreate   func(alertType string, created bool)
	OnTick     func(result string, duration float64, due int)
	OnCollapse func(cancelled int)
	OnClaim    func(won bool)
	OnDelivery func(channel, outcome string, duration float64)
	OnStuck    func(n int)
}

func (h Hooks) created(alertType string, created bool) {
	if h.OnCreate != nil {
		h.OnCreate(alertType, created)
	}
}

func (h Hooks) tick(result string, duration float64, due int) {
	if h.OnTick != nil {
		h.OnTick(result, duration, due)
	}
}

func (h Hooks) collapsed(n int) {
	if h.OnCollapse != nil && n > 0 {
		h.OnCollapse(n)
	}
}

func (h Hooks) claim(won bool) {
	if h.OnClaim != nil {
		h.OnClaim(won)
	}
}

func (h Hooks) delivery(channel, outcome string, duration float64) {
	if h.OnDelivery != nil {
		h.OnDelivery(channel, outcome, duration)
	}
}

func (h Hooks) stuck(n int) {
	if h.OnStuck != nil {
		h.OnStuck(n)
	}
}

// Metrics holds Prometheus metrics for the alerting subsystem.
type Metrics struct {
	AlertsCreatedTotal *prometheus.CounterVec
	TicksTotal         *prometheus.CounterVec
	TickDuration       prometheus.Histogram
	DueAlerts          prometheus.Gauge
	CollapsedTotal     prometheus.Counter
	ClaimsTotal        *prometheus.CounterVec
	DeliveriesTotal    *prometheus.CounterVec
	SendDuration       *prometheus.HistogramVec
	StuckAlerts        prometheus.Gauge
}

// NewMetrics registers and returns alerting metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AlertsCreatedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "herald_alerts_created_total",
			Help: "Alert creation attempts by alert type and result (created, duplicate).",
		}, []string{"alert_type", "result"}),
		TicksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "herald_poll_ticks_total",
			Help: "Poll ticks by result (ok, skipped, error).",
		}, []string{"result"}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "herald_poll_tick_duration_seconds",
			Help:    "Duration of completed poll ticks in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms .. ~10s
		}),
		DueAlerts: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "herald_due_alerts",
			Help: "Due pending alerts seen by the last poll tick.",
		}),
		CollapsedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "herald_collapsed_total",
			Help: "Stale alerts cancelled in favor of a more urgent tier.",
		}),
		ClaimsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "herald_claims_total",
			Help: "Delivery claims by result (won, lost). Lost claims are prevented duplicates.",
		}, []string{"result"}),
		DeliveriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "herald_deliveries_total",
			Help: "Delivery outcomes by channel.",
		}, []string{"channel", "outcome"}),
		SendDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "herald_send_duration_seconds",
			Help:    "Duration of channel sends in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms .. ~25s
		}, []string{"channel"}),
		StuckAlerts: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "herald_stuck_alerts",
			Help: "Alerts claimed but never confirmed past the stuck threshold.",
		}),
	}

	reg.MustRegister(
		m.AlertsCreatedTotal,
		m.TicksTotal,
		m.TickDuration,
		m.DueAlerts,
		m.CollapsedTotal,
		m.ClaimsTotal,
		m.DeliveriesTotal,
		m.SendDuration,
		m.StuckAlerts,
	)

	return m
}

// Hooks returns Hooks that update the corresponding metrics.
func (m *Metrics) Hooks() Hooks {
	return Hooks{
		OnCreate: func(alertType string, created bool) {
			result := "created"
			if !created {
				result = "duplicate"
			}
			m.AlertsCreatedTotal.WithLabelValues(alertType, result).Inc()
		},
		OnTick: func(result string, duration float64, due int) {
			m.TicksTotal.WithLabelValues(result).Inc()
			if result == TickOK {
				m.TickDuration.Observe(duration)
				m.DueAlerts.Set(float64(due))
			}
		},
		OnCollapse: func(cancelled int) {
			m.CollapsedTotal.Add(float64(cancelled))
		},
		OnClaim: func(won bool) {
			result := "won"
			if !won {
				result = "lost"
			}
			m.ClaimsTotal.WithLabelValues(result).Inc()
		},
		OnDelivery: func(channel, outcome string, duration float64) {
			m.DeliveriesTotal.WithLabelValues(channel, outcome).Inc()
			if duration > 0 {
				m.SendDuration.WithLabelValues(channel).Observe(duration)
			}
		},
		OnStuck: func(n int) {
			m.StuckAlerts.Set(float64(n))
		},
	}
}
