package session

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics счетчики слоя сессий.
// Все методы nil-безопасны: выключенные метрики не собираются.
type Metrics struct {
	started        *prometheus.CounterVec
	failed         *prometheus.CounterVec
	renegotiations *prometheus.CounterVec
	transitions    *prometheus.CounterVec
	setupDuration  prometheus.Histogram
	active         prometheus.Gauge
}

// NewMetrics регистрирует метрики сессий в заданном Registerer
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		started: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rcs",
			Subsystem: "session",
			Name:      "started_total",
			Help:      "Установленные сессии по направлениям",
		}, []string{"direction"}),
		failed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rcs",
			Subsystem: "session",
			Name:      "failed_total",
			Help:      "Неудавшиеся сессии по причинам",
		}, []string{"reason"}),
		renegotiations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rcs",
			Subsystem: "session",
			Name:      "renegotiations_total",
			Help:      "Перезапросы внутри сессий по типам и исходам",
		}, []string{"kind", "outcome"}),
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rcs",
			Subsystem: "session",
			Name:      "state_transitions_total",
			Help:      "Переходы конечного автомата сессий",
		}, []string{"from", "to"}),
		setupDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "rcs",
			Subsystem: "session",
			Name:      "setup_duration_seconds",
			Help:      "Время от создания сессии до согласованного медиа",
			Buckets:   prometheus.DefBuckets,
		}),
		active: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "rcs",
			Subsystem: "session",
			Name:      "active",
			Help:      "Текущее число активных сессий",
		}),
	}
}

func (m *Metrics) sessionStarted(direction Direction, setup time.Duration) {
	if m != nil {
		m.started.WithLabelValues(direction.String()).Inc()
		m.setupDuration.Observe(setup.Seconds())
	}
}

func (m *Metrics) stateTransition(from, to string) {
	if m != nil {
		m.transitions.WithLabelValues(from, to).Inc()
	}
}

func (m *Metrics) sessionFailed(code ErrorCode) {
	if m != nil {
		m.failed.WithLabelValues(code.String()).Inc()
	}
}

func (m *Metrics) renegotiation(kind RenegotiationKind, outcome string) {
	if m != nil {
		m.renegotiations.WithLabelValues(kind.String(), outcome).Inc()
	}
}

func (m *Metrics) sessionOpened() {
	if m != nil {
		m.active.Inc()
	}
}

func (m *Metrics) sessionClosed() {
	if m != nil {
		m.active.Dec()
	}
}
