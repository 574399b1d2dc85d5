package discovery

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics счетчики обнаружения возможностей.
// Все методы nil-безопасны: выключенные метрики не собираются.
type Metrics struct {
	optionsExchanges  *prometheus.CounterVec
	fetchExchanges    *prometheus.CounterVec
	notifications     *prometheus.CounterVec
	pollCycles        prometheus.Counter
	capabilityUpdates prometheus.Counter
	droppedRequests   prometheus.Counter
}

// Исходы обменов для метрик
const (
	outcomeOK       = "ok"
	outcomeNotFound = "not_found"
	outcomeOffline  = "offline"
	outcomeTimeout  = "timeout"
	outcomeError    = "error"
)

// NewMetrics регистрирует метрики обнаружения в заданном Registerer
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		optionsExchanges: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rcs",
			Subsystem: "discovery",
			Name:      "options_exchanges_total",
			Help:      "Завершенные OPTIONS обмены по исходам",
		}, []string{"outcome"}),
		fetchExchanges: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rcs",
			Subsystem: "discovery",
			Name:      "anonymous_fetch_exchanges_total",
			Help:      "Завершенные anonymous fetch обмены по исходам",
		}, []string{"outcome"}),
		notifications: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rcs",
			Subsystem: "discovery",
			Name:      "presence_notifications_total",
			Help:      "Обработанные presence NOTIFY по исходам",
		}, []string{"outcome"}),
		pollCycles: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "rcs",
			Subsystem: "discovery",
			Name:      "poll_cycles_total",
			Help:      "Завершенные циклы периодического опроса",
		}),
		capabilityUpdates: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "rcs",
			Subsystem: "discovery",
			Name:      "capability_updates_total",
			Help:      "Записанные обновления возможностей",
		}),
		droppedRequests: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "rcs",
			Subsystem: "discovery",
			Name:      "dropped_requests_total",
			Help:      "Запросы, отброшенные после остановки пула",
		}),
	}
}

func (m *Metrics) optionsExchange(outcome string) {
	if m != nil {
		m.optionsExchanges.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) fetchExchange(outcome string) {
	if m != nil {
		m.fetchExchanges.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) notification(outcome string) {
	if m != nil {
		m.notifications.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) pollCycle() {
	if m != nil {
		m.pollCycles.Inc()
	}
}

func (m *Metrics) capabilityUpdate() {
	if m != nil {
		m.capabilityUpdates.Inc()
	}
}

func (m *Metrics) droppedRequest() {
	if m != nil {
		m.droppedRequests.Inc()
	}
}
