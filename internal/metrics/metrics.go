package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ExchangeMetrics exposes counters/histograms for bot exchanges.
type ExchangeMetrics struct {
	exchangesTotal  *prometheus.CounterVec
	pollsPerTurn    prometheus.Histogram
	exchangeLatency *prometheus.HistogramVec
}

func NewExchangeMetrics(reg prometheus.Registerer) *ExchangeMetrics {
	m := &ExchangeMetrics{
		exchangesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "copilot",
			Subsystem: "directline",
			Name:      "exchanges_total",
			Help:      "Total bot exchanges by outcome",
		}, []string{"outcome"}),
		pollsPerTurn: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "copilot",
			Subsystem: "directline",
			Name:      "polls_per_turn",
			Help:      "Get-activities calls needed before the bot finished its turn",
			Buckets:   []float64{1, 2, 3, 5, 8, 13, 21, 34, 55},
		}),
		exchangeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "copilot",
			Subsystem: "directline",
			Name:      "exchange_latency_seconds",
			Help:      "Latency of a full exchange including polling",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32, 64, 128},
		}, []string{"outcome"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.exchangesTotal, m.pollsPerTurn, m.exchangeLatency)
	return m
}

// ObserveExchange records one finished exchange. polls is only recorded for
// exchanges that reached the poll loop.
func (m *ExchangeMetrics) ObserveExchange(outcome string, polls int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.exchangesTotal.WithLabelValues(outcome).Inc()
	m.exchangeLatency.WithLabelValues(outcome).Observe(elapsed.Seconds())
	if polls > 0 {
		m.pollsPerTurn.Observe(float64(polls))
	}
}
