package rating

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics 评分重算指标
type Metrics struct {
	RecalculationsTotal   *prometheus.CounterVec
	RecalculationDuration prometheus.Histogram
}

// NewMetrics 在 reg 上注册指标；reg 为 nil 时使用默认 Registerer
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		RecalculationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rating_recalculations_total",
				Help:      "Total tour rating recalculations by outcome",
			},
			[]string{"outcome"},
		),
		RecalculationDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "rating_recalculation_duration_seconds",
				Help:      "Tour rating recalculation duration in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
		),
	}
}

func (m *Metrics) observe(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.RecalculationsTotal.WithLabelValues(outcome).Inc()
	m.RecalculationDuration.Observe(d.Seconds())
}
