package infra

import (
	"context"

	"cache-ratelimit/middleware/ratelimit/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusStatsStore expõe as decisões como métricas.
// Labels são operação, escopo e resultado; nunca a chave (cardinalidade).
type PrometheusStatsStore struct {
	decisions *prometheus.CounterVec
	remaining *prometheus.HistogramVec
}

func NewPrometheusStatsStore(reg prometheus.Registerer) *PrometheusStatsStore {
	factory := promauto.With(reg)
	return &PrometheusStatsStore{
		decisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gateway",
				Subsystem: "ratelimit",
				Name:      "decisions_total",
				Help:      "Admission decisions by operation, scope and result",
			},
			[]string{"operation", "scope", "result"},
		),
		remaining: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "gateway",
				Subsystem: "ratelimit",
				Name:      "remaining_tokens",
				Help:      "Tokens left in the bucket after an allowed request",
				Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100},
			},
			[]string{"operation"},
		),
	}
}

func (s *PrometheusStatsStore) Record(_ context.Context, ev domain.StatsEvent) error {
	if ev.Allowed {
		s.remaining.WithLabelValues(ev.Operation).Observe(float64(ev.Remaining))
	}
	s.decisions.WithLabelValues(ev.Operation, string(ev.Scope), decisionResult(ev.Allowed)).Inc()
	return nil
}

func decisionResult(allowed bool) string {
	if allowed {
		return "allowed"
	}
	return "denied"
}
