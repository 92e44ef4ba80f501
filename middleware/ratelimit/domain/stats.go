package domain

import (
	"context"
	"time"
)

// StatsEvent representa uma decisão de admissão.
//
// Method/Path são strings genéricas (web, gRPC, job interno...).
//
// Observação: cuidado com cardinalidade. Key por IP/usuário pode explodir o
// número de séries/chaves em Redis ou Prometheus.
type StatsEvent struct {
	Key       Key
	Operation string
	Scope     Scope
	Allowed   bool
	Remaining int64

	Method string
	Path   string

	At time.Time
}

// StatsStore é a estratégia de persistência das estatísticas do rate limit.
//
// Quem chama trata erro como best-effort (não derruba a requisição).
type StatsStore interface {
	Record(ctx context.Context, ev StatsEvent) error
}

// MultiStats repassa o evento para vários stores e devolve o primeiro erro.
type MultiStats []StatsStore

func (m MultiStats) Record(ctx context.Context, ev StatsEvent) error {
	var first error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Record(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}
