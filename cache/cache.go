// Package cache implementa o cache de respostas do provedor externo:
// devolve o valor guardado enquanto vale o TTL, senão calcula, guarda e
// devolve. Valores ausentes (nil) nunca são guardados.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ErrMiss é devolvido pelo Backend quando a chave não existe.
var ErrMiss = errors.New("cache miss")

// Backend é o store chave/valor com TTL por trás do cache.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// ComputeFunc calcula o valor numa falta. (nil, nil) significa ausente.
type ComputeFunc func(ctx context.Context) ([]byte, error)

// entry é o formato gravado no backend. O valor precisa ser JSON.
type entry struct {
	Value     json.RawMessage `json:"value"`
	ExpiresAt time.Time       `json:"expires_at"`
}

type Cache struct {
	backend Backend
	timeout time.Duration
	now     func() time.Time
	logger  *slog.Logger

	lookups  *prometheus.CounterVec
	failures *prometheus.CounterVec
}

type Option func(*Cache)

// WithTimeout limita cada ida ao backend. Estourou, vale como falta.
func WithTimeout(d time.Duration) Option {
	return func(c *Cache) { c.timeout = d }
}

func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// WithRegisterer registra as métricas do cache. Sem ele as métricas existem
// mas não são expostas.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *Cache) { c.initMetrics(reg) }
}

func New(backend Backend, opts ...Option) *Cache {
	c := &Cache{
		backend: backend,
		timeout: 250 * time.Millisecond,
		now:     time.Now,
		logger:  slog.Default(),
	}
	c.initMetrics(nil)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache) initMetrics(reg prometheus.Registerer) {
	factory := promauto.With(reg)
	c.lookups = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gateway",
		Subsystem: "cache",
		Name:      "lookups_total",
		Help:      "Cache lookups by result (hit, miss, expired)",
	}, []string{"result"})
	c.failures = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gateway",
		Subsystem: "cache",
		Name:      "backend_errors_total",
		Help:      "Cache backend failures by operation",
	}, []string{"op"})
}

// Key normaliza o parâmetro da requisição para que pedidos equivalentes
// ("Pikachu", " pikachu ") caiam na mesma entrada.
func Key(namespace, param string) string {
	return namespace + ":" + strings.ToLower(strings.TrimSpace(param))
}

// GetOrCompute devolve o valor de key se ainda válido; senão chama compute.
//
// Erro de leitura no backend vira falta. Erro de compute volta inalterado e
// nada é gravado. Erro de escrita só é logado: o valor calculado é devolvido.
func (c *Cache) GetOrCompute(ctx context.Context, key string, ttl time.Duration, compute ComputeFunc) ([]byte, error) {
	if v, ok := c.lookup(ctx, key); ok {
		return v, nil
	}

	v, err := compute(ctx)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}

	c.store(ctx, key, v, ttl)
	return v, nil
}

func (c *Cache) lookup(ctx context.Context, key string) ([]byte, bool) {
	getCtx, cancel := context.WithTimeout(ctx, c.timeout)
	raw, err := c.backend.Get(getCtx, key)
	cancel()
	if errors.Is(err, ErrMiss) {
		c.lookups.WithLabelValues("miss").Inc()
		return nil, false
	}
	if err != nil {
		c.failures.WithLabelValues("get").Inc()
		c.lookups.WithLabelValues("miss").Inc()
		c.logger.Warn("cache read failed, computing", "key", key, "error", err)
		return nil, false
	}

	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		c.failures.WithLabelValues("decode").Inc()
		c.lookups.WithLabelValues("miss").Inc()
		c.logger.Warn("cache entry corrupted, computing", "key", key, "error", err)
		return nil, false
	}
	if !c.now().Before(e.ExpiresAt) {
		c.lookups.WithLabelValues("expired").Inc()
		return nil, false
	}

	c.lookups.WithLabelValues("hit").Inc()
	return e.Value, true
}

func (c *Cache) store(ctx context.Context, key string, v []byte, ttl time.Duration) {
	raw, err := json.Marshal(entry{Value: v, ExpiresAt: c.now().Add(ttl)})
	if err != nil {
		c.failures.WithLabelValues("encode").Inc()
		c.logger.Warn("cache value not storable", "key", key, "error", err)
		return
	}

	setCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()
	if err := c.backend.Set(setCtx, key, raw, ttl); err != nil {
		c.failures.WithLabelValues("set").Inc()
		c.logger.Warn("cache write failed", "key", key, "error", fmt.Errorf("set: %w", err))
	}
}
