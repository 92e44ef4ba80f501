// Package api monta as rotas HTTP do gateway: o endpoint protegido de
// pokémon, health, métricas e o proxy reverso opcional.
package api

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const PokemonPath = "/api/v1/pokemon/"

// Router junta os handlers já construídos. RateLimit traz o middleware de
// cada operação protegida ("pokemon", "proxy").
type Router struct {
	Logger   *slog.Logger
	Metrics  *Metrics
	Gatherer prometheus.Gatherer

	Pokemon   http.Handler
	RateLimit map[string]func(http.Handler) http.Handler
	Health    map[string]PingFunc

	Proxy       http.Handler
	ProxyPrefix string
}

func (rt Router) Handler() http.Handler {
	logger := rt.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := rt.Metrics
	if metrics == nil {
		metrics = NewMetrics(nil)
	}

	mux := http.NewServeMux()
	mux.Handle(PokemonPath, metrics.Instrument("pokemon", rt.limit("pokemon", rt.Pokemon)))
	mux.Handle("/healthz", HealthHandler(rt.Health))
	if rt.Gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(rt.Gatherer, promhttp.HandlerOpts{}))
	}
	if rt.Proxy != nil {
		prefix := rt.ProxyPrefix
		if prefix == "" {
			prefix = "/"
		}
		mux.Handle(prefix, metrics.Instrument("proxy", rt.limit("proxy", rt.Proxy)))
	}

	return RequestIDMiddleware(logger)(mux)
}

func (rt Router) limit(operation string, h http.Handler) http.Handler {
	if mw, ok := rt.RateLimit[operation]; ok && mw != nil {
		return mw(h)
	}
	return h
}
