package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"cache-ratelimit/cache"
	"cache-ratelimit/middleware/ratelimit"
	"cache-ratelimit/provider"
)

// Fetcher é o provedor externo visto pelo handler.
type Fetcher interface {
	Fetch(ctx context.Context, name string) (json.RawMessage, error)
}

// PokemonHandler atende GET /api/v1/pokemon/?nome=<nome>, consultando o cache
// antes do provedor.
type PokemonHandler struct {
	Cache   *cache.Cache
	Fetcher Fetcher
	TTL     time.Duration
}

func (h PokemonHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		ratelimit.WriteError(w, http.StatusMethodNotAllowed, http.StatusText(http.StatusMethodNotAllowed), "only GET is supported")
		return
	}

	nome := strings.TrimSpace(r.URL.Query().Get("nome"))
	if nome == "" {
		ratelimit.WriteError(w, http.StatusBadRequest, http.StatusText(http.StatusBadRequest), "query parameter nome is required")
		return
	}

	logger := LoggerFromContext(r.Context())
	logger.Info("pokemon requested", "nome", nome)

	v, err := h.Cache.GetOrCompute(r.Context(), cache.Key("pokemon", nome), h.TTL, func(ctx context.Context) ([]byte, error) {
		raw, err := h.Fetcher.Fetch(ctx, nome)
		if raw == nil {
			return nil, err
		}
		return raw, err
	})
	switch {
	case errors.Is(err, provider.ErrBusy):
		ratelimit.WriteError(w, http.StatusServiceUnavailable, http.StatusText(http.StatusServiceUnavailable), "upstream busy, try again")
		return
	case err != nil:
		logger.Warn("pokemon fetch failed", "nome", nome, "error", err)
		ratelimit.WriteError(w, http.StatusBadGateway, http.StatusText(http.StatusBadGateway), "upstream provider failed")
		return
	case v == nil:
		ratelimit.WriteError(w, http.StatusNotFound, http.StatusText(http.StatusNotFound), "pokemon "+strings.ToLower(nome)+" not found")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(v)
}
