package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// PingFunc verifica uma dependência (ex: redis.Client.Ping).
type PingFunc func(ctx context.Context) error

// HealthHandler responde 200 se todas as dependências respondem em 1s,
// senão 503 com o nome da que falhou.
func HealthHandler(checks map[string]PingFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), time.Second)
		defer cancel()

		status := http.StatusOK
		result := map[string]string{}
		for name, ping := range checks {
			if err := ping(ctx); err != nil {
				status = http.StatusServiceUnavailable
				result[name] = err.Error()
				continue
			}
			result[name] = "ok"
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": http.StatusText(status),
			"checks": result,
		})
	})
}
