package api

import (
	"context"
	"log/slog"
	"net/http"

	"cache-ratelimit/middleware/ratelimit/application"

	"github.com/google/uuid"
)

type requestIDContextKey struct{}

const HeaderRequestID = "X-Request-ID"

// RequestIDMiddleware reaproveita o X-Request-ID recebido ou gera um UUID, e
// guarda no contexto um logger já com request_id.
func RequestIDMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get(HeaderRequestID)
			if requestID == "" {
				requestID = uuid.New().String()
			}

			ctx := context.WithValue(r.Context(), requestIDContextKey{}, requestID)
			ctx = application.ContextWithLogger(ctx, logger.With("request_id", requestID))

			w.Header().Set(HeaderRequestID, requestID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDContextKey{}).(string)
	return id
}

// LoggerFromContext devolve o logger da requisição, ou slog.Default().
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if logger, ok := application.LoggerFromContext(ctx); ok {
		return logger
	}
	return slog.Default()
}
