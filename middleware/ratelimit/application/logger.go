package application

import (
	"context"
	"log/slog"
)

type loggerContextKey struct{}

// ContextWithLogger guarda o logger da requisição (com request_id, por
// exemplo) para os logs do Service.
func ContextWithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerContextKey{}, logger)
}

// LoggerFromContext devolve o logger guardado por ContextWithLogger.
func LoggerFromContext(ctx context.Context) (*slog.Logger, bool) {
	logger, ok := ctx.Value(loggerContextKey{}).(*slog.Logger)
	return logger, ok && logger != nil
}
