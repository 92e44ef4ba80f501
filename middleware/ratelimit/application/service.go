package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cache-ratelimit/middleware/ratelimit/domain"
)

// DefaultStoreTimeout limita a ida ao store compartilhado.
const DefaultStoreTimeout = 250 * time.Millisecond

// Service concentra a regra de aplicação do rate limit.
//
// Ele não sabe nada sobre HTTP (headers/status): resolve a chave, pede uma
// admissão ao Store e devolve o probe. Cada requisição recebe exatamente uma
// avaliação; não há retry automático.
type Service struct {
	Store   domain.BucketStore
	Stats   domain.StatsStore
	Timeout time.Duration
	Now     func() time.Time
	Logger  *slog.Logger
}

// Check avalia uma requisição para a operação e a configuração dadas.
//
// Erros possíveis: domain.ErrScopeResolutionFailed, domain.ErrStoreUnavailable
// (inclusive timeout) e domain.ErrInvalidConfig. Negação não é erro aqui:
// vem como probe.Consumed == false.
func (s Service) Check(ctx context.Context, rc domain.RequestContext, operation string, cfg domain.BucketConfig) (domain.Key, domain.AdmissionProbe, error) {
	log := s.loggerFor(ctx)

	key, err := ResolveKey(rc, operation, cfg.Scope)
	if err != nil {
		log.Warn("rate limit key not resolved", "operation", operation, "scope", cfg.Scope, "error", err)
		return "", domain.AdmissionProbe{}, err
	}
	if s.Store == nil {
		return key, domain.AdmissionProbe{}, fmt.Errorf("%w: no bucket store configured", domain.ErrStoreUnavailable)
	}

	timeout := s.Timeout
	if timeout <= 0 {
		timeout = DefaultStoreTimeout
	}
	now := s.now()

	storeCtx, cancel := context.WithTimeout(ctx, timeout)
	probe, err := s.Store.AtomicUpdate(storeCtx, key, cfg, now)
	cancel()
	if err != nil {
		if errors.Is(err, domain.ErrInvalidConfig) {
			return key, domain.AdmissionProbe{}, err
		}
		if !errors.Is(err, domain.ErrStoreUnavailable) {
			err = fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
		}
		log.Warn("rate limit store failed", "key", key, "operation", operation, "error", err)
		return key, domain.AdmissionProbe{}, err
	}

	if !probe.Consumed {
		log.Debug("rate limit denied", "key", key, "operation", operation, "retry_after", probe.RetryAfter())
	}

	if s.Stats != nil {
		ev := domain.StatsEvent{
			Key:       key,
			Operation: operation,
			Scope:     cfg.Scope,
			Allowed:   probe.Consumed,
			Remaining: probe.RemainingTokens,
			Method:    rc.Method,
			Path:      rc.Path,
			At:        now,
		}
		if err := s.Stats.Record(ctx, ev); err != nil {
			log.Debug("rate limit stats not recorded", "error", err)
		}
	}

	return key, probe, nil
}

// Guard envolve uma operação protegida: só chama fn se um token foi
// consumido. Negado, devolve *domain.RateLimitError sem chamar fn.
func (s Service) Guard(ctx context.Context, rc domain.RequestContext, operation string, cfg domain.BucketConfig, fn func(context.Context, domain.AdmissionProbe) error) error {
	key, probe, err := s.Check(ctx, rc, operation, cfg)
	if err != nil {
		return err
	}
	if !probe.Consumed {
		return &domain.RateLimitError{Key: key, RetryAfter: probe.RetryAfter()}
	}
	return fn(ctx, probe)
}

func (s Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// loggerFor prefere o logger da requisição ao Logger do Service.
func (s Service) loggerFor(ctx context.Context) *slog.Logger {
	if logger, ok := LoggerFromContext(ctx); ok {
		return logger
	}
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
