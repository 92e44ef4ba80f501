package ratelimit

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"

	"cache-ratelimit/middleware/ratelimit/application"
	"cache-ratelimit/middleware/ratelimit/domain"
)

const (
	HeaderRemaining         = "X-Rate-Limit-Remaining"
	HeaderRetryAfterSeconds = "X-Rate-Limit-Retry-After-Seconds"
)

// ClientAddrFunc devolve o endereço do cliente, ou "" se não houver.
type ClientAddrFunc func(r *http.Request) string

// IdentityFunc devolve a identidade autenticada, ou "" se não houver.
type IdentityFunc func(r *http.Request) string

// Options descreve uma operação protegida: uma regra (BucketConfig) ligada a
// um nome de operação no momento do registro da rota.
type Options struct {
	Service   application.Service
	Operation string
	Config    domain.BucketConfig

	TrustXForwardedFor bool
	ClientAddrFn       ClientAddrFunc
	IdentityFn         IdentityFunc

	Logger *slog.Logger
}

// DefaultClientAddr usa o host de RemoteAddr. Com trustXFF, o primeiro salto
// do X-Forwarded-For tem precedência (só faz sentido atrás de um proxy
// confiável).
func DefaultClientAddr(trustXFF bool) ClientAddrFunc {
	return func(r *http.Request) string {
		if trustXFF {
			// pega o primeiro IP do X-Forwarded-For (cliente original)
			if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
				first, _, _ := strings.Cut(xff, ",")
				if ip := strings.TrimSpace(first); ip != "" {
					return ip
				}
			}
		}

		// fallback: RemoteAddr
		remote := strings.TrimSpace(r.RemoteAddr)
		host, _, err := net.SplitHostPort(remote)
		if err == nil && host != "" {
			return host
		}
		return remote
	}
}

// Middleware aplica o rate limit antes de chamar next.
//
// Permitido: X-Rate-Limit-Remaining e segue. Negado: 429 com
// X-Rate-Limit-Retry-After-Seconds e Retry-After, sem chamar next.
// Falha do store vira 503 e falha de escopo vira 500; nenhum dos dois
// deixa a requisição passar.
func Middleware(opts Options) func(next http.Handler) http.Handler {
	if opts.ClientAddrFn == nil {
		opts.ClientAddrFn = DefaultClientAddr(opts.TrustXForwardedFor)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rc := domain.RequestContext{
				ClientAddr: opts.ClientAddrFn(r),
				Method:     r.Method,
				Path:       r.URL.Path,
			}
			if opts.IdentityFn != nil {
				rc.Identity = opts.IdentityFn(r)
			}

			err := opts.Service.Guard(r.Context(), rc, opts.Operation, opts.Config,
				func(ctx context.Context, probe domain.AdmissionProbe) error {
					w.Header().Set(HeaderRemaining, strconv.FormatInt(probe.RemainingTokens, 10))
					next.ServeHTTP(w, r.WithContext(ctx))
					return nil
				})
			if err == nil {
				return
			}

			var rle *domain.RateLimitError
			switch {
			case errors.As(err, &rle):
				secs := strconv.FormatInt(rle.RetryAfterSeconds(), 10)
				w.Header().Set(HeaderRetryAfterSeconds, secs)
				w.Header().Set("Retry-After", secs)
				WriteError(w, http.StatusTooManyRequests, "Too many Requests",
					"rate limit exceeded, retry after "+secs+" seconds")
			case errors.Is(err, domain.ErrStoreUnavailable):
				WriteError(w, http.StatusServiceUnavailable, http.StatusText(http.StatusServiceUnavailable),
					"rate limit store unavailable")
			case errors.Is(err, domain.ErrScopeResolutionFailed):
				WriteError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError),
					"rate limit scope could not be resolved")
			default:
				logger.Error("rate limit check failed", "operation", opts.Operation, "error", err)
				WriteError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError),
					"rate limit check failed")
			}
		})
	}
}
