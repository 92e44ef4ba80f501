package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cache-ratelimit/api"
	"cache-ratelimit/cache"
	"cache-ratelimit/config"
	"cache-ratelimit/middleware/ratelimit"
	"cache-ratelimit/middleware/ratelimit/application"
	"cache-ratelimit/middleware/ratelimit/domain"
	"cache-ratelimit/middleware/ratelimit/infra"
	"cache-ratelimit/provider"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Server.SlogLevel()}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	gw, err := buildGateway(ctx, cfg, logger, reg)
	if err != nil {
		return err
	}
	defer gw.Close()

	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           gw.Handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("gateway listening",
		"addr", cfg.Server.ListenAddr,
		"store", cfg.Store.Backend,
		"cache", cfg.Cache.Backend,
		"provider", cfg.Provider.BaseURL,
		"proxy", cfg.Proxy.Enabled,
	)
	for name, rule := range cfg.RateLimits {
		logger.Info("rate limit rule",
			"operation", name,
			"capacity", rule.Capacity,
			"initial_tokens", rule.InitialTokens,
			"refill_amount", rule.RefillAmount,
			"refill_interval", rule.RefillInterval,
			"scope", rule.Scope,
		)
	}

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	logger.Info("gateway stopped")
	return nil
}

// gateway é o resultado da montagem: o handler raiz e o que fechar no fim.
type gateway struct {
	Handler http.Handler
	closers []func() error
}

func (g *gateway) Close() {
	for i := len(g.closers) - 1; i >= 0; i-- {
		_ = g.closers[i]()
	}
}

// buildGateway liga config, stores, cache, provedor e rotas. ctx controla as
// goroutines de fundo (janitor do store em memória).
func buildGateway(ctx context.Context, cfg *config.Config, logger *slog.Logger, reg *prometheus.Registry) (*gateway, error) {
	gw := &gateway{}

	var rdb redis.UniversalClient
	if cfg.UsesRedis() {
		rdb = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    cfg.Redis.Addrs,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		gw.closers = append(gw.closers, rdb.Close)

		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			gw.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
	}

	var store domain.BucketStore
	switch cfg.Store.Backend {
	case "redis":
		store = infra.NewRedisBucketStore(rdb,
			infra.WithKeyPrefix(cfg.Store.KeyPrefix),
			infra.WithKeyTTL(cfg.Store.KeyTTL),
			infra.WithHashedKeys(cfg.Store.HashKeys),
		)
	default:
		mem := infra.NewMemoryBucketStore(
			infra.WithIdleTTL(cfg.Store.IdleTTL),
			infra.WithCleanupEvery(cfg.Store.CleanupEvery),
		)
		mem.StartJanitor(ctx)
		store = mem
	}

	var stats domain.MultiStats
	if cfg.Stats.Prometheus {
		stats = append(stats, infra.NewPrometheusStatsStore(reg))
	}
	if cfg.Stats.Redis {
		stats = append(stats, infra.NewRedisStatsStore(rdb,
			infra.WithStatsPrefix(cfg.Stats.Prefix),
			infra.WithStatsTTL(cfg.Stats.TTL),
			infra.WithStatsBucket(cfg.Stats.Bucket),
			infra.WithStatsTrackKeys(cfg.Stats.TrackKeys),
		))
	}

	svc := application.Service{
		Store:   store,
		Timeout: cfg.Store.Timeout,
		Logger:  logger,
	}
	if len(stats) > 0 {
		svc.Stats = stats
	}

	limits := make(map[string]func(http.Handler) http.Handler, len(cfg.RateLimits))
	for name, rule := range cfg.RateLimits {
		bc, err := rule.BucketConfig()
		if err != nil {
			gw.Close()
			return nil, fmt.Errorf("rate_limits.%s: %w", name, err)
		}
		limits[name] = ratelimit.Middleware(ratelimit.Options{
			Service:            svc,
			Operation:          name,
			Config:             bc,
			TrustXForwardedFor: cfg.Server.TrustXFF,
			Logger:             logger,
		})
	}

	var backend cache.Backend = cache.NewMemoryBackend()
	if cfg.Cache.Backend == "redis" {
		backend = cache.NewRedisBackend(rdb, cfg.Cache.KeyPrefix)
	}
	responses := cache.New(backend,
		cache.WithTimeout(cfg.Cache.Timeout),
		cache.WithLogger(logger),
		cache.WithRegisterer(reg),
	)

	pokeapi := provider.New(cfg.Provider.BaseURL,
		provider.WithHTTPClient(&http.Client{Timeout: cfg.Provider.Timeout}),
		provider.WithMaxInFlight(cfg.Provider.MaxInFlight, cfg.Provider.AcquireTimeout),
		provider.WithPacing(cfg.Provider.PacingRPS, cfg.Provider.PacingBurst),
		provider.WithLogger(logger),
	)

	router := api.Router{
		Logger:   logger,
		Metrics:  api.NewMetrics(reg),
		Gatherer: reg,
		Pokemon: api.PokemonHandler{
			Cache:   responses,
			Fetcher: pokeapi,
			TTL:     cfg.Cache.TTL,
		},
		RateLimit: limits,
		Health:    map[string]api.PingFunc{},
	}
	if rdb != nil {
		router.Health["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}

	if cfg.Proxy.Enabled {
		proxy, err := newReverseProxy(cfg.Proxy.UpstreamURL, logger)
		if err != nil {
			gw.Close()
			return nil, err
		}
		router.Proxy = proxy
		router.ProxyPrefix = cfg.Proxy.PathPrefix
	}

	gw.Handler = router.Handler()
	return gw, nil
}

func newReverseProxy(upstream string, logger *slog.Logger) (*httputil.ReverseProxy, error) {
	target, err := url.Parse(upstream)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy.upstream_url: %w", err)
	}

	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.Warn("proxy error", "path", r.URL.Path, "error", err)
		ratelimit.WriteError(w, http.StatusBadGateway, http.StatusText(http.StatusBadGateway), "upstream unavailable")
	}
	return proxy, nil
}
