package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cache-ratelimit/middleware/ratelimit"
	"cache-ratelimit/middleware/ratelimit/application"
	"cache-ratelimit/middleware/ratelimit/domain"
	"cache-ratelimit/middleware/ratelimit/infra"
)

func main() {
	// Exemplo: injetando o middleware diretamente no seu webserver (sem proxy,
	// sem Redis). Uma instância só: o estado fica em memória.
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	store := infra.NewMemoryBucketStore()
	stats := infra.NewMemoryStatsStore()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	store.StartJanitor(ctx)

	svc := application.Service{Store: store, Stats: stats, Logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	h := ratelimit.Middleware(ratelimit.Options{
		Service:   svc,
		Operation: "hello",
		Config: domain.BucketConfig{
			Capacity:       10,
			RefillAmount:   5,
			RefillInterval: time.Second,
			InitialTokens:  10,
			Scope:          domain.ScopeIP,
		},
		TrustXForwardedFor: true,
		Logger:             logger,
	})(mux)

	addr := ":8081"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("example server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}

	t := stats.Total()
	logger.Info("example server stopped", "allowed", t.Allowed, "denied", t.Denied)
}
