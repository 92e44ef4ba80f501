package cmd

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"cache-ratelimit/config"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(providerURL string) *config.Config {
	return &config.Config{
		Server: config.ServerConfig{ListenAddr: ":0", LogLevel: "info", ShutdownTimeout: time.Second},
		Store: config.StoreConfig{
			Backend:   "memory",
			KeyPrefix: "ratelimit:",
			Timeout:   250 * time.Millisecond,
			IdleTTL:   time.Minute,
		},
		Cache:    config.CacheConfig{Backend: "memory", TTL: time.Minute, KeyPrefix: "cache:", Timeout: 250 * time.Millisecond},
		Provider: config.ProviderConfig{BaseURL: providerURL, Timeout: time.Second, MaxInFlight: 4, AcquireTimeout: time.Second},
		RateLimits: map[string]config.RateLimitRule{
			"pokemon": {Capacity: 5, InitialTokens: 5, RefillAmount: 2, RefillInterval: 120 * time.Second, Scope: "IP"},
			"proxy":   {Capacity: 1, InitialTokens: 1, RefillAmount: 1, RefillInterval: time.Minute, Scope: "GLOBAL"},
		},
		Stats: config.StatsConfig{Prometheus: true, Prefix: "ratelimit:stats", Bucket: "minute"},
	}
}

func fakePokeAPI(calls *atomic.Int32) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if !strings.HasSuffix(r.URL.Path, "/pikachu") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":25,"name":"pikachu"}`)
	}))
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func getFrom(h http.Handler, target string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodGet, target, nil)
	r.RemoteAddr = "10.2.2.2:5000"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestBuildGateway_MemoryBackends(t *testing.T) {
	var calls atomic.Int32
	upstream := fakePokeAPI(&calls)
	defer upstream.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := prometheus.NewRegistry()
	gw, err := buildGateway(ctx, testConfig(upstream.URL+"/api/v2/pokemon/"), quietLogger(), reg)
	require.NoError(t, err)
	defer gw.Close()

	for i := 0; i < 5; i++ {
		w := getFrom(gw.Handler, "/api/v1/pokemon/?nome=Pikachu")
		require.Equal(t, http.StatusOK, w.Code, "request %d", i+1)
		assert.JSONEq(t, `{"id":25,"name":"pikachu"}`, w.Body.String())
	}
	w := getFrom(gw.Handler, "/api/v1/pokemon/?nome=Pikachu")
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, int32(1), calls.Load(), "cache should absorb repeated lookups")

	m := getFrom(gw.Handler, "/metrics")
	assert.Contains(t, m.Body.String(), `gateway_ratelimit_decisions_total{operation="pokemon",result="denied",scope="IP"} 1`)
	assert.Contains(t, m.Body.String(), `gateway_cache_lookups_total{result="hit"} 4`)
}

func TestBuildGateway_RedisBackendsAndProxy(t *testing.T) {
	mr := miniredis.RunT(t)

	var calls atomic.Int32
	upstream := fakePokeAPI(&calls)
	defer upstream.Close()

	legacy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "legacy:"+r.URL.Path)
	}))
	defer legacy.Close()

	cfg := testConfig(upstream.URL + "/api/v2/pokemon/")
	cfg.Redis.Addrs = []string{mr.Addr()}
	cfg.Store.Backend = "redis"
	cfg.Cache.Backend = "redis"
	cfg.Stats.Redis = true
	cfg.Proxy = config.ProxyConfig{Enabled: true, PathPrefix: "/legacy/", UpstreamURL: legacy.URL}

	gw, err := buildGateway(context.Background(), cfg, quietLogger(), prometheus.NewRegistry())
	require.NoError(t, err)
	defer gw.Close()

	w := getFrom(gw.Handler, "/api/v1/pokemon/?nome=pikachu")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "4", w.Header().Get("X-Rate-Limit-Remaining"))
	assert.True(t, mr.Exists("ratelimit:ip:pokemon:10.2.2.2"))
	assert.True(t, mr.Exists("cache:pokemon:pikachu"))
	assert.Equal(t, "1", mr.HGet("ratelimit:stats:total", "allowed"))

	w = getFrom(gw.Handler, "/api/v1/pokemon/?nome=missingno")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.False(t, mr.Exists("cache:pokemon:missingno"))

	w = getFrom(gw.Handler, "/legacy/showTela")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "legacy:/legacy/showTela", w.Body.String())
	w = getFrom(gw.Handler, "/legacy/showTela")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	h := getFrom(gw.Handler, "/healthz")
	assert.Equal(t, http.StatusOK, h.Code)
}

func TestBuildGateway_RedisDownFailsFast(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := testConfig("http://localhost:1/")
	cfg.Redis.Addrs = []string{addr}
	cfg.Store.Backend = "redis"

	_, err := buildGateway(context.Background(), cfg, quietLogger(), prometheus.NewRegistry())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis ping")
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	t.Cleanup(func() { rootCmd.SetArgs(nil); rootCmd.SetOut(nil) })

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "gateway "+Version)
}
