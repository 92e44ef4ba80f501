package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"cache-ratelimit/middleware/ratelimit/application"
	"cache-ratelimit/middleware/ratelimit/infra"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisGateway(t *testing.T) http.Handler {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return Middleware(Options{
		Service:   application.Service{Store: infra.NewRedisBucketStore(rdb)},
		Operation: "pokemon",
		Config:    pokemonRule(),
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func TestEndToEnd_SixRequestsAgainstRedis(t *testing.T) {
	srv := httptest.NewServer(newRedisGateway(t))
	defer srv.Close()

	for i, want := range []string{"4", "3", "2", "1", "0"} {
		resp, err := http.Get(srv.URL + "/api/v1/pokemon/?nome=pikachu")
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode, "request %d", i+1)
		assert.Equal(t, want, resp.Header.Get(HeaderRemaining), "request %d", i+1)
	}

	resp, err := http.Get(srv.URL + "/api/v1/pokemon/?nome=pikachu")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	secs, err := strconv.Atoi(resp.Header.Get(HeaderRetryAfterSeconds))
	require.NoError(t, err)
	assert.Greater(t, secs, 0)
	assert.LessOrEqual(t, secs, 120)
}

func TestEndToEnd_ConcurrentBurstAgainstRedis(t *testing.T) {
	h := newRedisGateway(t)

	const requests = 25
	codes := make(chan int, requests)
	var wg sync.WaitGroup
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			codes <- do(h, "10.0.0.1:1234").Code
		}()
	}
	wg.Wait()
	close(codes)

	counts := map[int]int{}
	for c := range codes {
		counts[c]++
	}
	assert.Equal(t, 5, counts[http.StatusOK])
	assert.Equal(t, 20, counts[http.StatusTooManyRequests])
}
