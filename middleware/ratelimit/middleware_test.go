package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"cache-ratelimit/middleware/ratelimit/application"
	"cache-ratelimit/middleware/ratelimit/domain"
	"cache-ratelimit/middleware/ratelimit/infra"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func pokemonRule() domain.BucketConfig {
	return domain.BucketConfig{
		Capacity:       5,
		RefillAmount:   2,
		RefillInterval: 120 * time.Second,
		InitialTokens:  5,
		Scope:          domain.ScopeIP,
	}
}

type fixedClock struct{ t time.Time }

func (c *fixedClock) Now() time.Time { return c.t }

func newHandler(store domain.BucketStore, clock *fixedClock, cfg domain.BucketConfig, calls *int) http.Handler {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "ok")
	})
	return Middleware(Options{
		Service:   application.Service{Store: store, Now: clock.Now},
		Operation: "pokemon",
		Config:    cfg,
	})(next)
}

func do(h http.Handler, remote string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodGet, "http://example/api/v1/pokemon/?nome=pikachu", nil)
	r.RemoteAddr = remote
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestMiddleware_AllowsThenRejectsSameKey(t *testing.T) {
	clock := &fixedClock{t: t0}
	calls := 0
	h := newHandler(infra.NewMemoryBucketStore(infra.WithCleanupEvery(0)), clock, pokemonRule(), &calls)

	for i, want := range []string{"4", "3", "2", "1", "0"} {
		w := do(h, "10.0.0.1:1234")
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, w.Code)
		}
		if got := w.Header().Get(HeaderRemaining); got != want {
			t.Fatalf("request %d: expected remaining %s, got %q", i+1, want, got)
		}
	}

	clock.t = t0.Add(6500 * time.Millisecond)
	w := do(h, "10.0.0.1:1234")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	// faltam 113.5s até a fronteira: arredonda para cima
	if got := w.Header().Get(HeaderRetryAfterSeconds); got != "114" {
		t.Fatalf("expected retry after 114, got %q", got)
	}
	if got := w.Header().Get("Retry-After"); got != "114" {
		t.Fatalf("expected Retry-After 114, got %q", got)
	}
	if got := w.Header().Get(HeaderRemaining); got != "" {
		t.Fatalf("remaining header must not be set on rejection, got %q", got)
	}

	var body ErrorBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Status != http.StatusTooManyRequests || body.Error != "Too many Requests" || body.Message == "" || body.Timestamp.IsZero() {
		t.Fatalf("unexpected body: %+v", body)
	}
	if calls != 5 {
		t.Fatalf("expected next handler to be called 5 times, got %d", calls)
	}
}

func TestMiddleware_DifferentClientsHaveOwnBuckets(t *testing.T) {
	clock := &fixedClock{t: t0}
	cfg := pokemonRule()
	cfg.Capacity, cfg.InitialTokens = 1, 1
	calls := 0
	h := newHandler(infra.NewMemoryBucketStore(infra.WithCleanupEvery(0)), clock, cfg, &calls)

	if w := do(h, "10.0.0.1:1234"); w.Code != http.StatusOK {
		t.Fatalf("expected 200 for first client, got %d", w.Code)
	}
	if w := do(h, "10.0.0.1:9999"); w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 for same ip on other port, got %d", w.Code)
	}
	if w := do(h, "10.0.0.2:1234"); w.Code != http.StatusOK {
		t.Fatalf("expected 200 for second client, got %d", w.Code)
	}
}

func TestMiddleware_GlobalScopeSharesOneBucket(t *testing.T) {
	clock := &fixedClock{t: t0}
	cfg := pokemonRule()
	cfg.Capacity, cfg.InitialTokens, cfg.Scope = 1, 1, domain.ScopeGlobal
	calls := 0
	h := newHandler(infra.NewMemoryBucketStore(infra.WithCleanupEvery(0)), clock, cfg, &calls)

	if w := do(h, "10.0.0.1:1234"); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w := do(h, "10.0.0.2:1234"); w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 for another client on global bucket, got %d", w.Code)
	}
}

func TestMiddleware_UserScopeWithoutIdentityFailsClosed(t *testing.T) {
	clock := &fixedClock{t: t0}
	cfg := pokemonRule()
	cfg.Scope = domain.ScopeUser
	calls := 0
	h := newHandler(infra.NewMemoryBucketStore(infra.WithCleanupEvery(0)), clock, cfg, &calls)

	w := do(h, "10.0.0.1:1234")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	if calls != 0 {
		t.Fatalf("protected handler must not run, got %d calls", calls)
	}
}

func TestMiddleware_UserScopeWithIdentity(t *testing.T) {
	cfg := pokemonRule()
	cfg.Scope = domain.ScopeUser
	store := infra.NewMemoryBucketStore(infra.WithCleanupEvery(0))

	h := Middleware(Options{
		Service:    application.Service{Store: store, Now: (&fixedClock{t: t0}).Now},
		Operation:  "pokemon",
		Config:     cfg,
		IdentityFn: func(r *http.Request) string { return r.Header.Get("X-User") },
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r.Header.Set("X-User", "ash")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if _, ok := store.State("user:pokemon:ash"); !ok {
		t.Fatalf("expected bucket keyed by identity")
	}
}

func TestMiddleware_EmptyClientAddrFailsClosed(t *testing.T) {
	clock := &fixedClock{t: t0}
	calls := 0
	h := newHandler(infra.NewMemoryBucketStore(infra.WithCleanupEvery(0)), clock, pokemonRule(), &calls)

	if w := do(h, ""); w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	if calls != 0 {
		t.Fatalf("protected handler must not run")
	}
}

type failingStore struct{}

func (failingStore) AtomicUpdate(context.Context, domain.Key, domain.BucketConfig, time.Time) (domain.AdmissionProbe, error) {
	return domain.AdmissionProbe{}, errors.New("connection refused")
}

func TestMiddleware_StoreUnavailableIs503(t *testing.T) {
	calls := 0
	h := newHandler(failingStore{}, &fixedClock{t: t0}, pokemonRule(), &calls)

	w := do(h, "10.0.0.1:1234")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
	if w.Header().Get(HeaderRetryAfterSeconds) != "" {
		t.Fatalf("store failure must not look like throttling")
	}
	var body ErrorBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Status != http.StatusServiceUnavailable {
		t.Fatalf("unexpected body status %d", body.Status)
	}
	if calls != 0 {
		t.Fatalf("protected handler must not run")
	}
}

func TestMiddleware_RecordsStats(t *testing.T) {
	stats := infra.NewMemoryStatsStore()
	cfg := pokemonRule()
	cfg.Capacity, cfg.InitialTokens = 1, 1

	h := Middleware(Options{
		Service: application.Service{
			Store: infra.NewMemoryBucketStore(infra.WithCleanupEvery(0)),
			Stats: stats,
			Now:   (&fixedClock{t: t0}).Now,
		},
		Operation: "pokemon",
		Config:    cfg,
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	do(h, "10.0.0.1:1")
	do(h, "10.0.0.1:1")

	got := stats.ByRoute()["GET /api/v1/pokemon/"]
	if got.Allowed != 1 || got.Denied != 1 {
		t.Fatalf("unexpected route counters %+v", got)
	}
}
