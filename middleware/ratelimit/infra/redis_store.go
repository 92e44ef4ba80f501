package infra

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"cache-ratelimit/middleware/ratelimit/domain"

	"github.com/cespare/xxhash/v2"
	"github.com/redis/go-redis/v9"
)

// admitScript é o mesmo algoritmo de domain.Admit, executado dentro do Redis
// para que leitura, cálculo e escrita sejam uma única operação atômica.
// Tempos em milissegundos: números Lua são double e o estado precisa ser
// exato.
//
// KEYS[1]: hash do bucket (tokens, last_refill_ms)
// ARGV: capacity, refill_amount, interval_ms, initial_tokens, now_ms, ttl_ms
// Retorno: {consumed, remaining, wait_ms}
var admitScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill_amount = tonumber(ARGV[2])
local interval = tonumber(ARGV[3])
local initial = tonumber(ARGV[4])
local now = tonumber(ARGV[5])
local ttl = tonumber(ARGV[6])

if capacity <= 0 then
	return {0, 0, interval}
end

local stored = redis.call("HMGET", key, "tokens", "last_refill_ms")
local tokens = tonumber(stored[1])
local last = tonumber(stored[2])
if tokens == nil or last == nil then
	tokens = math.max(0, math.min(initial, capacity))
	last = now
end

local elapsed = now - last
if elapsed < 0 then
	elapsed = 0
end

local intervals = math.floor(elapsed / interval)
if intervals > 0 then
	local room = capacity - tokens
	local granted = intervals * refill_amount
	if granted > room then
		granted = room
	end
	if granted > 0 then
		tokens = tokens + granted
	end
	last = last + intervals * interval
	elapsed = elapsed - intervals * interval
end

if tokens > capacity then
	tokens = capacity
end
if tokens < 0 then
	tokens = 0
end

local consumed = 0
local wait = 0
if tokens >= 1 then
	tokens = tokens - 1
	consumed = 1
else
	wait = interval - elapsed
end

redis.call("HSET", key, "tokens", tokens, "last_refill_ms", last)
redis.call("PEXPIRE", key, ttl)

return {consumed, tokens, wait}
`)

// RedisBucketStore implementa domain.BucketStore sobre Redis (standalone,
// cluster ou ring) e é seguro entre várias instâncias do serviço.
//
// Cada bucket é um HASH com os campos tokens e last_refill_ms.
type RedisBucketStore struct {
	rdb      redis.UniversalClient
	prefix   string
	keyTTL   time.Duration
	hashKeys bool
}

type RedisStoreOption func(*RedisBucketStore)

func WithKeyPrefix(prefix string) RedisStoreOption {
	return func(s *RedisBucketStore) { s.prefix = prefix }
}

// WithKeyTTL fixa a expiração das chaves. Zero usa a expiração derivada da
// config (tempo para encher o bucket + um intervalo); valores menores que ela
// são elevados até ela.
func WithKeyTTL(d time.Duration) RedisStoreOption {
	return func(s *RedisBucketStore) { s.keyTTL = d }
}

// WithHashedKeys troca o sufixo da chave pelo xxhash dela; útil quando a
// identidade é longa (tokens, e-mails).
func WithHashedKeys(hash bool) RedisStoreOption {
	return func(s *RedisBucketStore) { s.hashKeys = hash }
}

func NewRedisBucketStore(rdb redis.UniversalClient, opts ...RedisStoreOption) *RedisBucketStore {
	s := &RedisBucketStore{
		rdb:    rdb,
		prefix: "ratelimit:",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AtomicUpdate implementa domain.BucketStore.
func (s *RedisBucketStore) AtomicUpdate(ctx context.Context, key domain.Key, cfg domain.BucketConfig, now time.Time) (domain.AdmissionProbe, error) {
	if err := cfg.Validate(); err != nil {
		return domain.AdmissionProbe{}, err
	}

	res, err := admitScript.Run(ctx, s.rdb, []string{s.redisKey(key)},
		cfg.Capacity,
		cfg.RefillAmount,
		cfg.RefillInterval.Milliseconds(),
		cfg.InitialTokens,
		now.UnixMilli(),
		s.ttlFor(cfg).Milliseconds(),
	).Int64Slice()
	if err != nil {
		return domain.AdmissionProbe{}, fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	if len(res) != 3 {
		return domain.AdmissionProbe{}, fmt.Errorf("%w: unexpected script reply %v", domain.ErrStoreUnavailable, res)
	}

	if res[0] == 1 {
		return domain.AdmissionProbe{Consumed: true, RemainingTokens: res[1]}, nil
	}
	return domain.AdmissionProbe{NanosToWait: res[2] * int64(time.Millisecond)}, nil
}

// State lê o estado persistido sem alterá-lo. ok=false se a chave não existe
// (nunca usada ou expirada).
func (s *RedisBucketStore) State(ctx context.Context, key domain.Key) (domain.BucketState, bool, error) {
	vals, err := s.rdb.HMGet(ctx, s.redisKey(key), "tokens", "last_refill_ms").Result()
	if err != nil {
		return domain.BucketState{}, false, fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	if len(vals) != 2 || vals[0] == nil || vals[1] == nil {
		return domain.BucketState{}, false, nil
	}

	tokens, err := strconv.ParseInt(fmt.Sprint(vals[0]), 10, 64)
	if err != nil {
		return domain.BucketState{}, false, fmt.Errorf("parse tokens: %w", err)
	}
	lastMs, err := strconv.ParseInt(fmt.Sprint(vals[1]), 10, 64)
	if err != nil {
		return domain.BucketState{}, false, fmt.Errorf("parse last_refill_ms: %w", err)
	}
	return domain.BucketState{
		Key:             key,
		AvailableTokens: tokens,
		LastRefillAt:    time.UnixMilli(lastMs),
	}, true, nil
}

func (s *RedisBucketStore) redisKey(key domain.Key) string {
	if s.hashKeys {
		return s.prefix + strconv.FormatUint(xxhash.Sum64String(string(key)), 16)
	}
	return s.prefix + string(key)
}

func (s *RedisBucketStore) ttlFor(cfg domain.BucketConfig) time.Duration {
	// expirar antes de encher devolveria InitialTokens a um bucket drenado
	return max(s.keyTTL, cfg.FillTime())
}

var _ domain.BucketStore = (*RedisBucketStore)(nil)
