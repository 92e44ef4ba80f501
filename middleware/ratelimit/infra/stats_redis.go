package infra

import (
	"context"
	"strconv"
	"strings"
	"time"

	"cache-ratelimit/middleware/ratelimit/domain"

	"github.com/redis/go-redis/v9"
)

// RedisStatsStore soma as decisões de admissão em hashes no Redis, para que
// todas as réplicas do gateway contem no mesmo lugar.
//
// Layout (prefixo padrão "ratelimit:stats", {r} = allowed|denied):
//
//	{prefix}:total                   {r}
//	{prefix}:scope:{SCOPE}           {r}
//	{prefix}:op:{operation}          {r}, {SCOPE}:{r}
//	{prefix}:{window}:{stamp}        {r}, {operation}:{r} (expira)
//	{prefix}:route                   "{method} {path}:{r}"
//	{prefix}:key:{key}               {r}, remaining (opcional, expira)
//
// window é "minute" (stamp YYYYMMDDhhmm) ou "hour" (YYYYMMDDhh); "none"
// desliga a série temporal.
type RedisStatsStore struct {
	rdb       redis.UniversalClient
	prefix    string
	ttl       time.Duration // só séries por janela e por key; total é cumulativo
	window    string
	trackKeys bool
}

var statsWindowLayouts = map[string]string{
	"minute": "200601021504",
	"hour":   "2006010215",
}

// statsHash é um hash a incrementar num evento.
type statsHash struct {
	key    string
	fields []string
	expire bool
}

type RedisStatsOption func(*RedisStatsStore)

func WithStatsPrefix(prefix string) RedisStatsOption {
	return func(s *RedisStatsStore) { s.prefix = strings.Trim(prefix, ":") }
}

func WithStatsTTL(d time.Duration) RedisStatsOption {
	return func(s *RedisStatsStore) { s.ttl = d }
}

// WithStatsBucket escolhe a janela da série temporal: minute, hour ou none.
func WithStatsBucket(window string) RedisStatsOption {
	return func(s *RedisStatsStore) { s.window = strings.ToLower(strings.TrimSpace(window)) }
}

// WithStatsTrackKeys liga contadores por key. Cuidado com a cardinalidade.
func WithStatsTrackKeys(track bool) RedisStatsOption {
	return func(s *RedisStatsStore) { s.trackKeys = track }
}

func NewRedisStatsStore(rdb redis.UniversalClient, opts ...RedisStatsOption) *RedisStatsStore {
	s := &RedisStatsStore{
		rdb:    rdb,
		prefix: "ratelimit:stats",
		ttl:    24 * time.Hour,
		window: "minute",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStatsStore) Record(ctx context.Context, ev domain.StatsEvent) error {
	if s == nil || s.rdb == nil {
		return nil
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	pipe := s.rdb.Pipeline()
	for _, h := range s.hashesFor(ev) {
		for _, f := range h.fields {
			pipe.HIncrBy(ctx, h.key, f, 1)
		}
		if h.expire && s.ttl > 0 {
			pipe.Expire(ctx, h.key, s.ttl)
		}
	}
	if s.trackKeys && ev.Key != "" && ev.Allowed {
		pipe.HSet(ctx, s.prefix+":key:"+string(ev.Key), "remaining", strconv.FormatInt(ev.Remaining, 10))
	}

	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStatsStore) hashesFor(ev domain.StatsEvent) []statsHash {
	result := decisionResult(ev.Allowed)
	scope := string(ev.Scope)
	op := strings.TrimSpace(ev.Operation)

	hashes := []statsHash{{key: s.prefix + ":total", fields: []string{result}}}

	if scope != "" {
		hashes = append(hashes, statsHash{key: s.prefix + ":scope:" + scope, fields: []string{result}})
	}

	if op != "" {
		fields := []string{result}
		if scope != "" {
			fields = append(fields, scope+":"+result)
		}
		hashes = append(hashes, statsHash{key: s.prefix + ":op:" + op, fields: fields})
	}

	if layout, ok := statsWindowLayouts[s.window]; ok {
		fields := []string{result}
		if op != "" {
			fields = append(fields, op+":"+result)
		}
		key := s.prefix + ":" + s.window + ":" + ev.At.UTC().Format(layout)
		hashes = append(hashes, statsHash{key: key, fields: fields, expire: true})
	}

	if route := strings.TrimSpace(ev.Method + " " + ev.Path); route != "" {
		hashes = append(hashes, statsHash{key: s.prefix + ":route", fields: []string{route + ":" + result}})
	}

	if s.trackKeys && ev.Key != "" {
		hashes = append(hashes, statsHash{key: s.prefix + ":key:" + string(ev.Key), fields: []string{result}, expire: true})
	}
	return hashes
}
