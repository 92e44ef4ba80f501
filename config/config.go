// Package config carrega a configuração do gateway: arquivo YAML opcional,
// variáveis de ambiente com prefixo GATEWAY_ e defaults para tudo.
package config

import (
	"log/slog"
	"strings"
	"time"

	"cache-ratelimit/middleware/ratelimit/domain"
)

type Config struct {
	Server     ServerConfig             `mapstructure:"server"`
	Redis      RedisConfig              `mapstructure:"redis"`
	Store      StoreConfig              `mapstructure:"store"`
	Cache      CacheConfig              `mapstructure:"cache"`
	Provider   ProviderConfig           `mapstructure:"provider"`
	RateLimits map[string]RateLimitRule `mapstructure:"rate_limits" validate:"required,dive"`
	Proxy      ProxyConfig              `mapstructure:"proxy"`
	Stats      StatsConfig              `mapstructure:"stats"`
}

type ServerConfig struct {
	ListenAddr      string        `mapstructure:"listen_addr" validate:"required"`
	TrustXFF        bool          `mapstructure:"trust_xff"`
	LogLevel        string        `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// SlogLevel converte LogLevel; valor desconhecido vira info.
func (s ServerConfig) SlogLevel() slog.Level {
	switch strings.ToLower(s.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// RedisConfig aceita um endereço (standalone) ou vários (cluster).
type RedisConfig struct {
	Addrs    []string `mapstructure:"addrs" validate:"dive,hostname_port"`
	Password string   `mapstructure:"password"`
	DB       int      `mapstructure:"db" validate:"min=0"`
}

type StoreConfig struct {
	Backend      string        `mapstructure:"backend" validate:"oneof=redis memory"`
	KeyPrefix    string        `mapstructure:"key_prefix"`
	KeyTTL       time.Duration `mapstructure:"key_ttl" validate:"min=0"`
	HashKeys     bool          `mapstructure:"hash_keys"`
	Timeout      time.Duration `mapstructure:"timeout" validate:"gt=0"`
	IdleTTL      time.Duration `mapstructure:"idle_ttl" validate:"min=0"`
	CleanupEvery time.Duration `mapstructure:"cleanup_every" validate:"min=0"`
}

type CacheConfig struct {
	Backend   string        `mapstructure:"backend" validate:"oneof=redis memory"`
	TTL       time.Duration `mapstructure:"ttl" validate:"gt=0"`
	KeyPrefix string        `mapstructure:"key_prefix"`
	Timeout   time.Duration `mapstructure:"timeout" validate:"gt=0"`
}

type ProviderConfig struct {
	BaseURL        string        `mapstructure:"base_url" validate:"required,url"`
	Timeout        time.Duration `mapstructure:"timeout" validate:"gt=0"`
	MaxInFlight    int           `mapstructure:"max_in_flight" validate:"min=0"`
	AcquireTimeout time.Duration `mapstructure:"acquire_timeout" validate:"min=0"`
	PacingRPS      float64       `mapstructure:"pacing_rps" validate:"min=0"`
	PacingBurst    int           `mapstructure:"pacing_burst" validate:"min=0"`
}

// RateLimitRule é a regra declarativa de uma operação protegida.
type RateLimitRule struct {
	Capacity       int64         `mapstructure:"capacity" validate:"min=0"`
	InitialTokens  int64         `mapstructure:"initial_tokens" validate:"min=0"`
	RefillAmount   int64         `mapstructure:"refill_amount" validate:"min=0"`
	RefillInterval time.Duration `mapstructure:"refill_interval" validate:"gt=0"`
	Scope          string        `mapstructure:"scope" validate:"required"`
}

// BucketConfig resolve a regra uma vez, no registro da rota.
func (r RateLimitRule) BucketConfig() (domain.BucketConfig, error) {
	scope, err := domain.ParseScope(r.Scope)
	if err != nil {
		return domain.BucketConfig{}, err
	}
	cfg := domain.BucketConfig{
		Capacity:       r.Capacity,
		RefillAmount:   r.RefillAmount,
		RefillInterval: r.RefillInterval,
		InitialTokens:  r.InitialTokens,
		Scope:          scope,
	}
	return cfg, cfg.Validate()
}

type ProxyConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	PathPrefix  string `mapstructure:"path_prefix" validate:"omitempty,startswith=/"`
	UpstreamURL string `mapstructure:"upstream_url" validate:"required_if=Enabled true,omitempty,url"`
}

type StatsConfig struct {
	Prometheus bool          `mapstructure:"prometheus"`
	Redis      bool          `mapstructure:"redis"`
	Prefix     string        `mapstructure:"prefix"`
	TTL        time.Duration `mapstructure:"ttl" validate:"min=0"`
	Bucket     string        `mapstructure:"bucket" validate:"oneof=minute hour none"`
	TrackKeys  bool          `mapstructure:"track_keys"`
}

// UsesRedis diz se algum componente precisa do Redis.
func (c *Config) UsesRedis() bool {
	return c.Store.Backend == "redis" || c.Cache.Backend == "redis" || c.Stats.Redis
}
