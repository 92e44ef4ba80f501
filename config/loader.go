package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const EnvPrefix = "GATEWAY"

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen_addr", ":8080")
	v.SetDefault("server.trust_xff", false)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("redis.addrs", []string{"localhost:6379"})
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("store.backend", "redis")
	v.SetDefault("store.key_prefix", "ratelimit:")
	v.SetDefault("store.key_ttl", 0)
	v.SetDefault("store.hash_keys", false)
	v.SetDefault("store.timeout", 250*time.Millisecond)
	v.SetDefault("store.idle_ttl", 15*time.Minute)
	v.SetDefault("store.cleanup_every", 2*time.Minute)

	v.SetDefault("cache.backend", "redis")
	v.SetDefault("cache.ttl", 60*time.Second)
	v.SetDefault("cache.key_prefix", "cache:")
	v.SetDefault("cache.timeout", 250*time.Millisecond)

	v.SetDefault("provider.base_url", "https://pokeapi.co/api/v2/pokemon/")
	v.SetDefault("provider.timeout", 10*time.Second)
	v.SetDefault("provider.max_in_flight", 32)
	v.SetDefault("provider.acquire_timeout", 2*time.Second)
	v.SetDefault("provider.pacing_rps", 0)
	v.SetDefault("provider.pacing_burst", 1)

	v.SetDefault("rate_limits.pokemon.capacity", 5)
	v.SetDefault("rate_limits.pokemon.initial_tokens", 5)
	v.SetDefault("rate_limits.pokemon.refill_amount", 2)
	v.SetDefault("rate_limits.pokemon.refill_interval", 120*time.Second)
	v.SetDefault("rate_limits.pokemon.scope", "IP")

	v.SetDefault("proxy.enabled", false)
	v.SetDefault("proxy.path_prefix", "/")
	v.SetDefault("proxy.upstream_url", "")

	v.SetDefault("stats.prometheus", true)
	v.SetDefault("stats.redis", false)
	v.SetDefault("stats.prefix", "ratelimit:stats")
	v.SetDefault("stats.ttl", 24*time.Hour)
	v.SetDefault("stats.bucket", "minute")
	v.SetDefault("stats.track_keys", false)
}

// New prepara um viper com defaults, arquivo e ambiente. configFile vazio
// procura gateway.yaml no diretório atual e em /etc/gateway.
func New(configFile string) *viper.Viper {
	v := viper.New()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("gateway")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/gateway")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// Load lê a configuração e valida. Sem arquivo, segue só com defaults e
// ambiente; um arquivo indicado explicitamente precisa existir.
func Load(configFile string) (*Config, error) {
	v := New(configFile)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}
