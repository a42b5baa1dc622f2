package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"cepfinder/pkg/platform/strings"
)

// Config is the full runtime configuration, read once at startup.
type Config struct {
	Server   Server
	Lookup   Lookup
	Cache    Cache
	Redis    RedisConfig
	Kafka    KafkaConfig
	Throttle Throttle
	LogLevel string
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string
	ShutdownTimeout time.Duration
}

// Lookup configures the provider race.
type Lookup struct {
	Providers       []string
	ProviderTimeout time.Duration
	StaggerDelay    time.Duration
	Retries         int
	RetryDelay      time.Duration
	// RateLimitRequests of 0 disables the orchestrator's admission check.
	RateLimitRequests int
	RateLimitWindow   time.Duration
	WarmupOnStart     bool
}

type Cache struct {
	TTL     time.Duration
	MaxSize int
}

// RedisConfig enables the Redis cache when URL is set.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig enables the event sink when Brokers is non-empty.
type KafkaConfig struct {
	Brokers     []string
	EventsTopic string
}

// Throttle is the per-client HTTP admission limit. RPS of 0 disables it.
type Throttle struct {
	RPS   float64
	Burst int
}

// FromEnv builds a Config from environment variables so main stays lean.
// Every malformed value is reported in the returned error.
func FromEnv() (Config, error) {
	return load(os.Getenv)
}

func load(getenv func(string) string) (Config, error) {
	p := parser{getenv: getenv}

	providers := strings.SplitList(getenv("CEP_PROVIDERS"))
	if len(providers) == 0 {
		providers = []string{"viacep", "brasilapi", "widenet"}
	}

	cfg := Config{
		Server: Server{
			Addr:            p.str("CEP_ADDR", ":8080"),
			ShutdownTimeout: p.duration("CEP_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Lookup: Lookup{
			Providers:         providers,
			ProviderTimeout:   p.duration("CEP_PROVIDER_TIMEOUT", 5*time.Second),
			StaggerDelay:      p.duration("CEP_STAGGER_DELAY", 100*time.Millisecond),
			Retries:           p.integer("CEP_RETRIES", 0),
			RetryDelay:        p.duration("CEP_RETRY_DELAY", time.Second),
			RateLimitRequests: p.integer("CEP_RATE_LIMIT_REQUESTS", 0),
			RateLimitWindow:   p.duration("CEP_RATE_LIMIT_WINDOW", time.Second),
			WarmupOnStart:     p.boolean("CEP_WARMUP_ON_START", false),
		},
		Cache: Cache{
			TTL:     p.duration("CEP_CACHE_TTL", 0),
			MaxSize: p.integer("CEP_CACHE_MAX_SIZE", 10000),
		},
		Redis: RedisConfig{
			URL:          getenv("REDIS_URL"),
			PoolSize:     p.integer("REDIS_POOL_SIZE", 10),
			MinIdleConns: p.integer("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  p.duration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  p.duration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: p.duration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers:     strings.SplitList(getenv("KAFKA_BROKERS")),
			EventsTopic: p.str("KAFKA_EVENTS_TOPIC", "cep.lookup.events"),
		},
		Throttle: Throttle{
			RPS:   p.float("CEP_CLIENT_RPS", 0),
			Burst: p.integer("CEP_CLIENT_BURST", 20),
		},
		LogLevel: p.str("LOG_LEVEL", "info"),
	}

	if cfg.Lookup.Retries < 0 {
		p.fail("CEP_RETRIES", "must not be negative")
	}
	if cfg.Lookup.RateLimitRequests < 0 {
		p.fail("CEP_RATE_LIMIT_REQUESTS", "must not be negative")
	}
	if cfg.Cache.MaxSize < 0 {
		p.fail("CEP_CACHE_MAX_SIZE", "must not be negative")
	}
	if cfg.Throttle.RPS > 0 && cfg.Throttle.Burst < 1 {
		p.fail("CEP_CLIENT_BURST", "must be at least 1 when CEP_CLIENT_RPS is set")
	}

	if err := errors.Join(p.errs...); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type parser struct {
	getenv func(string) string
	errs   []error
}

func (p *parser) fail(key, reason string) {
	p.errs = append(p.errs, fmt.Errorf("%s: %s", key, reason))
}

func (p *parser) str(key, def string) string {
	if v := p.getenv(key); v != "" {
		return v
	}
	return def
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	v := p.getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.fail(key, fmt.Sprintf("invalid duration %q", v))
		return def
	}
	if d < 0 {
		p.fail(key, "must not be negative")
		return def
	}
	return d
}

func (p *parser) integer(key string, def int) int {
	v := p.getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.fail(key, fmt.Sprintf("invalid integer %q", v))
		return def
	}
	return n
}

func (p *parser) float(key string, def float64) float64 {
	v := p.getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		p.fail(key, fmt.Sprintf("invalid non-negative number %q", v))
		return def
	}
	return f
}

func (p *parser) boolean(key string, def bool) bool {
	v := p.getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.fail(key, fmt.Sprintf("invalid boolean %q", v))
		return def
	}
	return b
}
