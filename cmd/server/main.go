package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/twmb/franz-go/pkg/kgo"

	"cepfinder/internal/cep/cache"
	"cepfinder/internal/cep/events"
	"cepfinder/internal/cep/handler"
	cepmetrics "cepfinder/internal/cep/metrics"
	"cepfinder/internal/cep/orchestrator"
	"cepfinder/internal/cep/providers"
	"cepfinder/internal/cep/providers/brasilapi"
	"cepfinder/internal/cep/providers/viacep"
	"cepfinder/internal/cep/providers/widenet"
	"cepfinder/internal/cep/ratelimit"
	"cepfinder/internal/platform/config"
	"cepfinder/internal/platform/httpserver"
	"cepfinder/internal/platform/logger"
	platformmetrics "cepfinder/internal/platform/metrics"
	"cepfinder/internal/platform/middleware"
	"cepfinder/internal/platform/redis"
	"cepfinder/pkg/platform/circuit"
	"cepfinder/pkg/platform/httputil"
)

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Lookup logic lives in internal/cep.
func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(2)
	}
	log := logger.New(cfg.LogLevel)

	if err := run(cfg, log); err != nil {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ps, err := buildProviders(cfg.Lookup)
	if err != nil {
		return err
	}

	redisClient, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
	}
	addrCache := buildCache(cfg, redisClient, log)

	emitter := events.NewEmitter(log)
	cepMetrics := cepmetrics.New(prometheus.DefaultRegisterer)
	defer cepMetrics.Observe(emitter)()
	httpMetrics := platformmetrics.New(prometheus.DefaultRegisterer)

	if len(cfg.Kafka.Brokers) > 0 {
		closeSink, err := attachKafka(ctx, cfg.Kafka, emitter, log)
		if err != nil {
			return err
		}
		defer closeSink()
	}

	opts := []orchestrator.Option{
		orchestrator.WithCache(addrCache),
		orchestrator.WithStaggerDelay(cfg.Lookup.StaggerDelay),
		orchestrator.WithRetries(cfg.Lookup.Retries),
		orchestrator.WithRetryDelay(cfg.Lookup.RetryDelay),
		orchestrator.WithLogger(log),
		orchestrator.WithEmitter(emitter),
	}
	if cfg.Lookup.RateLimitRequests > 0 {
		opts = append(opts, orchestrator.WithRateLimit(ratelimit.Options{
			Requests: cfg.Lookup.RateLimitRequests,
			Per:      cfg.Lookup.RateLimitWindow,
		}))
	}
	orch, err := orchestrator.New(ps, opts...)
	if err != nil {
		return err
	}

	if cfg.Lookup.WarmupOnStart {
		go func() {
			warmCtx, cancel := context.WithTimeout(ctx, 2*cfg.Lookup.ProviderTimeout)
			defer cancel()
			if _, err := orch.Warmup(warmCtx); err != nil {
				log.WarnContext(ctx, "startup warmup failed", "error", err)
			}
		}()
	}

	var limiters *middleware.ClientLimiters
	if cfg.Throttle.RPS > 0 {
		limiters = middleware.NewClientLimiters(cfg.Throttle.RPS, cfg.Throttle.Burst)
		limiters.StartJanitor(ctx, 2*time.Minute)
	}
	router := newRouter(routerDeps{
		service:     orch,
		logger:      log,
		cepMetrics:  cepMetrics,
		httpMetrics: httpMetrics,
		limiters:    limiters,
		redis:       redisClient,
	})

	srv := httpserver.New(cfg.Server.Addr, router)
	serveErr := make(chan error, 1)
	go func() {
		log.Info("starting cepfinder", "addr", cfg.Server.Addr, "providers", cfg.Lookup.Providers)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	log.Info("shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

type routerDeps struct {
	service     handler.Service
	logger      *slog.Logger
	cepMetrics  *cepmetrics.Metrics
	httpMetrics *platformmetrics.Metrics
	// limiters enables the per-client throttle on /cep routes when set.
	limiters *middleware.ClientLimiters
	redis    *redis.Client
}

func newRouter(deps routerDeps) http.Handler {
	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.ClientIP,
		chimw.Recoverer,
		middleware.Instrument(deps.logger, deps.httpMetrics),
	)
	router.Get("/healthz", healthz(deps.redis))
	router.Handle("/metrics", promhttp.Handler())
	router.Group(func(r chi.Router) {
		if deps.limiters != nil {
			r.Use(middleware.Throttle(deps.limiters, deps.logger, deps.httpMetrics))
		}
		handler.New(deps.service, deps.logger, deps.cepMetrics).Register(r)
	})
	return router
}

func buildProviders(cfg config.Lookup) ([]providers.Provider, error) {
	ps := make([]providers.Provider, 0, len(cfg.Providers))
	for _, name := range cfg.Providers {
		switch name {
		case viacep.Name:
			ps = append(ps, viacep.New(viacep.WithTimeout(cfg.ProviderTimeout)))
		case brasilapi.Name:
			ps = append(ps, brasilapi.New(brasilapi.WithTimeout(cfg.ProviderTimeout)))
		case widenet.Name:
			ps = append(ps, widenet.New(widenet.WithTimeout(cfg.ProviderTimeout)))
		default:
			return nil, fmt.Errorf("unknown provider %q", name)
		}
	}
	return ps, nil
}

// buildCache returns the in-memory cache, fronted by Redis when configured.
// Redis failures degrade to memory through the circuit breaker.
func buildCache(cfg config.Config, client *redis.Client, log *slog.Logger) cache.Cache {
	memory := cache.NewMemory(
		cache.WithTTL(cfg.Cache.TTL),
		cache.WithMaxSize(cfg.Cache.MaxSize),
	)
	if client == nil {
		return memory
	}
	primary := cache.NewRedis(client, cache.WithRedisTTL(cfg.Cache.TTL))
	return cache.NewFallback(primary, memory, log, cache.WithBreaker(circuit.New("redis-cache")))
}

func attachKafka(ctx context.Context, cfg config.KafkaConfig, emitter *events.Emitter, log *slog.Logger) (func(), error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ProducerLinger(50*time.Millisecond),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka client: %w", err)
	}
	if err := events.EnsureTopic(ctx, client, cfg.EventsTopic, 3, 1); err != nil {
		log.WarnContext(ctx, "could not ensure events topic", "topic", cfg.EventsTopic, "error", err)
	}

	detach := events.NewKafkaSink(client, cfg.EventsTopic, log).Attach(emitter)
	return func() {
		detach()
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Flush(flushCtx); err != nil {
			log.Warn("kafka flush incomplete", "error", err)
		}
		client.Close()
	}, nil
}

func healthz(client *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := map[string]string{"status": "ok", "cache": "memory"}
		if client != nil {
			status["cache"] = "redis"
			if err := client.Health(r.Context()); err != nil {
				status["cache"] = "redis_degraded"
			}
		}
		httputil.WriteJSON(w, http.StatusOK, status)
	}
}
