// Package main provides the entry point for the ThreatLens server.
// ThreatLens turns raw threat-intelligence feed batches into dashboard views.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lvonguyen/threatlens/internal/api/gateway"
	"github.com/lvonguyen/threatlens/internal/cache"
	"github.com/lvonguyen/threatlens/internal/config"
	"github.com/lvonguyen/threatlens/internal/dashboard"
	"github.com/lvonguyen/threatlens/internal/events"
	"github.com/lvonguyen/threatlens/internal/observability"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Version information (injected at build time via ldflags)
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("ThreatLens %s (commit: %s, built: %s)\n", Version, GitCommit, BuildTime)
		os.Exit(0)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "threatlens: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file, falling back to defaults when the
// default path does not exist.
func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return config.DefaultConfig(), nil
	}
	return config.Load(path)
}

func run(cfg *config.Config) error {
	tel, err := observability.New(observability.Config{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: Version,
		Environment:    cfg.Telemetry.Environment,
		LogLevel:       cfg.Logging.Level,
		LogFormat:      cfg.Logging.Format,
		TracingEnabled: cfg.Telemetry.TracingEnabled,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		SamplingRate:   cfg.Telemetry.SamplingRate,
		MetricsEnabled: cfg.Telemetry.MetricsEnabled,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	logger := tel.Logger()
	logger.Info("Starting ThreatLens", zap.String("version", Version), zap.String("commit", GitCommit))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tel.StartSystemMetricsCollector(ctx)

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.RedisPassword(),
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		defer redisClient.Close()

		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			logger.Warn("Redis unreachable at startup", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		}
		pingCancel()
	}

	viewCache, err := newViewCache(ctx, cfg, redisClient, logger)
	if err != nil {
		return err
	}
	if viewCache != nil {
		defer viewCache.Close()
	}

	loc, err := cfg.Engine.Location()
	if err != nil {
		return err
	}

	svc, err := dashboard.NewService(dashboard.Options{
		Cache:          viewCache,
		Logger:         logger.Named("dashboard"),
		Metrics:        tel.Metrics(),
		Tracer:         tel.Tracer(),
		Windows:        cfg.Engine.Windows,
		MaxChartDays:   cfg.Engine.MaxChartDays,
		TimelineLimit:  cfg.Engine.TimelineLimit,
		VisibleDefault: cfg.Engine.VisibleDefault,
		Location:       loc,
	})
	if err != nil {
		return fmt.Errorf("init dashboard service: %w", err)
	}

	if cfg.NATS.Enabled {
		sub, err := events.Connect(events.Config{
			URL:     cfg.NATS.URL,
			Subject: cfg.NATS.Subject,
			Queue:   cfg.NATS.Queue,
		}, svc, logger.Named("events"))
		if err != nil {
			logger.Warn("Push refresh disabled", zap.Error(err))
		} else {
			defer sub.Close()
		}
	}

	var limiter *gateway.RateLimiter
	if cfg.RateLimit.Enabled {
		if redisClient == nil {
			logger.Warn("Rate limiting requires redis; disabled")
		} else {
			limiter = gateway.NewRateLimiter(redisClient, gateway.RateLimitConfig{
				RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
				IncludeHeaders:    cfg.RateLimit.IncludeHeaders,
			}, logger.Named("ratelimit"))
		}
	}

	server := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: gateway.NewRouter(gateway.RouterConfig{
			Views:          svc,
			Telemetry:      tel,
			Limiter:        limiter,
			Version:        Version,
			MaxBodyBytes:   cfg.Server.MaxBodyBytes,
			RequestTimeout: cfg.Server.WriteTimeout,
		}),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case sig := <-sigChan:
		logger.Info("Received signal, shutting down", zap.String("signal", sig.String()))
	case err := <-serverErr:
		logger.Error("Server error", zap.Error(err))
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Shutdown error", zap.Error(err))
	}
	logger.Info("Server stopped")
	return tel.Shutdown(shutdownCtx)
}

// newViewCache selects the Redis cache when Redis is enabled and the
// in-memory cache otherwise. A nil cache disables caching.
func newViewCache(ctx context.Context, cfg *config.Config, client *redis.Client, logger *zap.Logger) (cache.ViewCache, error) {
	if !cfg.Cache.Enabled {
		logger.Info("View cache disabled")
		return nil, nil
	}
	if client != nil {
		c, err := cache.NewRedis(client, cache.RedisConfig{Prefix: cfg.Cache.KeyPrefix, TTL: cfg.Cache.TTL})
		if err != nil {
			return nil, fmt.Errorf("init redis view cache: %w", err)
		}
		logger.Info("Using redis view cache", zap.String("prefix", cfg.Cache.KeyPrefix), zap.Duration("ttl", cfg.Cache.TTL))
		return c, nil
	}
	mem := cache.NewMemory(cfg.Cache.TTL)
	mem.StartJanitor(ctx, time.Minute)
	logger.Info("Using in-memory view cache", zap.Duration("ttl", cfg.Cache.TTL))
	return mem, nil
}
