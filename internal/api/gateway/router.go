package gateway

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/lvonguyen/threatlens/internal/dashboard"
	"github.com/lvonguyen/threatlens/internal/observability"
	"go.uber.org/zap"
)

// Views is the dashboard surface served by the API.
type Views interface {
	Groups(ctx context.Context, body []byte, q dashboard.GroupsQuery) (*dashboard.Result, error)
	Trends(ctx context.Context, body []byte, q dashboard.TrendsQuery) (*dashboard.Result, error)
	AllTrends(ctx context.Context, body []byte, q dashboard.AllTrendsQuery) (*dashboard.Result, error)
	Leaderboard(ctx context.Context, body []byte, q dashboard.LeaderboardQuery) (*dashboard.Result, error)
	Timeline(ctx context.Context, body []byte, q dashboard.TimelineQuery) (*dashboard.Result, error)
	Series(ctx context.Context, body []byte, q dashboard.SeriesQuery) (*dashboard.Result, error)
	Invalidate(ctx context.Context, reason string) error
	Ready(ctx context.Context) error
}

// RouterConfig wires the router's dependencies.
type RouterConfig struct {
	Views          Views
	Telemetry      *observability.Telemetry
	Limiter        *RateLimiter // nil disables rate limiting
	Version        string
	MaxBodyBytes   int64
	RequestTimeout time.Duration
}

// Server holds the HTTP handlers.
type Server struct {
	views     Views
	logger    *zap.Logger
	metrics   *observability.Metrics
	version   string
	maxBody   int64
	startedAt time.Time
}

// NewRouter builds the chi router for the ThreatLens API.
func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 32 << 20
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}

	s := &Server{
		views:     cfg.Views,
		logger:    cfg.Telemetry.Logger(),
		metrics:   cfg.Telemetry.Metrics(),
		version:   cfg.Version,
		maxBody:   cfg.MaxBodyBytes,
		startedAt: time.Now(),
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.RequestTimeout))

	// Health endpoints
	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Method(http.MethodGet, "/metrics", cfg.Telemetry.MetricsHandler())

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if cfg.Limiter != nil {
				r.Use(cfg.Limiter.Middleware(clientIDFromRequest))
			}

			// View endpoints
			r.Post("/views/groups", s.handleGroups)
			r.Post("/views/trends", s.handleTrends)
			r.Post("/views/trends/all", s.handleAllTrends)
			r.Post("/views/leaderboard", s.handleLeaderboard)
			r.Post("/views/timeline", s.handleTimeline)
			r.Post("/views/series", s.handleSeries)

			r.Post("/cache/invalidate", s.handleInvalidate)
		})
	})

	return r
}

// clientIDFromRequest identifies API clients by their X-Client-ID header.
// The limiter falls back to the client IP when it is empty.
func clientIDFromRequest(r *http.Request) string {
	return r.Header.Get("X-Client-ID")
}

// requestLogger logs and measures each request once routing has resolved
// the route pattern.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		elapsed := time.Since(start)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}

		s.metrics.ObserveRequest(r.Method, path, strconv.Itoa(status), elapsed)
		s.logger.Info("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", path),
			zap.Int("status", status),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", elapsed),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}
