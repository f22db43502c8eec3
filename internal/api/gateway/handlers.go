package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/lvonguyen/threatlens/internal/dashboard"
	"github.com/lvonguyen/threatlens/internal/intake"
	"github.com/lvonguyen/threatlens/internal/signals"
	"github.com/lvonguyen/threatlens/internal/trends"
	"go.uber.org/zap"
)

// Health and readiness handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "healthy",
		"version": s.version,
		"uptime":  time.Since(s.startedAt).Round(time.Second).String(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.views.Ready(r.Context()); err != nil {
		s.metrics.SetHealth("cache", false)
		s.logger.Warn("Readiness check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	s.metrics.SetHealth("cache", true)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// View handlers

func (s *Server) handleGroups(w http.ResponseWriter, r *http.Request) {
	p := params{r.URL.Query()}
	q := dashboard.GroupsQuery{Dimension: p.dimension()}
	s.serveView(w, r, func(body []byte) (*dashboard.Result, error) {
		return s.views.Groups(r.Context(), body, q)
	})
}

func (s *Server) handleTrends(w http.ResponseWriter, r *http.Request) {
	p := params{r.URL.Query()}
	limit, err := p.integer("limit")
	if err != nil {
		s.writeError(w, err)
		return
	}
	q := dashboard.TrendsQuery{
		Dimension: p.dimension(),
		Category:  trends.TrendCategory(p.Get("category")),
		Limit:     limit,
	}
	s.serveView(w, r, func(body []byte) (*dashboard.Result, error) {
		return s.views.Trends(r.Context(), body, q)
	})
}

func (s *Server) handleAllTrends(w http.ResponseWriter, r *http.Request) {
	p := params{r.URL.Query()}
	limit, err := p.integer("limit")
	if err != nil {
		s.writeError(w, err)
		return
	}
	q := dashboard.AllTrendsQuery{Dimension: p.dimension(), Limit: limit}
	s.serveView(w, r, func(body []byte) (*dashboard.Result, error) {
		return s.views.AllTrends(r.Context(), body, q)
	})
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	p := params{r.URL.Query()}
	limit, err := p.integer("limit")
	if err != nil {
		s.writeError(w, err)
		return
	}
	q := dashboard.LeaderboardQuery{
		Dimension: p.dimension(),
		Metric:    trends.Metric(p.or("metric", string(trends.MetricTotal))),
		Direction: trends.Direction(p.or("direction", string(trends.Descending))),
		Limit:     limit,
	}
	s.serveView(w, r, func(body []byte) (*dashboard.Result, error) {
		return s.views.Leaderboard(r.Context(), body, q)
	})
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	limit, err := params{r.URL.Query()}.integer("limit")
	if err != nil {
		s.writeError(w, err)
		return
	}
	q := dashboard.TimelineQuery{Limit: limit}
	s.serveView(w, r, func(body []byte) (*dashboard.Result, error) {
		return s.views.Timeline(r.Context(), body, q)
	})
}

func (s *Server) handleSeries(w http.ResponseWriter, r *http.Request) {
	p := params{r.URL.Query()}
	days, err := p.integer("days")
	if err != nil {
		s.writeError(w, err)
		return
	}
	q := dashboard.SeriesQuery{Days: days, By: p.or("by", "severity")}
	s.serveView(w, r, func(body []byte) (*dashboard.Result, error) {
		return s.views.Series(r.Context(), body, q)
	})
}

func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	if err := s.views.Invalidate(r.Context(), "manual"); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

// serveView reads the request body and writes the computed view.
func (s *Server) serveView(w http.ResponseWriter, r *http.Request, compute func([]byte) (*dashboard.Result, error)) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{
				"error": fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit),
			})
			return
		}
		s.writeError(w, fmt.Errorf("%w: read body: %v", intake.ErrInvalidPayload, err))
		return
	}

	result, err := compute(body)
	if err != nil {
		s.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if result.Cached {
		w.Header().Set("X-Cache", "HIT")
	} else {
		w.Header().Set("X-Cache", "MISS")
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Body)
}

// writeError maps caller errors to 400 and everything else to 500.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, trends.ErrInvalidArgument),
		errors.Is(err, intake.ErrInvalidPayload),
		errors.Is(err, intake.ErrUnknownSource):
		status = http.StatusBadRequest
	default:
		s.logger.Error("Request failed", zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// params reads view query parameters.
type params struct {
	url.Values
}

func (p params) or(key, fallback string) string {
	if v := p.Get(key); v != "" {
		return v
	}
	return fallback
}

// dimension defaults to org.
func (p params) dimension() signals.Dimension {
	return signals.Dimension(p.or("dimension", string(signals.DimensionOrg)))
}

// integer parses an optional integer parameter; absent is zero.
func (p params) integer(key string) (int, error) {
	raw := p.Get(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer, got %q", trends.ErrInvalidArgument, key, raw)
	}
	return n, nil
}
