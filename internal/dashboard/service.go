// Package dashboard computes dashboard views from posted feed batches.
//
// A request carries a batch of raw records and a view selection. The
// service decodes and normalizes the batch, runs the trend engine for the
// selected view and returns a JSON response. Responses are cached by the
// exact request so repeated polls of an unchanged snapshot are served
// without recomputation.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lvonguyen/threatlens/internal/cache"
	"github.com/lvonguyen/threatlens/internal/intake"
	"github.com/lvonguyen/threatlens/internal/observability"
	"github.com/lvonguyen/threatlens/internal/signals"
	"github.com/lvonguyen/threatlens/internal/trends"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

// Options configures a Service. Zero values select defaults; Cache may be
// nil to disable caching.
type Options struct {
	Cache          cache.ViewCache
	Logger         *zap.Logger
	Metrics        *observability.Metrics
	Tracer         trace.Tracer
	Windows        trends.Windows
	MaxChartDays   int
	TimelineLimit  int
	VisibleDefault int
	Location       *time.Location
	Clock          func() time.Time
}

// Service computes views. It holds no per-request state and is safe for
// concurrent use.
type Service struct {
	decoder        *intake.Decoder
	cache          cache.ViewCache
	logger         *zap.Logger
	metrics        *observability.Metrics
	tracer         trace.Tracer
	windows        trends.Windows
	maxChartDays   int
	timelineLimit  int
	visibleDefault int
	location       *time.Location
	clock          func() time.Time
}

// Response is the JSON envelope of every view.
type Response struct {
	RunID       string         `json:"run_id"`
	View        string         `json:"view"`
	GeneratedAt time.Time      `json:"generated_at"`
	Now         time.Time      `json:"now"`
	Dropped     map[string]int `json:"dropped"`
	Data        any            `json:"data"`
}

// Result is an encoded Response.
type Result struct {
	Body   []byte
	Cached bool
}

// NewService creates a view service.
func NewService(opts Options) (*Service, error) {
	decoder, err := intake.NewDecoder()
	if err != nil {
		return nil, err
	}

	if opts.Windows == (trends.Windows{}) {
		opts.Windows = trends.DefaultWindows()
	}
	if err := opts.Windows.Validate(); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Tracer == nil {
		opts.Tracer = noop.NewTracerProvider().Tracer("threatlens")
	}
	if opts.MaxChartDays <= 0 {
		opts.MaxChartDays = trends.DefaultMaxChartDays
	}
	if opts.MaxChartDays < opts.Windows.ChartDays {
		return nil, fmt.Errorf("%w: max chart days %d is below chart days %d",
			trends.ErrInvalidArgument, opts.MaxChartDays, opts.Windows.ChartDays)
	}
	if opts.TimelineLimit <= 0 {
		opts.TimelineLimit = trends.DefaultTimelineLimit
	}
	if opts.VisibleDefault < 0 {
		opts.VisibleDefault = 0
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	return &Service{
		decoder:        decoder,
		cache:          opts.Cache,
		logger:         opts.Logger,
		metrics:        opts.Metrics,
		tracer:         opts.Tracer,
		windows:        opts.Windows,
		maxChartDays:   opts.MaxChartDays,
		timelineLimit:  opts.TimelineLimit,
		visibleDefault: opts.VisibleDefault,
		location:       opts.Location,
		clock:          opts.Clock,
	}, nil
}

// query is implemented by every view query type.
type query interface {
	validate() error
	canonical() string
}

// snapshot is one decoded and normalized batch. streams holds the signals
// of each feed in envelope order; signals is their concatenation.
type snapshot struct {
	now     time.Time
	signals []signals.Signal
	streams [][]signals.Signal
	dropped map[string]int
}

// serve runs one view request through the cache and the engine.
func (s *Service) serve(ctx context.Context, view string, q query, body []byte, compute func(*snapshot) (any, error)) (*Result, error) {
	ctx, span := s.tracer.Start(ctx, "dashboard."+view, trace.WithAttributes(
		attribute.String("view", view),
		attribute.String("query", q.canonical()),
	))
	defer span.End()

	if err := q.validate(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	key, cacheable := s.cacheKey(ctx, view, q, body)
	if cacheable {
		cached, err := s.cache.Get(ctx, key)
		switch {
		case err == nil:
			s.metrics.ObserveCache(view, "hit")
			span.SetAttributes(attribute.Bool("cache.hit", true))
			return &Result{Body: cached, Cached: true}, nil
		case errors.Is(err, cache.ErrMiss):
			s.metrics.ObserveCache(view, "miss")
		default:
			s.metrics.ObserveCache(view, "error")
			s.logger.Warn("View cache read failed", zap.String("view", view), zap.Error(err))
		}
	}

	start := time.Now()
	snap, err := s.load(body)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	data, err := compute(snap)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	s.metrics.ObserveView(view, time.Since(start))
	span.SetAttributes(attribute.Int("signals", len(snap.signals)))

	encoded, err := json.Marshal(Response{
		RunID:       uuid.NewString(),
		View:        view,
		GeneratedAt: s.clock().UTC(),
		Now:         snap.now,
		Dropped:     snap.dropped,
		Data:        data,
	})
	if err != nil {
		return nil, fmt.Errorf("encode %s view: %w", view, err)
	}

	if cacheable {
		if err := s.cache.Set(ctx, key, encoded); err != nil {
			s.logger.Warn("View cache write failed", zap.String("view", view), zap.Error(err))
		}
	}

	return &Result{Body: encoded}, nil
}

// cacheKey returns the key for a request, or false when caching is off or
// the generation cannot be read.
func (s *Service) cacheKey(ctx context.Context, view string, q query, body []byte) (string, bool) {
	if s.cache == nil {
		return "", false
	}
	gen, err := s.cache.Generation(ctx)
	if err != nil {
		s.metrics.ObserveCache(view, "error")
		s.logger.Warn("View cache generation unavailable", zap.String("view", view), zap.Error(err))
		return "", false
	}
	return cache.Key(gen, view, q.canonical(), body), true
}

// load decodes and normalizes a batch. Records without a usable timestamp
// are dropped and counted per source.
func (s *Service) load(body []byte) (*snapshot, error) {
	batch, err := s.decoder.Decode(body)
	if err != nil {
		return nil, err
	}

	snap := &snapshot{
		now:     batch.Now,
		dropped: make(map[string]int),
	}
	if snap.now.IsZero() {
		snap.now = s.clock().UTC()
	}

	for _, feed := range batch.Feeds {
		source := string(feed.Source)
		dropped := 0
		stream := signals.NormalizeAll(feed.Records, func(i int, r signals.Record) {
			dropped++
			s.logger.Debug("Dropped record without usable timestamp",
				zap.String("source", source),
				zap.String("id", signals.RecordID(r)),
				zap.Int("index", i))
		})
		if dropped > 0 {
			snap.dropped[source] += dropped
		}
		snap.streams = append(snap.streams, stream)
		snap.signals = append(snap.signals, stream...)
		s.metrics.ObserveNormalized(source, len(stream), dropped)
	}

	return snap, nil
}

// classified aggregates and classifies the snapshot for a dimension.
func (s *Service) classified(snap *snapshot, dim signals.Dimension) (map[string]trends.GroupStat, error) {
	stats, err := trends.Aggregate(snap.signals, dim)
	if err != nil {
		return nil, err
	}
	return trends.Classify(stats, snap.now, s.windows)
}

// visible applies the request limit, or the configured default when zero.
func visible[T any](s *Service, items []T, limit int) (trends.Slice[T], error) {
	if limit == 0 {
		limit = s.visibleDefault
	}
	return trends.Visible(items, limit)
}

// Invalidate drops every cached view.
func (s *Service) Invalidate(ctx context.Context, reason string) error {
	if s.cache == nil {
		return nil
	}
	gen, err := s.cache.Invalidate(ctx)
	if err != nil {
		return fmt.Errorf("invalidate view cache: %w", err)
	}
	s.metrics.ObserveInvalidation(reason)
	s.logger.Info("View cache invalidated", zap.String("reason", reason), zap.Int64("generation", gen))
	return nil
}

// Ready reports whether the cache backend, when configured, is reachable.
func (s *Service) Ready(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Ping(ctx)
}
