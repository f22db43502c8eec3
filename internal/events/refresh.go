// Package events consumes snapshot-refresh notifications from NATS and
// invalidates the view cache when upstream feeds change.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var propagator = propagation.TraceContext{}

// Invalidator drops cached views.
type Invalidator interface {
	Invalidate(ctx context.Context, reason string) error
}

// RefreshEvent announces that a source's snapshot changed. Every field is
// optional; any message on the subject triggers invalidation.
type RefreshEvent struct {
	Source      string    `json:"source,omitempty"`
	SnapshotID  string    `json:"snapshot_id,omitempty"`
	PublishedAt time.Time `json:"published_at,omitempty"`
}

// Config configures the refresh subscriber.
type Config struct {
	URL     string
	Subject string
	Queue   string
}

// Subscriber invalidates the view cache on every refresh message.
type Subscriber struct {
	conn        *nats.Conn
	sub         *nats.Subscription
	invalidator Invalidator
	logger      *zap.Logger
	tracer      trace.Tracer
}

// Connect dials NATS and subscribes to the refresh subject.
func Connect(cfg Config, invalidator Invalidator, logger *zap.Logger) (*Subscriber, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name("threatlens"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	s := newSubscriber(invalidator, logger)
	s.conn = nc

	if cfg.Queue != "" {
		s.sub, err = nc.QueueSubscribe(cfg.Subject, cfg.Queue, s.onMessage)
	} else {
		s.sub, err = nc.Subscribe(cfg.Subject, s.onMessage)
	}
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("subscribe to %s: %w", cfg.Subject, err)
	}

	logger.Info("Subscribed to snapshot refresh events",
		zap.String("subject", cfg.Subject),
		zap.String("queue", cfg.Queue))
	return s, nil
}

func newSubscriber(invalidator Invalidator, logger *zap.Logger) *Subscriber {
	return &Subscriber{
		invalidator: invalidator,
		logger:      logger,
		tracer:      otel.Tracer("threatlens-events"),
	}
}

// onMessage extracts the publisher's trace context and handles the message
// under a consumer span.
func (s *Subscriber) onMessage(m *nats.Msg) {
	ctx := propagator.Extract(context.Background(), propagation.HeaderCarrier(m.Header))
	ctx, span := s.tracer.Start(ctx, "events.refresh", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(attribute.String("messaging.destination", m.Subject))
	defer span.End()

	if err := s.handle(ctx, m.Data); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// handle invalidates the cache for one message. A malformed payload is
// logged but still invalidates.
func (s *Subscriber) handle(ctx context.Context, data []byte) error {
	var evt RefreshEvent
	if len(data) > 0 {
		if err := json.Unmarshal(data, &evt); err != nil {
			s.logger.Warn("Malformed refresh event", zap.Error(err))
		}
	}

	if err := s.invalidator.Invalidate(ctx, "nats"); err != nil {
		s.logger.Warn("Failed to invalidate view cache",
			zap.String("source", evt.Source),
			zap.Error(err))
		return err
	}

	s.logger.Debug("Snapshot refresh handled",
		zap.String("source", evt.Source),
		zap.String("snapshot_id", evt.SnapshotID))
	return nil
}

// Close drains the subscription and closes the connection.
func (s *Subscriber) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Drain()
}
