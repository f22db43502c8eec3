package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/redis/go-redis/v9"
)

// Redis is a ViewCache backed by Redis. Values are zstd-compressed; the
// generation lives in its own counter key and prefixes every entry key.
type Redis struct {
	client  *redis.Client
	prefix  string
	ttl     time.Duration
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// RedisConfig configures the Redis view cache.
type RedisConfig struct {
	Prefix string
	TTL    time.Duration
}

// NewRedis wraps an existing client. The client is not closed by Close.
func NewRedis(client *redis.Client, cfg RedisConfig) (*Redis, error) {
	if cfg.Prefix == "" {
		cfg.Prefix = "threatlens:views"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}

	return &Redis{
		client:  client,
		prefix:  cfg.Prefix,
		ttl:     cfg.TTL,
		encoder: enc,
		decoder: dec,
	}, nil
}

func (c *Redis) entryKey(key string) string {
	return c.prefix + ":" + key
}

func (c *Redis) generationKey() string {
	return c.prefix + ":generation"
}

// Get fetches and decompresses an entry.
func (c *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	raw, err := c.client.Get(ctx, c.entryKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return decompress(c.decoder, raw)
}

// Set compresses value and stores it with the configured TTL.
func (c *Redis) Set(ctx context.Context, key string, value []byte) error {
	if err := c.client.Set(ctx, c.entryKey(key), compress(c.encoder, value), c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Generation reads the generation counter; an absent counter is zero.
func (c *Redis) Generation(ctx context.Context) (int64, error) {
	gen, err := c.client.Get(ctx, c.generationKey()).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis generation: %w", err)
	}
	return gen, nil
}

// Invalidate increments the generation. Entries of older generations are
// left to expire through their TTL.
func (c *Redis) Invalidate(ctx context.Context) (int64, error) {
	gen, err := c.client.Incr(ctx, c.generationKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("redis invalidate: %w", err)
	}
	return gen, nil
}

// Ping checks Redis connectivity.
func (c *Redis) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close releases the codec resources.
func (c *Redis) Close() error {
	c.decoder.Close()
	return c.encoder.Close()
}

func compress(enc *zstd.Encoder, value []byte) []byte {
	return enc.EncodeAll(value, make([]byte, 0, len(value)/2))
}

func decompress(dec *zstd.Decoder, raw []byte) ([]byte, error) {
	out, err := dec.DecodeAll(raw, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress cached view: %w", err)
	}
	return out, nil
}
