package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// streamMaxLen caps the audit stream via XADD MAXLEN ~.
const streamMaxLen int64 = 10000

// redisClient is the subset of *redis.Client the publisher uses.
type redisClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// RedisConfig holds connection parameters and destinations.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Channel  string
	Stream   string // optional durable audit stream
}

// RedisPublisher sends each event to a pub/sub channel and, when a stream is
// configured, appends it to a Redis stream.
type RedisPublisher struct {
	rdb     redisClient
	closer  func() error
	channel string
	stream  string
}

// NewRedisPublisher connects and pings the server.
func NewRedisPublisher(ctx context.Context, cfg RedisConfig) (*RedisPublisher, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	p := newRedisPublisher(rdb, cfg.Channel, cfg.Stream)
	p.closer = rdb.Close
	return p, nil
}

func newRedisPublisher(rdb redisClient, channel, stream string) *RedisPublisher {
	return &RedisPublisher{rdb: rdb, channel: channel, stream: stream}
}

func (p *RedisPublisher) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding event %s: %w", ev.Type, err)
	}
	if err := p.rdb.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", p.channel, err)
	}
	if p.stream == "" {
		return nil
	}
	args := &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"type":    string(ev.Type),
			"payload": payload,
		},
	}
	if err := p.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("redis: stream append %s: %w", p.stream, err)
	}
	return nil
}

// Close closes the connection when the publisher owns it.
func (p *RedisPublisher) Close() error {
	if p.closer == nil {
		return nil
	}
	return p.closer()
}
