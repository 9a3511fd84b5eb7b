package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultRedisChannelPattern = "queue.%s.broadcast"

type redisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// Redis publishes envelopes on a per-date pub/sub channel for dashboards
// running outside this process.
type Redis struct {
	client  redisPublisher
	pattern string
	now     func() time.Time
}

type RedisOptions struct {
	ChannelPattern string
	Now            func() time.Time
}

func NewRedis(client redisPublisher, options RedisOptions) *Redis {
	pattern := options.ChannelPattern
	if pattern == "" {
		pattern = DefaultRedisChannelPattern
	}
	now := options.Now
	if now == nil {
		now = time.Now
	}
	return &Redis{client: client, pattern: pattern, now: now}
}

func (r *Redis) Channel(date string) string {
	return fmt.Sprintf(r.pattern, date)
}

func (r *Redis) Publish(ctx context.Context, date string) error {
	payload, err := NewEnvelope(date, r.now()).Marshal()
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, r.Channel(date), string(payload)).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", r.Channel(date), err)
	}
	return nil
}

// NewRedisClient parses a redis:// or rediss:// URL and checks the
// connection before returning.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}
