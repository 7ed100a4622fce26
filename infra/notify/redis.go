package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kilianp07/tankwatch/core/model"
)

// redisClient is the subset of *redis.Client the notifier uses.
type redisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Close() error
}

// RedisConfig configures RedisNotifier.
type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	// DedupTTL suppresses the same (tank, kind, status, reminder) event when
	// several instances evaluate the same tank.
	DedupTTL time.Duration `json:"dedup_ttl"`
	Prefix   string        `json:"prefix"`
}

// RedisNotifier mirrors alert state into a hash per tank and publishes each
// event on a per-station channel.
type RedisNotifier struct {
	client redisClient
	cfg    RedisConfig
}

// NewRedisNotifier connects to Redis and checks the connection.
func NewRedisNotifier(ctx context.Context, cfg RedisConfig) (*RedisNotifier, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     10,
		MinIdleConns: 2,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return newRedisNotifier(client, cfg), nil
}

func newRedisNotifier(client redisClient, cfg RedisConfig) *RedisNotifier {
	if cfg.Prefix == "" {
		cfg.Prefix = "tankwatch"
	}
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = time.Minute
	}
	return &RedisNotifier{client: client, cfg: cfg}
}

func (n *RedisNotifier) Notify(ctx context.Context, ev model.AlertEvent) error {
	dedupKey := fmt.Sprintf("%s:alert:%s:%s:%s:%t", n.cfg.Prefix, ev.TankID, ev.Kind, ev.Status, ev.Reminder)
	fresh, err := n.client.SetNX(ctx, dedupKey, ev.ID, n.cfg.DedupTTL).Result()
	if err != nil {
		return fmt.Errorf("dedup check failed: %w", err)
	}
	if !fresh {
		return nil
	}
	stateKey := fmt.Sprintf("%s:tank:%s:alerts", n.cfg.Prefix, ev.TankID)
	if err := n.client.HSet(ctx, stateKey, string(ev.Kind), string(ev.Status)).Err(); err != nil {
		return fmt.Errorf("store alert state: %w", err)
	}
	payload, err := Encode(ev)
	if err != nil {
		return err
	}
	channel := fmt.Sprintf("%s:station:%s:alerts", n.cfg.Prefix, ev.StationID)
	return n.client.Publish(ctx, channel, payload).Err()
}

func (n *RedisNotifier) Close() error { return n.client.Close() }
