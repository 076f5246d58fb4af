package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/sweeney/nightskip/internal/mqtt"
	"github.com/sweeney/nightskip/internal/render"
)

// HistorySize is how many messages the Redis history list keeps.
const HistorySize = 50

// Redis publishes chat to Redis channels so dashboards and bots can follow
// along. Every message is also pushed onto a capped history list.
//
// Channels are <prefix>:chat:all and <prefix>:chat:player:<uuid>; the list
// is <prefix>:chat:history.
type Redis struct {
	rdb    *redis.Client
	prefix string
	logger *slog.Logger
	now    func() time.Time
}

// NewRedis connects to redisURL and checks the connection.
func NewRedis(ctx context.Context, redisURL, prefix string, logger *slog.Logger) (*Redis, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("connected to redis", "addr", opt.Addr, "prefix", prefix)
	return &Redis{rdb: rdb, prefix: prefix, logger: logger, now: time.Now}, nil
}

// AllChannel is the broadcast channel name.
func (r *Redis) AllChannel() string {
	return r.prefix + ":chat:all"
}

// PlayerChannel is the private channel for id.
func (r *Redis) PlayerChannel(id uuid.UUID) string {
	return r.prefix + ":chat:player:" + id.String()
}

// HistoryKey is the capped list of recent messages.
func (r *Redis) HistoryKey() string {
	return r.prefix + ":chat:history"
}

// Broadcast publishes msg on the broadcast channel.
func (r *Redis) Broadcast(ctx context.Context, msg render.Message) error {
	return r.publish(ctx, r.AllChannel(), mqtt.TargetAll, msg)
}

// Send publishes msg on the player's channel.
func (r *Redis) Send(ctx context.Context, id uuid.UUID, msg render.Message) error {
	return r.publish(ctx, r.PlayerChannel(id), id.String(), msg)
}

func (r *Redis) publish(ctx context.Context, channel, target string, msg render.Message) error {
	data, err := mqtt.FormatChat(r.now(), target, msg)
	if err != nil {
		return fmt.Errorf("format chat: %w", err)
	}
	_, err = r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Publish(ctx, channel, data)
		p.LPush(ctx, r.HistoryKey(), data)
		p.LTrim(ctx, r.HistoryKey(), 0, HistorySize-1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis publish %s: %w", channel, err)
	}
	r.logger.Debug("chat published", "channel", channel)
	return nil
}

// History returns up to n recent messages, newest first.
func (r *Redis) History(ctx context.Context, n int64) ([]string, error) {
	return r.rdb.LRange(ctx, r.HistoryKey(), 0, n-1).Result()
}

// Close closes the Redis connection.
func (r *Redis) Close() error {
	return r.rdb.Close()
}
