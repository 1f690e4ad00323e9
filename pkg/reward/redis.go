package reward

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/canopy-network/repledger/pkg/ledger"
	"github.com/canopy-network/repledger/pkg/utils"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultStreamMaxLen caps the points stream.
const DefaultStreamMaxLen = 10000

// Channel and stream names.
const (
	PointsChannel  = "repledger:points"
	PointsStream   = "repledger:points.stream"
	ChannelPattern = "repledger:*"
)

// RedisNotifier hands points-changed events to the reward side through Redis: a
// Pub/Sub message for live listeners and a capped stream entry for the reward consumer.
type RedisNotifier struct {
	client       *redis.Client
	logger       *zap.Logger
	streamMaxLen int64
}

// NewRedisNotifier connects using environment variables:
//   - REDIS_HOST (default "localhost"), REDIS_PORT (default "6379")
//   - REDIS_PASSWORD, REDIS_DB (default 0)
//   - REDIS_STREAM_MAXLEN (default 10000, 0 = unlimited)
func NewRedisNotifier(ctx context.Context, logger *zap.Logger) (*RedisNotifier, error) {
	host := utils.Env("REDIS_HOST", "localhost")
	port := utils.Env("REDIS_PORT", "6379")
	db := utils.EnvInt("REDIS_DB", 0)
	streamMaxLen := utils.EnvInt64("REDIS_STREAM_MAXLEN", DefaultStreamMaxLen)
	addr := fmt.Sprintf("%s:%s", host, port)

	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: utils.Env("REDIS_PASSWORD", ""),
		DB:       db,

		PoolSize:     10,
		MinIdleConns: 2,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}

	logger.Info("Connected to Redis",
		zap.String("addr", addr),
		zap.Int("db", db),
		zap.Int64("streamMaxLen", streamMaxLen))

	return &RedisNotifier{client: rdb, logger: logger, streamMaxLen: streamMaxLen}, nil
}

// PointsChanged publishes the event. The publish is best-effort; a failed stream
// append is returned so the notify job shows up as failed.
func (n *RedisNotifier) PointsChanged(ctx context.Context, ev ledger.PointsChanged) error {
	e := NewEvent(ev)
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode points event: %w", err)
	}
	if err := n.client.Publish(ctx, PointsChannel, data).Err(); err != nil {
		n.logger.Warn("Failed to publish Redis message",
			zap.String("channel", PointsChannel),
			zap.Error(err))
	}

	args := &redis.XAddArgs{
		Stream: PointsStream,
		Values: map[string]interface{}{
			"id":      e.ID,
			"account": ev.Account,
			"day":     ev.Day,
			"data":    data,
		},
	}
	if n.streamMaxLen > 0 {
		args.MaxLen = n.streamMaxLen
		args.Approx = true
	}
	if err := n.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("append to %s: %w", PointsStream, err)
	}
	return nil
}

// Relay forwards every event published on the points channels, by any instance, to
// the hub until ctx is done.
func (n *RedisNotifier) Relay(ctx context.Context, hub *Hub) error {
	sub := n.client.PSubscribe(ctx, ChannelPattern)
	defer func() { _ = sub.Close() }()
	n.logger.Debug("Subscribing to Redis patterns", zap.String("pattern", ChannelPattern))

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var e Event
			if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
				n.logger.Warn("Dropping malformed points event", zap.String("channel", msg.Channel), zap.Error(err))
				continue
			}
			hub.Broadcast(e)
		}
	}
}

func (n *RedisNotifier) Health(ctx context.Context) error {
	return n.client.Ping(ctx).Err()
}

func (n *RedisNotifier) Close() error {
	return n.client.Close()
}
