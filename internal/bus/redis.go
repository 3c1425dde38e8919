// ABOUTME: Redis-backed Bus implementation for multi-process deployments
// ABOUTME: JSON envelopes over a single PUBLISH/SUBSCRIBE channel shared by all workers

package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// Redis is a Bus backed by Redis pub/sub. Every worker process subscribes
// to the same channel; Redis delivers a published envelope to all
// subscriptions, including the one held by the publishing process, which
// gives self-delivery for free.
type Redis struct {
	client  *redis.Client
	channel string
	logger  *slog.Logger
}

// RedisOptions configures the Redis backplane connection.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

// NewRedis creates a Redis bus. Pass nil logger for default.
func NewRedis(opts RedisOptions, logger *slog.Logger) *Redis {
	if logger == nil {
		logger = slog.Default()
	}
	channel := opts.Channel
	if channel == "" {
		channel = "chatrelay:broadcast"
	}
	return &Redis{
		client: redis.NewClient(&redis.Options{
			Addr:     opts.Addr,
			Password: opts.Password,
			DB:       opts.DB,
		}),
		channel: channel,
		logger:  logger.With("component", "bus"),
	}
}

// Ping verifies the backplane is reachable. Called once at startup so a
// misconfigured Redis address fails fast instead of degrading silently.
func (b *Redis) Ping(ctx context.Context) error {
	if err := b.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("pinging redis backplane: %w", err)
	}
	return nil
}

// Publish announces the envelope to every worker subscribed to the channel.
func (b *Redis) Publish(ctx context.Context, env *Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encoding envelope: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("publishing envelope: %w", err)
	}
	return nil
}

// Subscribe consumes envelopes from the channel until ctx is cancelled.
// go-redis resubscribes internally across connection drops; envelopes
// published while the connection is down are simply missed, which the
// reconnect-replay protocol repairs on the client side.
func (b *Redis) Subscribe(ctx context.Context, h Handler) {
	sub := b.client.Subscribe(ctx, b.channel)

	go func() {
		defer sub.Close()
		for {
			msg, err := sub.ReceiveMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				b.logger.Warn("bus receive error", "error", err)
				return
			}

			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				b.logger.Warn("discarding malformed envelope", "error", err)
				continue
			}
			h(&env)
		}
	}()
}

// Close releases the Redis connection.
func (b *Redis) Close() error {
	return b.client.Close()
}

// Ensure Redis implements Bus
var _ Bus = (*Redis)(nil)
