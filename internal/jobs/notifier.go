package jobs

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultChannel is the pub/sub channel used for wake-ups.
const DefaultChannel = "nocozen:jobs"

// Notifier carries "a job was enqueued" signals between processes sharing
// one job database. Notifications are hints; workers still poll.
type Notifier interface {
	Notify(ctx context.Context, name string) error

	// Listen calls fn for each notification until ctx is done.
	Listen(ctx context.Context, fn func(name string)) error

	Close() error
}

// RedisNotifier implements Notifier with Redis pub/sub.
type RedisNotifier struct {
	client  *redis.Client
	channel string
	log     *zap.Logger
	owned   bool
}

// NewRedisNotifier wraps an existing client. The caller keeps ownership of it.
func NewRedisNotifier(client *redis.Client, channel string, log *zap.Logger) *RedisNotifier {
	if channel == "" {
		channel = DefaultChannel
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisNotifier{client: client, channel: channel, log: log.Named("notifier")}
}

// DialRedisNotifier connects to the Redis server at url (redis://...).
func DialRedisNotifier(ctx context.Context, url, channel string, log *zap.Logger) (*RedisNotifier, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	n := NewRedisNotifier(client, channel, log)
	n.owned = true
	return n, nil
}

func (n *RedisNotifier) Notify(ctx context.Context, name string) error {
	return n.client.Publish(ctx, n.channel, name).Err()
}

func (n *RedisNotifier) Listen(ctx context.Context, fn func(name string)) error {
	pubsub := n.client.Subscribe(ctx, n.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", n.channel, err)
	}
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			n.log.Debug("wake-up received", zap.String("job", msg.Payload))
			fn(msg.Payload)
		}
	}
}

// Close releases the client when the notifier created it.
func (n *RedisNotifier) Close() error {
	if !n.owned {
		return nil
	}
	return n.client.Close()
}
