package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Notifier is the change-notifier facade: local fan-out always, plus an
// optional Redis pub/sub bridge that relays publishes to other instances.
// Local delivery never depends on Redis being up.
type Notifier struct {
	local      *Broadcaster
	client     *redis.Client
	channel    string
	instanceID string
	logger     *zap.Logger
}

// New creates a single-instance notifier without a Redis bridge.
func New(logger *zap.Logger) *Notifier {
	return &Notifier{
		local:      NewBroadcaster(),
		instanceID: uuid.NewString(),
		logger:     logger,
	}
}

// NewWithRedis creates a notifier bridged over the given Redis channel.
func NewWithRedis(redisURL, channel string, logger *zap.Logger) (*Notifier, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &Notifier{
		local:      NewBroadcaster(),
		client:     client,
		channel:    channel,
		instanceID: uuid.NewString(),
		logger:     logger,
	}, nil
}

// Subscribe registers a local subscriber; see Broadcaster.Subscribe.
func (n *Notifier) Subscribe() (<-chan struct{}, func()) {
	return n.local.Subscribe()
}

// Publish wakes local subscribers immediately and relays to other instances
// in the background. It deliberately takes no context: a mutation that
// committed must be announced even when the caller's deadline has passed.
func (n *Notifier) Publish() {
	n.local.Publish()
	if n.client == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := n.client.Publish(ctx, n.channel, n.instanceID).Err(); err != nil {
			n.logger.Warn("notify: redis publish failed", zap.Error(err))
		}
	}()
}

// Run consumes the Redis channel and re-broadcasts signals that originated on
// other instances. Blocks until ctx is cancelled. No-op without a bridge.
func (n *Notifier) Run(ctx context.Context) {
	if n.client == nil {
		<-ctx.Done()
		return
	}
	pubsub := n.client.Subscribe(ctx, n.channel)
	defer pubsub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-pubsub.Channel():
			if !ok {
				return
			}
			if msg.Payload == n.instanceID {
				continue
			}
			n.local.Publish()
		}
	}
}

// Close releases the Redis client, if any.
func (n *Notifier) Close() error {
	if n.client == nil {
		return nil
	}
	return n.client.Close()
}
