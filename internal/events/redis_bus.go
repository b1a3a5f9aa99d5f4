package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ocx/agentrep/internal/circuitbreaker"
)

const redisPublishTimeout = 2 * time.Second

// RedisBus distributes events between ledger processes over a Redis Pub/Sub
// channel. Every process, the publisher included, receives events from the
// channel and fans them out to its in-memory subscribers. When Redis is
// unreachable events are delivered locally only.
type RedisBus struct {
	*Bus

	client  redis.UniversalClient
	channel string
	breaker *circuitbreaker.CircuitBreaker
	logger  *slog.Logger
	cancel  context.CancelFunc
	done    chan struct{}
}

func newRedisBus(client redis.UniversalClient, channel string, bufferSize int, logger *slog.Logger) *RedisBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisBus{
		Bus:     NewBus(bufferSize, logger),
		client:  client,
		channel: channel,
		breaker: circuitbreaker.New(circuitbreaker.DefaultConfig("redis:"+channel), logger),
		logger:  logger,
	}
}

// NewRedisBus subscribes to channel and starts relaying its events to local
// subscribers. It fails if the subscription cannot be confirmed.
func NewRedisBus(ctx context.Context, client redis.UniversalClient, channel string, bufferSize int, logger *slog.Logger) (*RedisBus, error) {
	rb := newRedisBus(client, channel, bufferSize, logger)

	ps := client.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	relayCtx, cancel := context.WithCancel(context.Background())
	rb.cancel = cancel
	rb.done = make(chan struct{})
	go rb.relay(relayCtx, ps)

	rb.logger.Info("[RedisBus] Subscribed", "channel", channel)
	return rb, nil
}

func (rb *RedisBus) relay(ctx context.Context, ps *redis.PubSub) {
	defer close(rb.done)
	defer ps.Close()

	msgs := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			var event CloudEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				rb.logger.Warn("[RedisBus] Failed to unmarshal event", "error", err)
				continue
			}
			rb.Bus.Publish(&event)
		}
	}
}

// Emit publishes to the channel. Local subscribers receive the event back
// from the relay, or directly when the publish fails.
func (rb *RedisBus) Emit(eventType, subject string, data map[string]interface{}) {
	event := NewCloudEvent(eventType, subject, data)
	payload, err := event.JSON()
	if err != nil {
		rb.logger.Error("[RedisBus] Failed to marshal event", "id", event.ID, "error", err)
		rb.Bus.Publish(event)
		return
	}

	err = rb.breaker.Do(context.Background(), func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, redisPublishTimeout)
		defer cancel()
		return rb.client.Publish(ctx, rb.channel, payload).Err()
	})
	if err != nil || rb.done == nil {
		if err != nil {
			rb.logger.Warn("[RedisBus] Publish failed, delivering locally", "type", event.Type, "error", err)
		}
		rb.Bus.Publish(event)
	}
}

// Close stops the relay. The client is owned by the caller.
func (rb *RedisBus) Close() error {
	if rb.cancel != nil {
		rb.cancel()
		<-rb.done
	}
	rb.logger.Info("[RedisBus] Closed", "channel", rb.channel)
	return nil
}

func (rb *RedisBus) HealthCheck(ctx context.Context) error {
	if err := rb.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check: %w", err)
	}
	return nil
}

var _ Emitter = (*RedisBus)(nil)
