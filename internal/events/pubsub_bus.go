package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/ocx/agentrep/internal/circuitbreaker"
)

// PubSubBus wraps the in-memory Bus and also publishes every event to a
// Cloud Pub/Sub topic for durable delivery to other services. Messages are
// ordered per subject, which for ledger events is the agent address.
type PubSubBus struct {
	*Bus

	client  *pubsub.Client
	topic   *pubsub.Topic
	breaker *circuitbreaker.CircuitBreaker
	logger  *slog.Logger
}

// NewPubSubBus connects to projectID and creates topicID if it does not
// exist.
func NewPubSubBus(ctx context.Context, projectID, topicID string, bufferSize int, logger *slog.Logger) (*PubSubBus, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub.NewClient: %w", err)
	}

	topic := client.Topic(topicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("topic.Exists: %w", err)
	}
	if !exists {
		topic, err = client.CreateTopic(ctx, topicID)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("CreateTopic: %w", err)
		}
		logger.Info("[PubSub] Created topic", "topic", topicID)
	}
	topic.EnableMessageOrdering = true

	logger.Info("[PubSub] Connected", "project", projectID, "topic", topicID)
	return &PubSubBus{
		Bus:     NewBus(bufferSize, logger),
		client:  client,
		topic:   topic,
		breaker: circuitbreaker.New(circuitbreaker.DefaultConfig("pubsub:"+topicID), logger),
		logger:  logger,
	}, nil
}

// Emit publishes to Pub/Sub and then fans out to in-memory subscribers.
func (pb *PubSubBus) Emit(eventType, subject string, data map[string]interface{}) {
	event := NewCloudEvent(eventType, subject, data)
	pb.publish(event)
	pb.Bus.Publish(event)
}

func (pb *PubSubBus) publish(event *CloudEvent) {
	payload, err := event.JSON()
	if err != nil {
		pb.logger.Error("[PubSub] Failed to marshal event", "id", event.ID, "error", err)
		return
	}

	done, err := pb.breaker.Allow()
	if err != nil {
		pb.logger.Warn("[PubSub] Publish skipped", "id", event.ID, "type", event.Type, "error", err)
		return
	}

	result := pb.topic.Publish(context.Background(), &pubsub.Message{
		Data:        payload,
		Attributes:  messageAttributes(event),
		OrderingKey: event.Subject,
	})

	go func() {
		serverID, err := result.Get(context.Background())
		done(err == nil)
		if err != nil {
			pb.logger.Error("[PubSub] Publish failed", "id", event.ID, "error", err)
			// A failed publish pauses the ordering key until resumed.
			pb.topic.ResumePublish(event.Subject)
			return
		}
		pb.logger.Debug("[PubSub] Published", "id", event.ID, "msg_id", serverID, "type", event.Type)
	}()
}

func messageAttributes(event *CloudEvent) map[string]string {
	return map[string]string{
		"ce-specversion": event.SpecVersion,
		"ce-type":        event.Type,
		"ce-source":      event.Source,
		"ce-id":          event.ID,
		"ce-time":        event.Time.Format(time.RFC3339Nano),
		"ce-subject":     event.Subject,
	}
}

// Close flushes pending publishes and closes the client.
func (pb *PubSubBus) Close() error {
	pb.topic.Stop()
	if err := pb.client.Close(); err != nil {
		return fmt.Errorf("pubsub client close: %w", err)
	}
	return nil
}

// HealthCheck verifies the topic is reachable.
func (pb *PubSubBus) HealthCheck(ctx context.Context) error {
	exists, err := pb.topic.Exists(ctx)
	if err != nil {
		return fmt.Errorf("topic health check: %w", err)
	}
	if !exists {
		return fmt.Errorf("topic does not exist")
	}
	return nil
}

var _ Emitter = (*PubSubBus)(nil)
