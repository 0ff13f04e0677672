package streams

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"time"

	"cloud.google.com/go/pubsub"
)

// PubSubBus layers Google Cloud Pub/Sub behind the in-process bus: one
// topic for all namespaces, CloudEvents-style attributes for server-side
// filtering, ordering key = tenant for per-tenant ordering.
type PubSubBus struct {
	*MemoryBus

	client *pubsub.Client
	topic  *pubsub.Topic
	logger *log.Logger
}

// NewPubSubBus connects and creates the topic when missing.
func NewPubSubBus(projectID, topicID string) (*PubSubBus, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
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
		slog.Info("Created Pub/Sub topic", "topic", topicID)
	}

	topic.EnableMessageOrdering = true

	return &PubSubBus{
		MemoryBus: NewMemoryBus(),
		client:    client,
		topic:     topic,
		logger:    log.New(log.Writer(), "[PUBSUB] ", log.LstdFlags),
	}, nil
}

func (b *PubSubBus) Publish(ctx context.Context, ev Event) error {
	if err := b.MemoryBus.Publish(ctx, ev); err != nil {
		return err
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		b.logger.Printf("marshal event %s: %v", ev.ID, err)
		return nil
	}

	msg := &pubsub.Message{
		Data: payload,
		Attributes: map[string]string{
			"namespace": ev.Namespace,
			"type":      ev.Type,
			"tenant":    ev.Tenant,
			"source":    ev.Source,
			"time":      ev.Time.Format(time.RFC3339Nano),
		},
		OrderingKey: ev.Tenant,
	}

	result := b.topic.Publish(context.Background(), msg)
	go func() {
		if _, err := result.Get(context.Background()); err != nil {
			b.logger.Printf("pubsub publish failed event=%s: %v", ev.ID, err)
		}
	}()
	return nil
}

func (b *PubSubBus) Close() error {
	b.topic.Stop()
	if err := b.client.Close(); err != nil {
		return fmt.Errorf("pubsub client close: %w", err)
	}
	return nil
}

var _ Bus = (*PubSubBus)(nil)
var _ Bus = (*KafkaBus)(nil)
var _ Bus = (*MemoryBus)(nil)
