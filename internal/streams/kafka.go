package streams

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaBus layers durable at-least-once delivery over the in-process bus.
// Every published event is written to the namespace's topic keyed by tenant
// (partition-per-tenant ordering) and fanned out to local observers.
//
// Kafka write failures are logged and do not propagate: a publish never
// rolls back committed aggregate state.
type KafkaBus struct {
	*MemoryBus

	brokers     []string
	topicPrefix string
	wmu         sync.Mutex
	writers     map[string]*kafka.Writer
	logger      *log.Logger
}

func NewKafkaBus(brokers []string, topicPrefix string) *KafkaBus {
	return &KafkaBus{
		MemoryBus:   NewMemoryBus(),
		brokers:     brokers,
		topicPrefix: topicPrefix,
		writers:     make(map[string]*kafka.Writer),
		logger:      log.New(log.Writer(), "[KAFKA] ", log.LstdFlags),
	}
}

func (b *KafkaBus) topicFor(namespace string) string {
	return b.topicPrefix + "." + namespace
}

func (b *KafkaBus) writerFor(namespace string) *kafka.Writer {
	b.wmu.Lock()
	defer b.wmu.Unlock()
	if w, ok := b.writers[namespace]; ok {
		return w
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(b.brokers...),
		Topic:        b.topicFor(namespace),
		Balancer:     &kafka.Hash{}, // same tenant -> same partition, keeps per-tenant order
		Compression:  kafka.Snappy,
		BatchTimeout: 10 * time.Millisecond,
	}
	b.writers[namespace] = w
	return w
}

func (b *KafkaBus) Publish(ctx context.Context, ev Event) error {
	// Local fan-out first; it assigns the event ID when missing
	if err := b.MemoryBus.Publish(ctx, ev); err != nil {
		return err
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		b.logger.Printf("marshal event %s: %v", ev.ID, err)
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(ev.Tenant),
		Value: payload,
		Time:  ev.Time,
	}
	if err := b.writerFor(ev.Namespace).WriteMessages(ctx, msg); err != nil {
		b.logger.Printf("kafka write failed event=%s topic=%s: %v", ev.ID, b.topicFor(ev.Namespace), err)
	}
	return nil
}

// EnsureTopics creates the namespace topics if missing (idempotent).
func (b *KafkaBus) EnsureTopics(namespaces ...string) error {
	conn, err := kafka.Dial("tcp", b.brokers[0])
	if err != nil {
		return fmt.Errorf("kafka dial: %w", err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("kafka controller: %w", err)
	}
	controllerConn, err := kafka.Dial("tcp", fmt.Sprintf("%s:%d", controller.Host, controller.Port))
	if err != nil {
		return fmt.Errorf("kafka controller dial: %w", err)
	}
	defer controllerConn.Close()

	configs := make([]kafka.TopicConfig, 0, len(namespaces))
	for _, ns := range namespaces {
		configs = append(configs, kafka.TopicConfig{
			Topic:             b.topicFor(ns),
			NumPartitions:     3,
			ReplicationFactor: 1,
		})
	}
	if err := controllerConn.CreateTopics(configs...); err != nil && err != kafka.TopicAlreadyExists {
		return fmt.Errorf("create topics: %w", err)
	}
	return nil
}

// Pump consumes a namespace topic and replays events onto the local bus.
// Run one pump per namespace on nodes that host subscribing actors; this is
// how observers on other processes see events published here.
func (b *KafkaBus) Pump(ctx context.Context, namespace, groupID string) error {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  b.brokers,
		GroupID:  groupID,
		Topic:    b.topicFor(namespace),
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  100 * time.Millisecond,
	})
	defer reader.Close()

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("kafka read: %w", err)
		}

		var ev Event
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			b.logger.Printf("skipping undecodable message on %s: %v", b.topicFor(namespace), err)
			continue
		}
		if err := b.MemoryBus.Publish(ctx, ev); err != nil {
			b.logger.Printf("local republish failed event=%s: %v", ev.ID, err)
		}
	}
}

func (b *KafkaBus) Close() error {
	b.wmu.Lock()
	defer b.wmu.Unlock()
	var firstErr error
	for _, w := range b.writers {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
