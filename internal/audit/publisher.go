package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Producer abstracts the Kafka client so the outbox worker is testable
// without a broker.
type Producer interface {
	Produce(ctx context.Context, record *kgo.Record) error
}

// KafkaProducer wraps franz-go with synchronous, acknowledged produces.
// Audit fan-out favors durability over throughput.
type KafkaProducer struct {
	client *kgo.Client
}

func NewKafkaProducer(brokers []string) (*KafkaProducer, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	)
	if err != nil {
		return nil, fmt.Errorf("audit: kafka client: %w", err)
	}
	return &KafkaProducer{client: client}, nil
}

func (p *KafkaProducer) Produce(ctx context.Context, record *kgo.Record) error {
	return p.client.ProduceSync(ctx, record).FirstErr()
}

func (p *KafkaProducer) Close() {
	p.client.Close()
}

// outboxMessage is the JSON shape published to the audit topic.
type outboxMessage struct {
	ID        string `json:"id"`
	EventType string `json:"eventType"`
	PollID    string `json:"pollId,omitempty"`
	Payload   string `json:"payload"`
	PrevHash  string `json:"prevHash"`
	RowHash   string `json:"rowHash"`
	Timestamp string `json:"timestamp"`
}

// OutboxWorker drains unpublished audit rows to Kafka. The database is the
// source of truth; the worker is at-least-once, and consumers dedupe on the
// row ID.
type OutboxWorker struct {
	store    Store
	producer Producer
	topic    string
	interval time.Duration
	batch    int
	logger   *slog.Logger
}

func NewOutboxWorker(store Store, producer Producer, topic string, interval time.Duration, logger *slog.Logger) *OutboxWorker {
	return &OutboxWorker{
		store:    store,
		producer: producer,
		topic:    topic,
		interval: interval,
		batch:    100,
		logger:   logger,
	}
}

// Run drains the outbox until ctx is cancelled.
func (w *OutboxWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.DrainOnce(ctx); err != nil {
				w.logger.ErrorContext(ctx, "audit outbox drain failed", "error", err)
			}
		}
	}
}

// DrainOnce publishes one batch of unpublished rows.
func (w *OutboxWorker) DrainOnce(ctx context.Context) error {
	events, err := w.store.ListUnpublished(ctx, w.batch)
	if err != nil {
		return fmt.Errorf("list unpublished: %w", err)
	}
	if len(events) == 0 {
		return nil
	}

	published := make([]uuid.UUID, 0, len(events))
	for _, e := range events {
		value, err := json.Marshal(outboxMessage{
			ID:        e.ID.String(),
			EventType: string(e.Type),
			PollID:    e.PollID,
			Payload:   e.Payload,
			PrevHash:  e.PrevHash,
			RowHash:   e.RowHash,
			Timestamp: e.Timestamp.UTC().Format(time.RFC3339Nano),
		})
		if err != nil {
			return fmt.Errorf("marshal outbox message: %w", err)
		}
		record := &kgo.Record{
			Topic: w.topic,
			Key:   []byte(e.PollID),
			Value: value,
		}
		if err := w.producer.Produce(ctx, record); err != nil {
			// Stop the batch here; already-produced rows get marked, the
			// rest retry next tick.
			w.logger.WarnContext(ctx, "audit publish failed, will retry",
				"event_id", e.ID.String(), "error", err)
			break
		}
		published = append(published, e.ID)
	}

	if len(published) == 0 {
		return nil
	}
	return w.store.MarkPublished(ctx, published)
}
