// Package mirror fans appended ledger events out to Kafka. The mirror is
// advisory: the store remains the source of truth and publish failures never
// abort or block an append.
package mirror

import (
	"context"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"

	"iwitness/internal/ledger"
	"iwitness/pkg/canonical"
)

// Kafka publishes ledger events to a topic keyed by subject id, so per-subject
// ordering survives partitioning.
type Kafka struct {
	client *kgo.Client
	logger *slog.Logger
}

// NewKafka connects a producer. Returns nil if no brokers are configured.
func NewKafka(brokers []string, topic string, logger *slog.Logger) (*Kafka, error) {
	if len(brokers) == 0 {
		return nil, nil
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
	)
	if err != nil {
		return nil, err
	}
	return &Kafka{client: client, logger: logger}, nil
}

// Publish produces the event asynchronously. Delivery failure is logged and
// dropped; the append path has already committed.
func (k *Kafka) Publish(ctx context.Context, event ledger.Event) {
	record := &kgo.Record{
		Key:   []byte(event.SubjectID),
		Value: encode(event),
	}
	k.client.Produce(ctx, record, func(_ *kgo.Record, err error) {
		if err != nil {
			k.logger.Warn("ledger mirror publish failed",
				"event_id", event.EventID.String(),
				"subject_id", event.SubjectID,
				"error", err.Error(),
			)
		}
	})
}

// Close flushes outstanding produces and releases the client.
func (k *Kafka) Close(ctx context.Context) error {
	err := k.client.Flush(ctx)
	k.client.Close()
	return err
}

func encode(event ledger.Event) []byte {
	fields := map[string]canonical.Value{
		"event_id":      canonical.String(event.EventID.String()),
		"subject_id":    canonical.String(event.SubjectID),
		"event_type":    canonical.String(string(event.Type)),
		"timestamp_utc": canonical.Time(event.Timestamp),
		"payload":       event.Payload,
		"event_hash":    canonical.String(event.EventHash),
	}
	if event.ActorID != "" {
		fields["actor_id"] = canonical.String(event.ActorID)
	}
	if event.PrevHash != "" {
		fields["prev_hash"] = canonical.String(event.PrevHash)
	}
	return canonical.EncodeCanonical(canonical.Object(fields))
}
