package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/lunasilvestre/cheias-pt/internal/domain"
)

// Writer produces artifact notifications to a Kafka topic.
// It implements pipeline.ArtifactPublisher.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the artifact topic.
func NewWriter(brokers []string, topic string, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w, logger: logger}
}

// PublishArtifacts serializes and publishes the artifacts of one variable in a
// single WriteMessages call. Messages are keyed by "variable/date" so reruns
// of a unit land on the same partition.
func (w *Writer) PublishArtifacts(ctx context.Context, artifacts []domain.Artifact) error {
	if len(artifacts) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(artifacts))
	for i := range artifacts {
		msg, err := serializeToMessage(artifacts[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	if err := w.writer.WriteMessages(ctx, msgs...); err != nil {
		return err
	}
	w.logger.Debug("artifacts published", "topic", w.writer.Topic, "count", len(msgs))
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals an Artifact into a Kafka message.
func serializeToMessage(a domain.Artifact) (kafkago.Message, error) {
	data, err := json.Marshal(a)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize artifact: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(a.Key()),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "variable", Value: []byte(a.Variable)},
			{Key: "produced_at", Value: []byte(a.ProducedAt.Format(time.RFC3339))},
		},
	}, nil
}
