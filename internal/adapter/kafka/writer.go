package kafka

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/couchcryptid/road-surface-ingress/internal/config"
	"github.com/couchcryptid/road-surface-ingress/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

// Dead-letter header keys.
const (
	HeaderFailureReason   = "x-failure-reason"
	HeaderFailureState    = "x-failure-state"
	HeaderDeliveryAttempt = "x-delivery-attempts"
	HeaderSourceTopic     = "x-source-topic"
	HeaderSourcePartition = "x-source-partition"
	HeaderSourceOffset    = "x-source-offset"
	HeaderCorrelationID   = "x-correlation-id"
)

// DeadLetterWriter produces failed messages to the dead-letter topic.
// It implements pipeline.DeadLetterSink.
type DeadLetterWriter struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewDeadLetterWriter creates a synchronous Kafka producer for the
// configured dead-letter topic.
func NewDeadLetterWriter(cfg *config.Config, logger *slog.Logger) *DeadLetterWriter {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.KafkaBrokers...),
		Topic:                  cfg.KafkaDeadLetterTopic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return &DeadLetterWriter{writer: w, logger: logger}
}

// DeadLetter writes the original key and value with failure headers. It
// returns only after the broker acknowledged the write.
func (w *DeadLetterWriter) DeadLetter(ctx context.Context, raw domain.RawMessage, failure domain.DeliveryFailure) error {
	if err := w.writer.WriteMessages(ctx, deadLetterMessage(raw, failure)); err != nil {
		return err
	}
	w.logger.Info("message dead-lettered",
		"correlation_id", failure.CorrelationID,
		"topic", raw.Topic,
		"partition", raw.Partition,
		"offset", raw.Offset,
		"reason", failure.Reason,
	)
	return nil
}

func (w *DeadLetterWriter) Close() error {
	return w.writer.Close()
}

func deadLetterMessage(raw domain.RawMessage, failure domain.DeliveryFailure) kafkago.Message {
	return kafkago.Message{
		Key:   raw.Key,
		Value: raw.Value,
		Headers: []kafkago.Header{
			{Key: HeaderFailureReason, Value: []byte(failure.Reason)},
			{Key: HeaderFailureState, Value: []byte(failure.State)},
			{Key: HeaderDeliveryAttempt, Value: []byte(strconv.Itoa(failure.Attempts))},
			{Key: HeaderSourceTopic, Value: []byte(raw.Topic)},
			{Key: HeaderSourcePartition, Value: []byte(strconv.Itoa(raw.Partition))},
			{Key: HeaderSourceOffset, Value: []byte(strconv.FormatInt(raw.Offset, 10))},
			{Key: HeaderCorrelationID, Value: []byte(failure.CorrelationID)},
		},
	}
}
