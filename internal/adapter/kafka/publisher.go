package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/road-surface-ingress/internal/config"
	"github.com/couchcryptid/road-surface-ingress/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

// Publisher forwards normalized measurements downstream without waiting for
// delivery. A Publisher built without brokers drops every measurement.
// It implements pipeline.MeasurementPublisher.
type Publisher struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewPublisher creates an asynchronous producer for the configured publish
// topic. When PUBLISH_BROKERS is empty the publisher runs in offline mode.
func NewPublisher(cfg *config.Config, logger *slog.Logger) *Publisher {
	p := &Publisher{logger: logger}
	if !cfg.PublishEnabled() {
		return p
	}

	p.writer = &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.PublishBrokers...),
		Topic:                  cfg.PublishTopic,
		Balancer:               &kafkago.Hash{},
		Async:                  true,
		AllowAutoTopicCreation: true,
		Completion: func(messages []kafkago.Message, err error) {
			if err != nil {
				logger.Warn("publish measurement failed", "error", err, "count", len(messages))
			}
		},
	}
	return p
}

// Enabled reports whether measurements leave the process.
func (p *Publisher) Enabled() bool {
	return p.writer != nil
}

// Publish enqueues the measurement keyed by device. Delivery errors are only
// logged.
func (p *Publisher) Publish(ctx context.Context, m domain.RoadMeasureValue) error {
	if p.writer == nil {
		return nil
	}
	msg, err := measureMessage(m)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, msg)
}

func (p *Publisher) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

func measureMessage(m domain.RoadMeasureValue) (kafkago.Message, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize road measure value: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(m.Origin.Device),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "content-type", Value: []byte("application/json")},
			{Key: "surface_type", Value: []byte(m.SurfaceType)},
		},
	}, nil
}
