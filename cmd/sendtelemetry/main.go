// Command sendtelemetry publishes sample road-surface telemetry to Kafka so the
// ingress service can be exercised locally. Each payload is decoded with the
// domain package first, so only messages the service would accept are sent
// unless -allow-invalid is set.
//
// Usage:
//
//	go run ./cmd/sendtelemetry \
//	  -brokers localhost:9092 \
//	  -topic road-surface-telemetry \
//	  -file data/mock/telemetry_message.json \
//	  -count 10 -interval 500ms
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/couchcryptid/road-surface-ingress/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	brokers := flag.String("brokers", "localhost:9092", "comma-separated Kafka brokers")
	topic := flag.String("topic", "road-surface-telemetry", "telemetry topic")
	file := flag.String("file", "data/mock/telemetry_message.json", "telemetry JSON document to send")
	device := flag.String("device", "sample-device", "message key identifying the device")
	count := flag.Int("count", 1, "number of messages to send")
	interval := flag.Duration("interval", 0, "delay between messages")
	allowInvalid := flag.Bool("allow-invalid", false, "send the payload even if it does not decode")
	flag.Parse()

	if *count < 1 {
		return fmt.Errorf("-count must be at least 1")
	}

	payload, err := os.ReadFile(*file)
	if err != nil {
		return fmt.Errorf("read payload: %w", err)
	}

	event, err := domain.DecodeTelemetry(payload)
	switch {
	case err != nil && !*allowInvalid:
		return fmt.Errorf("payload rejected by decoder: %w", err)
	case err != nil:
		log.Printf("sending invalid payload: %v", err)
	default:
		describe(event)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(strings.Split(*brokers, ",")...),
		Topic:                  *topic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
	}
	defer w.Close()

	for i := range *count {
		msg := kafkago.Message{
			Key:   []byte(*device),
			Value: payload,
			Headers: []kafkago.Header{
				{Key: "content-type", Value: []byte("application/json")},
			},
		}
		if err := w.WriteMessages(ctx, msg); err != nil {
			return fmt.Errorf("write message %d: %w", i+1, err)
		}
		log.Printf("sent %d/%d to %s", i+1, *count, *topic)

		if *interval > 0 && i+1 < *count {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(*interval):
			}
		}
	}
	return nil
}

func describe(event domain.TelemetryEvent) {
	log.Printf("position: lat=%f lon=%f", event.Position.Latitude, event.Position.Longitude)
	if dominant, err := event.DominantPrediction(); err == nil {
		log.Printf("dominant prediction: %s (%.3f)", dominant.Tag, dominant.Probability)
	}
}
