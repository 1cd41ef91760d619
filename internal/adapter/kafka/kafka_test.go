package kafka

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/couchcryptid/road-surface-ingress/internal/config"
	"github.com/couchcryptid/road-surface-ingress/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func headerMap(headers []kafkago.Header) map[string]string {
	out := make(map[string]string, len(headers))
	for _, h := range headers {
		out[h.Key] = string(h.Value)
	}
	return out
}

func TestMapMessageToRawMessage(t *testing.T) {
	now := time.Now()
	msg := kafkago.Message{
		Key:       []byte("sensor-1"),
		Value:     []byte(`{"created":"2020-05-27T15:38:19Z"}`),
		Topic:     "road-surface-telemetry",
		Partition: 2,
		Offset:    42,
		Time:      now,
		Headers: []kafkago.Header{
			{Key: "source", Value: []byte("edge")},
		},
	}

	raw := mapMessageToRawMessage(msg)

	assert.Equal(t, []byte("sensor-1"), raw.Key)
	assert.JSONEq(t, `{"created":"2020-05-27T15:38:19Z"}`, string(raw.Value))
	assert.Equal(t, "road-surface-telemetry", raw.Topic)
	assert.Equal(t, 2, raw.Partition)
	assert.Equal(t, int64(42), raw.Offset)
	assert.Equal(t, now, raw.Timestamp)
	assert.Equal(t, "edge", raw.Headers["source"])
	assert.Nil(t, raw.Commit)
}

func TestDeadLetterMessage(t *testing.T) {
	raw := domain.RawMessage{
		Key:       []byte("sensor-1"),
		Value:     []byte("not-json{{{"),
		Topic:     "road-surface-telemetry",
		Partition: 3,
		Offset:    1234,
	}
	failure := domain.DeliveryFailure{
		Reason:        "malformed payload: invalid character",
		State:         "decode",
		Attempts:      1,
		CorrelationID: "7d1f3f5e-0000-4000-8000-000000000000",
	}

	msg := deadLetterMessage(raw, failure)

	assert.Equal(t, raw.Key, msg.Key)
	assert.Equal(t, raw.Value, msg.Value)

	headers := headerMap(msg.Headers)
	assert.Equal(t, failure.Reason, headers[HeaderFailureReason])
	assert.Equal(t, "decode", headers[HeaderFailureState])
	assert.Equal(t, "1", headers[HeaderDeliveryAttempt])
	assert.Equal(t, "road-surface-telemetry", headers[HeaderSourceTopic])
	assert.Equal(t, "3", headers[HeaderSourcePartition])
	assert.Equal(t, "1234", headers[HeaderSourceOffset])
	assert.Equal(t, failure.CorrelationID, headers[HeaderCorrelationID])
}

func TestMeasureMessage(t *testing.T) {
	m := domain.RoadMeasureValue{
		Origin:         domain.MeasurementOrigin{Device: "sensor-1", Latitude: 62.410672, Longitude: 17.270033},
		Timestamp:      "2020-05-27T15:38:19.208757Z",
		SurfaceType:    "SNOW",
		Probability:    0.796,
		RefRoadSegment: "urn:ngsi-ld:RoadSegment:16172:578724",
	}

	msg, err := measureMessage(m)
	require.NoError(t, err)

	assert.Equal(t, []byte("sensor-1"), msg.Key)
	assert.Equal(t, "SNOW", headerMap(msg.Headers)["surface_type"])

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, "SNOW", decoded["surfaceType"])
	assert.Equal(t, "urn:ngsi-ld:RoadSegment:16172:578724", decoded["refRoadSegment"])
	origin := decoded["origin"].(map[string]any)
	assert.Equal(t, "sensor-1", origin["device"])
}

func TestPublisher_OfflineIsNoop(t *testing.T) {
	var logs bytes.Buffer
	p := NewPublisher(&config.Config{PublishTopic: domain.RoadMeasureValueTopic}, slog.New(slog.NewTextHandler(&logs, nil)))

	assert.False(t, p.Enabled())
	require.NoError(t, p.Publish(context.Background(), domain.RoadMeasureValue{SurfaceType: "ICE"}))
	require.NoError(t, p.Close())
	assert.Empty(t, logs.String(), "offline mode is reported by the caller")
}

func TestPublisher_EnabledWithBrokers(t *testing.T) {
	p := NewPublisher(&config.Config{
		PublishBrokers: []string{"localhost:9092"},
		PublishTopic:   domain.RoadMeasureValueTopic,
	}, discardLogger())
	t.Cleanup(func() { _ = p.Close() })

	assert.True(t, p.Enabled())
	assert.Equal(t, domain.RoadMeasureValueTopic, p.writer.Topic)
	assert.True(t, p.writer.Async)
}
