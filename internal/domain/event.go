package domain

import (
	"context"
	"time"
)

// RawMessage represents an undecoded message from the source topic.
type RawMessage struct {
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time

	// Commit acknowledges the message. Nil when the source has no notion of
	// acknowledgment.
	Commit func(ctx context.Context) error
}

// DeliveryFailure describes why a message is routed to the dead-letter topic.
type DeliveryFailure struct {
	Reason        string
	State         string
	Attempts      int
	CorrelationID string
}
