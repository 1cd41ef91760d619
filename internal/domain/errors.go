package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedPayload is returned when a telemetry message is not valid
	// JSON, lacks required fields, or carries non-numeric coordinates.
	ErrMalformedPayload = errors.New("malformed payload")

	// ErrNoPredictions is returned when a dominant prediction is requested
	// from an event with an empty prediction set.
	ErrNoPredictions = errors.New("no predictions")
)

// UpstreamQueryError reports a non-success response from the context broker
// near query.
type UpstreamQueryError struct {
	Status int
	Body   string
}

func (e *UpstreamQueryError) Error() string {
	return fmt.Sprintf("context broker query failed: status %d: %s", e.Status, e.Body)
}

// CommitRejectedError reports a non-success response to a segment PATCH.
// It is recorded, never used to block acknowledgment.
type CommitRejectedError struct {
	Status int
	Body   string
}

func (e *CommitRejectedError) Error() string {
	return fmt.Sprintf("context broker rejected patch: status %d: %s", e.Status, e.Body)
}
