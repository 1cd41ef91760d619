package domain

import "time"

// RoadMeasureValueTopic is the routing key of normalized measurements.
const RoadMeasureValueTopic = "telemetry.roadmeasurevalue"

// DefaultDevice names the origin when the source message carries no key.
const DefaultDevice = "device"

// MeasurementOrigin identifies where a measurement was taken.
type MeasurementOrigin struct {
	Device    string  `json:"device"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// RoadMeasureValue is the normalized observation published downstream.
type RoadMeasureValue struct {
	Origin         MeasurementOrigin `json:"origin"`
	Timestamp      string            `json:"timestamp"`
	SurfaceType    string            `json:"surfaceType"`
	Probability    float64           `json:"probability"`
	Status         string            `json:"status,omitempty"`
	Accuracy       string            `json:"accuracy,omitempty"`
	Angle          string            `json:"angle,omitempty"`
	RefRoadSegment string            `json:"refRoadSegment,omitempty"`
	ProcessedAt    time.Time         `json:"processedAt"`
}

// NewRoadMeasureValue builds the downstream measurement for an event. The
// segment reference is set only when the position was resolved.
func NewRoadMeasureValue(device string, event TelemetryEvent, dominant Prediction, result ResolutionResult) RoadMeasureValue {
	if device == "" {
		device = DefaultDevice
	}
	m := RoadMeasureValue{
		Origin: MeasurementOrigin{
			Device:    device,
			Latitude:  event.Position.Latitude,
			Longitude: event.Position.Longitude,
		},
		Timestamp:   event.CreatedAt.Format(time.RFC3339Nano),
		SurfaceType: dominant.Tag,
		Probability: dominant.Probability,
		Status:      event.Position.Status,
		Accuracy:    event.Position.Accuracy,
		Angle:       event.Position.Angle,
		ProcessedAt: clock.Now().UTC(),
	}
	if result.Resolved {
		m.RefRoadSegment = result.SegmentID
	}
	return m
}
