package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/road-surface-ingress/internal/geometry"
)

// TelemetryEvent is a decoded road-surface observation.
type TelemetryEvent struct {
	CreatedAt   time.Time
	Position    Position
	Predictions []Prediction
}

// Position is the GPS fix attached to an observation. Status, Accuracy and
// Angle are kept as reported; only the coordinates are interpreted.
type Position struct {
	Status    string
	Accuracy  string
	Latitude  float64
	Longitude float64
	Angle     string
}

// Coordinate returns the position in (lon, lat) order.
func (p Position) Coordinate() geometry.Coordinate {
	return geometry.Coordinate{Lon: p.Longitude, Lat: p.Latitude}
}

// Prediction is one surface classification with its probability in [0, 1].
type Prediction struct {
	Tag         string
	Probability float64
}

// DominantPrediction returns the prediction with the highest probability.
// Ties keep the first prediction seen.
func (e TelemetryEvent) DominantPrediction() (Prediction, error) {
	if len(e.Predictions) == 0 {
		return Prediction{}, ErrNoPredictions
	}
	best := e.Predictions[0]
	for _, p := range e.Predictions[1:] {
		if p.Probability > best.Probability {
			best = p
		}
	}
	return best, nil
}

// Wire format of the telemetry message.

type telemetryPayload struct {
	Created     string              `json:"created"`
	CreatedUTC  string              `json:"createdUTC"`
	Predictions []predictionPayload `json:"predictions"`
	Position    *positionPayload    `json:"position"`
}

type predictionPayload struct {
	Probability float64 `json:"probability"`
	TagName     string  `json:"tagName"`
}

type positionPayload struct {
	Status    numericText `json:"status"`
	Accuracy  numericText `json:"accuracy"`
	Latitude  numericText `json:"latitude"`
	Longitude numericText `json:"longitude"`
	Angle     numericText `json:"angle"`
}

// numericText holds a JSON value that may be encoded as a string or a number.
type numericText struct {
	text string
	set  bool
}

func (n *numericText) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		n.text = strings.TrimSpace(s)
		n.set = true
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return fmt.Errorf("expected string or number, got %s", data)
	}
	n.text = num.String()
	n.set = true
	return nil
}

// DecodeTelemetry parses a raw telemetry message. It does not require
// predictions; see [TelemetryEvent.DominantPrediction].
func DecodeTelemetry(raw []byte) (TelemetryEvent, error) {
	var payload telemetryPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return TelemetryEvent{}, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}

	created := payload.Created
	if created == "" {
		created = payload.CreatedUTC
	}
	if created == "" {
		return TelemetryEvent{}, fmt.Errorf("%w: missing created", ErrMalformedPayload)
	}
	createdAt, err := parseCreated(created)
	if err != nil {
		return TelemetryEvent{}, fmt.Errorf("%w: created: %w", ErrMalformedPayload, err)
	}

	if payload.Position == nil {
		return TelemetryEvent{}, fmt.Errorf("%w: missing position", ErrMalformedPayload)
	}
	lat, err := parseCoordinate("latitude", payload.Position.Latitude, 90)
	if err != nil {
		return TelemetryEvent{}, err
	}
	lon, err := parseCoordinate("longitude", payload.Position.Longitude, 180)
	if err != nil {
		return TelemetryEvent{}, err
	}

	predictions := make([]Prediction, 0, len(payload.Predictions))
	for _, p := range payload.Predictions {
		predictions = append(predictions, Prediction{Tag: p.TagName, Probability: p.Probability})
	}

	return TelemetryEvent{
		CreatedAt: createdAt,
		Position: Position{
			Status:    payload.Position.Status.text,
			Accuracy:  payload.Position.Accuracy.text,
			Latitude:  lat,
			Longitude: lon,
			Angle:     payload.Position.Angle.text,
		},
		Predictions: predictions,
	}, nil
}

// localLayouts are accepted for timestamps that carry no offset.
var localLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// parseCreated reads the producer timestamp. Timestamps with an offset keep
// it; timestamps without one are interpreted in the local zone.
func parseCreated(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err == nil {
		return t, nil
	}
	for _, layout := range localLayouts {
		if local, lerr := time.ParseInLocation(layout, s, time.Local); lerr == nil {
			return local, nil
		}
	}
	return time.Time{}, err
}

// parseCoordinate parses a decimal-degree value and checks it lies within
// [-limit, limit].
func parseCoordinate(field string, v numericText, limit float64) (float64, error) {
	if !v.set || v.text == "" {
		return 0, fmt.Errorf("%w: missing %s", ErrMalformedPayload, field)
	}
	f, err := strconv.ParseFloat(v.text, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q is not a number", ErrMalformedPayload, field, v.text)
	}
	if math.IsNaN(f) || f < -limit || f > limit {
		return 0, fmt.Errorf("%w: %s %v out of range", ErrMalformedPayload, field, f)
	}
	return f, nil
}
