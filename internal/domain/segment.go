package domain

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/couchcryptid/road-surface-ingress/internal/geometry"
)

// RoadSegmentType is the NGSI-LD entity type of road segments.
const RoadSegmentType = "RoadSegment"

// RoadSegment is a stretch of road owned by the context broker.
type RoadSegment struct {
	ID          string
	Type        string
	Geometry    []geometry.Coordinate
	SurfaceType *SurfaceType
}

// SurfaceType is the surface classification stored on a road segment.
type SurfaceType struct {
	Tag         string
	Probability float64
}

// SegmentPatch is the partial update written back for a resolved segment.
type SegmentPatch struct {
	ID          string
	SurfaceType SurfaceType
}

// ResolutionResult is the outcome of matching a position to a road segment.
// When Resolved is false no candidate segment could be measured.
type ResolutionResult struct {
	Resolved       bool
	SegmentID      string
	DistanceMeters float64
	Candidates     int
}

// NGSI-LD wire types.

type segmentEntity struct {
	ID          string               `json:"id"`
	Type        string               `json:"type"`
	Location    *geoProperty         `json:"location,omitempty"`
	SurfaceType *surfaceTypeProperty `json:"surfaceType,omitempty"`
}

type geoProperty struct {
	Type  string `json:"type"`
	Value struct {
		Type        string          `json:"type"`
		Coordinates json.RawMessage `json:"coordinates"`
	} `json:"value"`
}

type surfaceTypeProperty struct {
	Type        string  `json:"type"`
	Value       string  `json:"value"`
	Probability float64 `json:"probability"`
}

type patchDocument struct {
	ID          string              `json:"id"`
	Type        string              `json:"type"`
	SurfaceType surfaceTypeProperty `json:"surfaceType"`
}

// UnmarshalJSON decodes an NGSI-LD RoadSegment entity. A LineString location
// becomes the segment geometry; a Point location yields a single coordinate.
func (s *RoadSegment) UnmarshalJSON(data []byte) error {
	var entity segmentEntity
	if err := json.Unmarshal(data, &entity); err != nil {
		return err
	}
	if entity.ID == "" {
		return errors.New("road segment without id")
	}

	*s = RoadSegment{ID: entity.ID, Type: entity.Type}

	if entity.Location != nil && len(entity.Location.Value.Coordinates) > 0 {
		coords, err := decodeCoordinates(entity.Location.Value.Coordinates)
		if err != nil {
			return fmt.Errorf("road segment %s: %w", entity.ID, err)
		}
		s.Geometry = coords
	}
	if entity.SurfaceType != nil {
		s.SurfaceType = &SurfaceType{Tag: entity.SurfaceType.Value, Probability: entity.SurfaceType.Probability}
	}
	return nil
}

func decodeCoordinates(raw json.RawMessage) ([]geometry.Coordinate, error) {
	var line [][]float64
	if err := json.Unmarshal(raw, &line); err == nil {
		coords := make([]geometry.Coordinate, 0, len(line))
		for _, pair := range line {
			if len(pair) < 2 {
				return nil, fmt.Errorf("coordinate %v has fewer than two values", pair)
			}
			coords = append(coords, geometry.Coordinate{Lon: pair[0], Lat: pair[1]})
		}
		return coords, nil
	}

	var point []float64
	if err := json.Unmarshal(raw, &point); err != nil {
		return nil, fmt.Errorf("unsupported coordinates %s", raw)
	}
	if len(point) < 2 {
		return nil, fmt.Errorf("coordinate %v has fewer than two values", point)
	}
	return []geometry.Coordinate{{Lon: point[0], Lat: point[1]}}, nil
}

// DecodeRoadSegments parses the JSON array returned by the near query.
func DecodeRoadSegments(data []byte) ([]RoadSegment, error) {
	var segments []RoadSegment
	if err := json.Unmarshal(data, &segments); err != nil {
		return nil, fmt.Errorf("decode road segments: %w", err)
	}
	return segments, nil
}

// MarshalJSON encodes the patch in NGSI-LD form.
func (p SegmentPatch) MarshalJSON() ([]byte, error) {
	return json.Marshal(patchDocument{
		ID:   p.ID,
		Type: RoadSegmentType,
		SurfaceType: surfaceTypeProperty{
			Type:        "Property",
			Value:       p.SurfaceType.Tag,
			Probability: p.SurfaceType.Probability,
		},
	})
}

// UnmarshalJSON decodes a patch previously produced by MarshalJSON.
func (p *SegmentPatch) UnmarshalJSON(data []byte) error {
	var doc patchDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	*p = SegmentPatch{
		ID:          doc.ID,
		SurfaceType: SurfaceType{Tag: doc.SurfaceType.Value, Probability: doc.SurfaceType.Probability},
	}
	return nil
}
