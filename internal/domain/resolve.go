package domain

import (
	"context"
	"fmt"

	"github.com/couchcryptid/road-surface-ingress/internal/geometry"
)

// SegmentFinder returns the road segments within maxDistance meters of a point.
type SegmentFinder interface {
	NearbySegments(ctx context.Context, point geometry.Coordinate, maxDistance int) ([]RoadSegment, error)
}

// SegmentResolver matches positions to the nearest road segment.
type SegmentResolver struct {
	finder      SegmentFinder
	maxDistance int
}

// NewSegmentResolver creates a resolver that queries finder with a fixed
// search radius in meters.
func NewSegmentResolver(finder SegmentFinder, maxDistance int) *SegmentResolver {
	return &SegmentResolver{finder: finder, maxDistance: maxDistance}
}

// Resolve queries candidate segments around the position and selects the
// nearest one. An empty candidate list is not an error.
func (r *SegmentResolver) Resolve(ctx context.Context, pos Position) (ResolutionResult, error) {
	point := pos.Coordinate()
	segments, err := r.finder.NearbySegments(ctx, point, r.maxDistance)
	if err != nil {
		return ResolutionResult{}, fmt.Errorf("query nearby segments: %w", err)
	}
	return NearestSegment(segments, point), nil
}

// NearestSegment returns the segment with the smallest polyline distance to
// point. All candidates are measured; ties keep the earliest segment.
// Segments with degenerate geometry are skipped.
func NearestSegment(segments []RoadSegment, point geometry.Coordinate) ResolutionResult {
	result := ResolutionResult{Candidates: len(segments)}
	for _, s := range segments {
		d, ok := geometry.DistanceToPolyline(s.Geometry, point)
		if !ok {
			continue
		}
		if !result.Resolved || d < result.DistanceMeters {
			result.Resolved = true
			result.SegmentID = s.ID
			result.DistanceMeters = d
		}
	}
	return result
}
