// Package geometry computes distances between GPS positions and road segment
// polylines. Coordinates are WGS-84 decimal degrees in (longitude, latitude)
// order, matching GeoJSON and the NGSI-LD wire format.
//
// Projection onto a polyline segment is done with planar vector math in
// (lon, lat) space, which is adequate at road-segment scale. The projected
// point and the query point are then compared with the haversine formula.
package geometry

import "math"

// EarthRadiusKm is the equatorial radius used by the haversine formula.
const EarthRadiusKm = 6378.137

// ClampProjection controls whether the projection parameter is clamped to the
// segment endpoints. When false the nearest point may lie on the infinite line
// through the segment, outside the segment itself.
const ClampProjection = false

const degToRad = math.Pi / 180

// Coordinate is a (longitude, latitude) pair in decimal degrees.
type Coordinate struct {
	Lon float64
	Lat float64
}

// Haversine returns the great-circle distance between a and b in whole meters.
// Fractional meters are truncated, not rounded.
func Haversine(a, b Coordinate) float64 {
	lat1 := a.Lat * degToRad
	lat2 := b.Lat * degToRad
	dLat := (b.Lat - a.Lat) * degToRad
	dLon := (b.Lon - a.Lon) * degToRad

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	meters := EarthRadiusKm * c * 1000
	return float64(int64(meters))
}

// ProjectOntoSegment projects p onto the line through a and b.
// A zero-length segment projects onto a.
func ProjectOntoSegment(p, a, b Coordinate) Coordinate {
	abLon := b.Lon - a.Lon
	abLat := b.Lat - a.Lat

	lengthSq := abLon*abLon + abLat*abLat
	if lengthSq == 0 {
		return a
	}

	t := ((p.Lon-a.Lon)*abLon + (p.Lat-a.Lat)*abLat) / lengthSq
	if ClampProjection {
		t = math.Max(0, math.Min(1, t))
	}

	return Coordinate{
		Lon: a.Lon + t*abLon,
		Lat: a.Lat + t*abLat,
	}
}

// DistanceToSegment returns the distance in meters from p to its projection
// onto the segment a→b.
func DistanceToSegment(p, a, b Coordinate) float64 {
	return Haversine(p, ProjectOntoSegment(p, a, b))
}

// DistanceToPolyline returns the minimum distance in meters from p to any
// segment of the polyline. The second return value is false when the polyline
// has fewer than two points and therefore no segments to measure against.
func DistanceToPolyline(polyline []Coordinate, p Coordinate) (float64, bool) {
	if len(polyline) < 2 {
		return 0, false
	}

	minDistance := math.Inf(1)
	for i := 1; i < len(polyline); i++ {
		d := DistanceToSegment(p, polyline[i-1], polyline[i])
		if d < minDistance {
			minDistance = d
		}
	}
	return minDistance, true
}
