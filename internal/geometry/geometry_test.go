package geometry

import (
	"math"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHaversine_SamePoint(t *testing.T) {
	p := Coordinate{Lon: 17.270033, Lat: 62.410672}
	assert.Equal(t, float64(0), Haversine(p, p))
}

func TestHaversine_OneDegreeOfLatitude(t *testing.T) {
	// One degree along a meridian is R * π/180.
	a := Coordinate{Lon: 17.0, Lat: 62.0}
	b := Coordinate{Lon: 17.0, Lat: 63.0}

	expected := math.Trunc(EarthRadiusKm * 1000 * math.Pi / 180)
	assert.Equal(t, expected, Haversine(a, b))
}

func TestHaversine_TruncatesFractionalMeters(t *testing.T) {
	// 0.000013 degrees of latitude is roughly 1.45 m.
	a := Coordinate{Lon: 17.270033, Lat: 62.410672}
	b := Coordinate{Lon: 17.270033, Lat: 62.410685}

	assert.Equal(t, float64(1), Haversine(a, b))
}

func TestHaversine_Symmetric(t *testing.T) {
	a := Coordinate{Lon: 17.270159, Lat: 62.409858}
	b := Coordinate{Lon: 17.269771, Lat: 62.410616}
	assert.Equal(t, Haversine(a, b), Haversine(b, a))
}

func TestProjectOntoSegment_InsideSegment(t *testing.T) {
	a := Coordinate{Lon: 0, Lat: 0}
	b := Coordinate{Lon: 2, Lat: 0}
	p := Coordinate{Lon: 1, Lat: 1}

	got := ProjectOntoSegment(p, a, b)
	assert.InDelta(t, 1.0, got.Lon, 1e-12)
	assert.InDelta(t, 0.0, got.Lat, 1e-12)
}

func TestProjectOntoSegment_BeyondEndpointIsNotClamped(t *testing.T) {
	a := Coordinate{Lon: 0, Lat: 0}
	b := Coordinate{Lon: 1, Lat: 0}
	p := Coordinate{Lon: 5, Lat: 0.5}

	got := ProjectOntoSegment(p, a, b)
	require.False(t, ClampProjection)
	assert.InDelta(t, 5.0, got.Lon, 1e-12, "projection lands on the line extension")
	assert.InDelta(t, 0.0, got.Lat, 1e-12)
}

func TestProjectOntoSegment_ZeroLengthSegment(t *testing.T) {
	a := Coordinate{Lon: 17.27, Lat: 62.41}
	p := Coordinate{Lon: 17.28, Lat: 62.42}

	assert.Equal(t, a, ProjectOntoSegment(p, a, a))
}

func TestDistanceToPolyline_Degenerate(t *testing.T) {
	p := Coordinate{Lon: 17.27, Lat: 62.41}

	_, ok := DistanceToPolyline(nil, p)
	assert.False(t, ok)

	_, ok = DistanceToPolyline([]Coordinate{{Lon: 17.27, Lat: 62.41}}, p)
	assert.False(t, ok)
}

func TestDistanceToPolyline_AbeamMidpoint(t *testing.T) {
	// A north-south segment roughly 550 m long and a point east of its midpoint.
	a := Coordinate{Lon: 17.27, Lat: 62.410}
	b := Coordinate{Lon: 17.27, Lat: 62.415}
	p := Coordinate{Lon: 17.271, Lat: 62.4125}

	got, ok := DistanceToPolyline([]Coordinate{a, b}, p)
	require.True(t, ok)

	// Cross-track distance from p to the meridian through the segment.
	lat := p.Lat * degToRad
	dLon := (p.Lon - a.Lon) * degToRad
	expected := math.Asin(math.Cos(lat)*math.Sin(dLon)) * EarthRadiusKm * 1000

	assert.InDelta(t, expected, got, 1.0)
}

func TestDistanceToPolyline_NonNegativeAndReversible(t *testing.T) {
	polyline := []Coordinate{
		{Lon: 17.270159, Lat: 62.409858},
		{Lon: 17.270083, Lat: 62.409908},
		{Lon: 17.269989, Lat: 62.409995},
		{Lon: 17.269898, Lat: 62.410185},
		{Lon: 17.269894, Lat: 62.410516},
		{Lon: 17.269771, Lat: 62.410616},
	}
	reversed := slices.Clone(polyline)
	slices.Reverse(reversed)

	points := []Coordinate{
		{Lon: 17.270033, Lat: 62.410672},
		{Lon: 17.2701, Lat: 62.4099},
		{Lon: 17.2690, Lat: 62.4110},
		{Lon: 17.269894, Lat: 62.410516},
	}

	for _, p := range points {
		forward, ok := DistanceToPolyline(polyline, p)
		require.True(t, ok)
		backward, ok := DistanceToPolyline(reversed, p)
		require.True(t, ok)

		assert.GreaterOrEqual(t, forward, float64(0))
		assert.InDelta(t, forward, backward, 1.0, "distance must not depend on point order")
	}
}

func TestDistanceToPolyline_PointOnVertex(t *testing.T) {
	polyline := []Coordinate{
		{Lon: 17.27, Lat: 62.41},
		{Lon: 17.28, Lat: 62.41},
		{Lon: 17.28, Lat: 62.42},
	}

	got, ok := DistanceToPolyline(polyline, Coordinate{Lon: 17.28, Lat: 62.41})
	require.True(t, ok)
	assert.Equal(t, float64(0), got)
}
