package contextbroker

import (
	"context"
	"errors"
	"testing"

	"github.com/couchcryptid/road-surface-ingress/internal/domain"
	"github.com/couchcryptid/road-surface-ingress/internal/geometry"
	"github.com/couchcryptid/road-surface-ingress/internal/observability"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- mock for cache tests ---

type countingFinder struct {
	calls    int
	segments []domain.RoadSegment
	err      error
}

func (m *countingFinder) NearbySegments(_ context.Context, _ geometry.Coordinate, _ int) ([]domain.RoadSegment, error) {
	m.calls++
	return m.segments, m.err
}

func segments(ids ...string) []domain.RoadSegment {
	out := make([]domain.RoadSegment, 0, len(ids))
	for _, id := range ids {
		out = append(out, domain.RoadSegment{ID: id})
	}
	return out
}

// --- CachedFinder tests ---

func TestCachedFinder_CacheHit(t *testing.T) {
	inner := &countingFinder{segments: segments("a", "b")}
	metrics := observability.NewMetricsForTesting()
	cached := NewCachedFinder(inner, 10, metrics)

	r1, err := cached.NearbySegments(context.Background(), testPoint, 30)
	require.NoError(t, err)
	r2, err := cached.NearbySegments(context.Background(), testPoint, 30)
	require.NoError(t, err)

	assert.Equal(t, r1, r2)
	assert.Equal(t, 1, inner.calls, "should only call inner once")
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.SegmentCache.WithLabelValues("hit")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.SegmentCache.WithLabelValues("miss")))
}

func TestCachedFinder_DistanceIsPartOfKey(t *testing.T) {
	inner := &countingFinder{segments: segments("a")}
	cached := NewCachedFinder(inner, 10, observability.NewMetricsForTesting())

	_, _ = cached.NearbySegments(context.Background(), testPoint, 30)
	_, _ = cached.NearbySegments(context.Background(), testPoint, 50)

	assert.Equal(t, 2, inner.calls)
}

func TestCachedFinder_EmptyResultNotCached(t *testing.T) {
	inner := &countingFinder{}
	cached := NewCachedFinder(inner, 10, observability.NewMetricsForTesting())

	_, _ = cached.NearbySegments(context.Background(), testPoint, 30)
	_, _ = cached.NearbySegments(context.Background(), testPoint, 30)

	assert.Equal(t, 2, inner.calls)
	assert.Zero(t, cached.cache.size())
}

func TestCachedFinder_ErrorNotCached(t *testing.T) {
	inner := &countingFinder{err: &domain.UpstreamQueryError{Status: 503}}
	cached := NewCachedFinder(inner, 10, observability.NewMetricsForTesting())

	_, err := cached.NearbySegments(context.Background(), testPoint, 30)
	var upstream *domain.UpstreamQueryError
	require.True(t, errors.As(err, &upstream))

	_, _ = cached.NearbySegments(context.Background(), testPoint, 30)
	assert.Equal(t, 2, inner.calls)
}

func TestCachedFinder_NearbyFixesShareEntry(t *testing.T) {
	inner := &countingFinder{segments: segments("urn:ngsi-ld:RoadSegment:1")}
	cached := NewCachedFinder(inner, 10, observability.NewMetricsForTesting())

	_, err := cached.NearbySegments(context.Background(), geometry.Coordinate{Lon: 17.2700331, Lat: 62.4106721}, 30)
	require.NoError(t, err)
	_, err = cached.NearbySegments(context.Background(), geometry.Coordinate{Lon: 17.2700329, Lat: 62.4106719}, 30)
	require.NoError(t, err)
	_, err = cached.NearbySegments(context.Background(), geometry.Coordinate{Lon: 17.270034, Lat: 62.410672}, 30)
	require.NoError(t, err)

	assert.Equal(t, 2, inner.calls, "sub-microdegree jitter hits the cache, a 1e-6 step does not")
}

// --- segment cache unit tests ---

func query(lon, lat float64) nearQuery {
	return newNearQuery(geometry.Coordinate{Lon: lon, Lat: lat}, 30)
}

func TestSegmentCache_BasicGetPut(t *testing.T) {
	c := newSegmentCache(3)
	a, b := query(17.1, 62.1), query(17.2, 62.2)

	c.put(a, segments("A"))
	c.put(b, segments("B"))

	result, ok := c.get(a)
	assert.True(t, ok)
	assert.Equal(t, "A", result[0].ID)

	_, ok = c.get(query(17.3, 62.3))
	assert.False(t, ok)
}

func TestSegmentCache_RadiusDistinguishesQueries(t *testing.T) {
	c := newSegmentCache(3)
	point := geometry.Coordinate{Lon: 17.1, Lat: 62.1}

	c.put(newNearQuery(point, 30), segments("A"))

	_, ok := c.get(newNearQuery(point, 50))
	assert.False(t, ok)
}

func TestSegmentCache_Eviction(t *testing.T) {
	c := newSegmentCache(2)
	a, b, d := query(17.1, 62.1), query(17.2, 62.2), query(17.3, 62.3)

	c.put(a, segments("A"))
	c.put(b, segments("B"))
	c.put(d, segments("C")) // evicts a

	_, ok := c.get(a)
	assert.False(t, ok, "a should have been evicted")

	result, ok := c.get(b)
	assert.True(t, ok)
	assert.Equal(t, "B", result[0].ID)

	result, ok = c.get(d)
	assert.True(t, ok)
	assert.Equal(t, "C", result[0].ID)
	assert.Equal(t, 2, c.size())
}

func TestSegmentCache_AccessPromotesEntry(t *testing.T) {
	c := newSegmentCache(2)
	a, b, d := query(17.1, 62.1), query(17.2, 62.2), query(17.3, 62.3)

	c.put(a, segments("A"))
	c.put(b, segments("B"))

	c.get(a)

	// b is now least recently used.
	c.put(d, segments("C"))

	_, ok := c.get(a)
	assert.True(t, ok, "a was accessed recently, should not be evicted")

	_, ok = c.get(b)
	assert.False(t, ok, "b should have been evicted")
}

func TestSegmentCache_UpdateExisting(t *testing.T) {
	c := newSegmentCache(2)
	a := query(17.1, 62.1)

	c.put(a, segments("A1"))
	c.put(a, segments("A2"))

	result, ok := c.get(a)
	assert.True(t, ok)
	assert.Equal(t, "A2", result[0].ID)
	assert.Equal(t, 1, c.size())
}
