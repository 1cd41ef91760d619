package contextbroker

import (
	"container/list"
	"context"
	"math"
	"sync"

	"github.com/couchcryptid/road-surface-ingress/internal/domain"
	"github.com/couchcryptid/road-surface-ingress/internal/geometry"
	"github.com/couchcryptid/road-surface-ingress/internal/observability"
)

// CachedFinder wraps a SegmentFinder with an in-memory LRU of near query
// results. Positions are quantized to microdegrees (about 0.1 m), so repeated
// fixes from a stationary vehicle share one entry.
type CachedFinder struct {
	inner   domain.SegmentFinder
	cache   *segmentCache
	metrics *observability.Metrics
}

// NewCachedFinder creates a cache decorator around a finder.
func NewCachedFinder(inner domain.SegmentFinder, maxEntries int, metrics *observability.Metrics) *CachedFinder {
	return &CachedFinder{
		inner:   inner,
		cache:   newSegmentCache(maxEntries),
		metrics: metrics,
	}
}

func (c *CachedFinder) NearbySegments(ctx context.Context, point geometry.Coordinate, maxDistance int) ([]domain.RoadSegment, error) {
	key := newNearQuery(point, maxDistance)
	if segments, ok := c.cache.get(key); ok {
		c.metrics.SegmentCache.WithLabelValues("hit").Inc()
		return segments, nil
	}
	c.metrics.SegmentCache.WithLabelValues("miss").Inc()

	segments, err := c.inner.NearbySegments(ctx, point, maxDistance)
	if err != nil {
		return segments, err
	}
	// Empty results stay uncached so newly registered segments are picked up.
	if len(segments) > 0 {
		c.cache.put(key, segments)
	}
	return segments, nil
}

// nearQuery identifies a near query: a quantized point and a search radius.
type nearQuery struct {
	lonMicro int64
	latMicro int64
	radius   int
}

func newNearQuery(point geometry.Coordinate, radius int) nearQuery {
	return nearQuery{
		lonMicro: int64(math.Round(point.Lon * 1e6)),
		latMicro: int64(math.Round(point.Lat * 1e6)),
		radius:   radius,
	}
}

// segmentCache is a thread-safe LRU of near query results. The front of
// order is the most recently used entry.
type segmentCache struct {
	maxEntries int
	mu         sync.Mutex
	order      *list.List
	entries    map[nearQuery]*list.Element
}

type cachedSegments struct {
	query    nearQuery
	segments []domain.RoadSegment
}

func newSegmentCache(maxEntries int) *segmentCache {
	return &segmentCache{
		maxEntries: maxEntries,
		order:      list.New(),
		entries:    make(map[nearQuery]*list.Element),
	}
}

func (c *segmentCache) get(q nearQuery) ([]domain.RoadSegment, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[q]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*cachedSegments).segments, true
}

func (c *segmentCache) put(q nearQuery, segments []domain.RoadSegment) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[q]; ok {
		el.Value.(*cachedSegments).segments = segments
		c.order.MoveToFront(el)
		return
	}

	c.entries[q] = c.order.PushFront(&cachedSegments{query: q, segments: segments})
	for c.order.Len() > c.maxEntries {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cachedSegments).query)
	}
}

func (c *segmentCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
