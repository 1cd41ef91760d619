package contextbroker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/couchcryptid/road-surface-ingress/internal/domain"
	"github.com/couchcryptid/road-surface-ingress/internal/geometry"
	"github.com/couchcryptid/road-surface-ingress/internal/observability"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
)

const (
	entitiesPath   = "/ngsi-ld/v1/entities"
	contentTypeLD  = "application/ld+json"
	maxErrorBody   = 4 << 10
	operationQuery = "query"
	operationPatch = "patch"
)

// Doer sends HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client talks to an NGSI-LD context broker. It implements
// domain.SegmentFinder and domain.SurfaceUpdater.
type Client struct {
	baseURL string
	http    Doer
	limiter *rate.Limiter
	metrics *observability.Metrics
	logger  *slog.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithDoer replaces the HTTP transport.
func WithDoer(d Doer) Option {
	return func(c *Client) { c.http = d }
}

// WithRateLimit caps outgoing requests per second. Zero means unlimited.
func WithRateLimit(perSecond float64) Option {
	return func(c *Client) {
		if perSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

// NewClient creates a context broker client rooted at baseURL.
func NewClient(baseURL string, timeout time.Duration, metrics *observability.Metrics, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		limiter: rate.NewLimiter(rate.Inf, 0),
		metrics: metrics,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NearbySegments lists RoadSegment entities within maxDistance meters of point.
func (c *Client) NearbySegments(ctx context.Context, point geometry.Coordinate, maxDistance int) ([]domain.RoadSegment, error) {
	params := url.Values{
		"type":        {domain.RoadSegmentType},
		"georel":      {"near;maxDistance==" + strconv.Itoa(maxDistance)},
		"geometry":    {"Point"},
		"coordinates": {"[" + formatDegrees(point.Lon) + "," + formatDegrees(point.Lat) + "]"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+entitiesPath+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.do(req, operationQuery)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		body := readErrorBody(resp.Body)
		c.metrics.BrokerRequests.WithLabelValues(operationQuery, "error").Inc()
		return nil, &domain.UpstreamQueryError{Status: resp.StatusCode, Body: body}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		c.metrics.BrokerRequests.WithLabelValues(operationQuery, "error").Inc()
		return nil, fmt.Errorf("read near query response: %w", err)
	}
	segments, err := domain.DecodeRoadSegments(data)
	if err != nil {
		c.metrics.BrokerRequests.WithLabelValues(operationQuery, "error").Inc()
		return nil, err
	}

	c.metrics.BrokerRequests.WithLabelValues(operationQuery, "success").Inc()
	c.logger.Debug("near query", "lon", point.Lon, "lat", point.Lat, "max_distance", maxDistance, "candidates", len(segments))
	return segments, nil
}

// PatchSurfaceType writes the surface type attribute of one segment.
// Non-success statuses are reported in the outcome; an error means no
// response was received.
func (c *Client) PatchSurfaceType(ctx context.Context, patch domain.SegmentPatch) (domain.CommitOutcome, error) {
	payload, err := json.Marshal(patch)
	if err != nil {
		return domain.CommitOutcome{}, fmt.Errorf("serialize patch: %w", err)
	}

	u := c.baseURL + entitiesPath + "/" + url.PathEscape(patch.ID) + "/attrs/"
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, u, bytes.NewReader(payload))
	if err != nil {
		return domain.CommitOutcome{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentTypeLD)

	resp, err := c.do(req, operationPatch)
	if err != nil {
		return domain.CommitOutcome{}, err
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		c.metrics.BrokerRequests.WithLabelValues(operationPatch, "rejected").Inc()
		return domain.CommitOutcome{Status: resp.StatusCode, Body: readErrorBody(resp.Body)}, nil
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	c.metrics.BrokerRequests.WithLabelValues(operationPatch, "success").Inc()
	return domain.CommitOutcome{Committed: true, Status: resp.StatusCode}, nil
}

func (c *Client) do(req *http.Request, operation string) (*http.Response, error) {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return nil, fmt.Errorf("%s rate limit: %w", operation, err)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	c.metrics.BrokerRequestDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	if err != nil {
		c.metrics.BrokerRequests.WithLabelValues(operation, "error").Inc()
		return nil, fmt.Errorf("%s request: %w", operation, err)
	}
	return resp, nil
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}

func readErrorBody(r io.Reader) string {
	body, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	return string(body)
}

func formatDegrees(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
