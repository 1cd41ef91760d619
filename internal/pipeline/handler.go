package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/couchcryptid/road-surface-ingress/internal/domain"
	"github.com/couchcryptid/road-surface-ingress/internal/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/couchcryptid/road-surface-ingress/internal/pipeline"

// State is a step of the per-message state machine.
type State string

const (
	StateReceived  State = "received"
	StateDecoded   State = "decoded"
	StateResolved  State = "resolved"
	StateCommitted State = "committed"
	StateSkipped   State = "skipped"
	StateAcked     State = "acked"
	StateFailed    State = "failed"
)

// Stage names where a failure happened. They double as dead-letter
// x-failure-state values.
const (
	StageDecode  = "decode"
	StageResolve = "resolve"
	StagePredict = "predict"
	StageCommit  = "commit"
)

// Resolver matches a position to the nearest road segment.
type Resolver interface {
	Resolve(ctx context.Context, pos domain.Position) (domain.ResolutionResult, error)
}

// Committer writes the surface type of a resolved segment.
type Committer interface {
	Commit(ctx context.Context, segmentID, tag string, probability float64) (domain.CommitOutcome, error)
}

// MeasurementPublisher forwards normalized measurements downstream.
type MeasurementPublisher interface {
	Publish(ctx context.Context, m domain.RoadMeasureValue) error
}

// Outcome is the result of one handling attempt.
//
// State is StateCommitted or StateSkipped when Ack is true and StateFailed
// otherwise. Permanent failures will not succeed on redelivery.
type Outcome struct {
	State      State
	Stage      string
	Ack        bool
	Permanent  bool
	Err        error
	Resolution domain.ResolutionResult
	Commit     *domain.CommitOutcome
}

func failed(stage string, permanent bool, err error) Outcome {
	return Outcome{State: StateFailed, Stage: stage, Permanent: permanent, Err: err}
}

// Handler runs decode, resolve and commit for a single message and decides
// whether it may be acknowledged. It holds no per-message state.
type Handler struct {
	resolver  Resolver
	committer Committer
	publisher MeasurementPublisher
	logger    *slog.Logger
	metrics   *observability.Metrics
	tracer    trace.Tracer
}

// HandlerOption customizes a Handler.
type HandlerOption func(*Handler)

// WithTracer overrides the tracer taken from the global provider.
func WithTracer(t trace.Tracer) HandlerOption {
	return func(h *Handler) { h.tracer = t }
}

// NewHandler creates a Handler. publisher may be nil.
func NewHandler(resolver Resolver, committer Committer, publisher MeasurementPublisher, logger *slog.Logger, metrics *observability.Metrics, opts ...HandlerOption) *Handler {
	h := &Handler{
		resolver:  resolver,
		committer: committer,
		publisher: publisher,
		logger:    logger,
		metrics:   metrics,
		tracer:    otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handle processes one delivery. It never acknowledges the message itself.
func (h *Handler) Handle(ctx context.Context, raw domain.RawMessage) Outcome {
	start := time.Now()
	ctx, span := h.tracer.Start(ctx, "handle telemetry", trace.WithAttributes(
		attribute.String("messaging.source", raw.Topic),
		attribute.Int("messaging.partition", raw.Partition),
		attribute.Int64("messaging.offset", raw.Offset),
	))
	defer span.End()

	logger := h.logger.With(
		"correlation_id", correlationID(ctx),
		"topic", raw.Topic,
		"partition", raw.Partition,
		"offset", raw.Offset,
	)

	outcome := h.handle(ctx, raw, logger)
	h.metrics.ProcessingDuration.Observe(time.Since(start).Seconds())

	span.SetAttributes(attribute.String("pipeline.state", string(outcome.State)))
	if outcome.Err != nil {
		kind := "transient"
		if outcome.Permanent {
			kind = "permanent"
		}
		h.metrics.MessagesFailed.WithLabelValues(outcome.Stage, kind).Inc()
		span.RecordError(outcome.Err)
		span.SetStatus(codes.Error, outcome.Stage)
		logger.Warn("message handling failed", "stage", outcome.Stage, "permanent", outcome.Permanent, "error", outcome.Err)
	}
	return outcome
}

func (h *Handler) handle(ctx context.Context, raw domain.RawMessage, logger *slog.Logger) Outcome {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(string(StateReceived))

	event, err := domain.DecodeTelemetry(raw.Value)
	if err != nil {
		return failed(StageDecode, true, err)
	}
	span.AddEvent(string(StateDecoded))

	result, err := h.resolver.Resolve(ctx, event.Position)
	if err != nil {
		return failed(StageResolve, false, err)
	}
	span.AddEvent(string(StateResolved), trace.WithAttributes(attribute.Int("segment.candidates", result.Candidates)))

	if !result.Resolved {
		h.metrics.Resolutions.WithLabelValues("no_candidates").Inc()
		logger.Info("no road segment near position",
			"lat", event.Position.Latitude,
			"lon", event.Position.Longitude,
			"candidates", result.Candidates,
		)
		if dominant, err := event.DominantPrediction(); err == nil {
			h.publish(ctx, raw, event, dominant, result, logger)
		}
		return Outcome{State: StateSkipped, Ack: true, Resolution: result}
	}

	h.metrics.Resolutions.WithLabelValues("resolved").Inc()
	h.metrics.SegmentDistance.Observe(result.DistanceMeters)
	span.SetAttributes(
		attribute.String("segment.id", result.SegmentID),
		attribute.Float64("segment.distance_m", result.DistanceMeters),
	)

	dominant, err := event.DominantPrediction()
	if err != nil {
		return failed(StagePredict, true, err)
	}

	commit, err := h.committer.Commit(ctx, result.SegmentID, dominant.Tag, dominant.Probability)
	if err != nil {
		h.metrics.Commits.WithLabelValues("error").Inc()
		return failed(StageCommit, false, err)
	}

	if commit.Committed {
		h.metrics.Commits.WithLabelValues("committed").Inc()
		logger.Info("surface type committed",
			"segment_id", result.SegmentID,
			"distance_m", result.DistanceMeters,
			"surface_type", dominant.Tag,
			"probability", dominant.Probability,
		)
	} else {
		h.metrics.Commits.WithLabelValues("rejected").Inc()
		var rejected *domain.CommitRejectedError
		if errors.As(commit.Err(), &rejected) {
			logger.Warn("context broker rejected surface type",
				"segment_id", result.SegmentID,
				"status", rejected.Status,
				"body", rejected.Body,
			)
		}
	}

	h.publish(ctx, raw, event, dominant, result, logger)
	return Outcome{State: StateCommitted, Ack: true, Resolution: result, Commit: &commit}
}

func (h *Handler) publish(ctx context.Context, raw domain.RawMessage, event domain.TelemetryEvent, dominant domain.Prediction, result domain.ResolutionResult, logger *slog.Logger) {
	if h.publisher == nil {
		return
	}
	m := domain.NewRoadMeasureValue(string(raw.Key), event, dominant, result)
	if err := h.publisher.Publish(ctx, m); err != nil {
		h.metrics.MeasurementsPublished.WithLabelValues("error").Inc()
		logger.Warn("publish measurement failed", "error", err)
		return
	}
	h.metrics.MeasurementsPublished.WithLabelValues("success").Inc()
}

type correlationKey struct{}

func withCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

func correlationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}
