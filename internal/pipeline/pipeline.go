package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/road-surface-ingress/internal/domain"
	"github.com/couchcryptid/road-surface-ingress/internal/observability"
	"github.com/couchcryptid/storm-data-shared/retry"
	"github.com/google/uuid"
)

// MessageSource delivers messages from the subscription one at a time.
type MessageSource interface {
	Fetch(ctx context.Context) (domain.RawMessage, error)
}

// MessageHandler processes a single delivery.
type MessageHandler interface {
	Handle(ctx context.Context, raw domain.RawMessage) Outcome
}

// DeadLetterSink receives messages that will not be retried any further.
type DeadLetterSink interface {
	DeadLetter(ctx context.Context, raw domain.RawMessage, failure domain.DeliveryFailure) error
}

// Options bounds redelivery of transiently failed messages.
type Options struct {
	MaxDeliveries int
	Backoff       time.Duration
	MaxBackoff    time.Duration
}

// Pipeline runs one worker loop per source. Each worker handles a single
// message at a time and acknowledges in processing order.
type Pipeline struct {
	sources     []MessageSource
	handler     MessageHandler
	deadLetters DeadLetterSink
	logger      *slog.Logger
	metrics     *observability.Metrics
	opts        Options
	ready       atomic.Bool
}

// New creates a Pipeline with the given stages and observability.
func New(sources []MessageSource, handler MessageHandler, deadLetters DeadLetterSink, logger *slog.Logger, metrics *observability.Metrics, opts Options) *Pipeline {
	if opts.MaxDeliveries < 1 {
		opts.MaxDeliveries = 1
	}
	if opts.MaxBackoff < opts.Backoff {
		opts.MaxBackoff = opts.Backoff
	}
	return &Pipeline{
		sources:     sources,
		handler:     handler,
		deadLetters: deadLetters,
		logger:      logger,
		metrics:     metrics,
		opts:        opts,
	}
}

// Ready reports whether any message has been acknowledged.
func (p *Pipeline) Ready() bool {
	return p.ready.Load()
}

// CheckReadiness returns nil if the pipeline has acknowledged at least one
// message, or an error describing why the service is not yet ready.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not processed any messages yet")
	}
	return nil
}

// Run starts the worker loops and blocks until the context is cancelled and
// every worker has returned.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("pipeline started",
		"workers", len(p.sources),
		"max_deliveries", p.opts.MaxDeliveries,
	)

	var wg sync.WaitGroup
	for i, src := range p.sources {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.metrics.PipelineRunning.Inc()
			defer p.metrics.PipelineRunning.Dec()
			p.work(ctx, i, src)
		}()
	}
	wg.Wait()

	p.logger.Info("pipeline stopped", "reason", context.Cause(ctx))
	return nil
}

func (p *Pipeline) work(ctx context.Context, worker int, src MessageSource) {
	logger := p.logger.With("worker", worker)
	backoff := p.opts.Backoff

	for {
		if ctx.Err() != nil {
			return
		}

		raw, err := src.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("fetch message failed", "error", err)
			if !p.backoffOrStop(ctx, &backoff) {
				return
			}
			continue
		}

		backoff = p.opts.Backoff
		p.metrics.MessagesConsumed.Inc()

		if !p.deliver(ctx, raw, logger) {
			return
		}
	}
}

// deliver handles a message until it is acknowledged or dead-lettered.
// Returns false if the pipeline should stop; the message is then left
// uncommitted.
func (p *Pipeline) deliver(ctx context.Context, raw domain.RawMessage, logger *slog.Logger) bool {
	id := uuid.NewString()
	ctx = withCorrelationID(ctx, id)
	logger = logger.With("correlation_id", id, "partition", raw.Partition, "offset", raw.Offset)

	backoff := p.opts.Backoff
	for attempt := 1; ; attempt++ {
		outcome := p.handler.Handle(ctx, raw)
		if outcome.Ack {
			p.ack(ctx, raw, outcome, logger)
			return true
		}

		if outcome.Permanent || attempt >= p.opts.MaxDeliveries {
			return p.deadLetter(ctx, raw, outcome, attempt, id, logger)
		}

		if ctx.Err() != nil {
			return false
		}
		p.metrics.Redeliveries.Inc()
		logger.Warn("retrying message", "attempt", attempt, "backoff", backoff, "stage", outcome.Stage)
		if !retry.SleepWithContext(ctx, backoff) {
			return false
		}
		backoff = retry.NextBackoff(backoff, p.opts.MaxBackoff)
	}
}

// deadLetter routes the message to the dead-letter sink and commits it. The
// write is retried with backoff; the offset is only committed once it succeeds.
func (p *Pipeline) deadLetter(ctx context.Context, raw domain.RawMessage, outcome Outcome, attempts int, id string, logger *slog.Logger) bool {
	failure := domain.DeliveryFailure{
		Reason:        errorText(outcome.Err),
		State:         outcome.Stage,
		Attempts:      attempts,
		CorrelationID: id,
	}

	backoff := p.opts.Backoff
	for {
		err := p.deadLetters.DeadLetter(ctx, raw, failure)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return false
		}
		logger.Error("dead-letter write failed, offset not committed", "error", err)
		if !p.backoffOrStop(ctx, &backoff) {
			return false
		}
	}

	p.metrics.DeadLettered.Inc()
	p.commitOffset(ctx, raw, logger)
	return true
}

func (p *Pipeline) ack(ctx context.Context, raw domain.RawMessage, outcome Outcome, logger *slog.Logger) {
	p.commitOffset(ctx, raw, logger)
	p.metrics.MessagesAcked.Inc()
	p.ready.Store(true)
	logger.Debug("message handled", "state", string(outcome.State), "next", string(StateAcked))
}

// commitOffset commits the message offset if a commit function is available.
func (p *Pipeline) commitOffset(ctx context.Context, raw domain.RawMessage, logger *slog.Logger) {
	if raw.Commit == nil {
		return
	}
	if err := raw.Commit(ctx); err != nil {
		logger.Warn("commit offset failed", "error", err, "topic", raw.Topic)
	}
}

// backoffOrStop checks for context cancellation, sleeps with the current backoff,
// and advances the backoff. Returns false if the pipeline should stop.
func (p *Pipeline) backoffOrStop(ctx context.Context, backoff *time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	if !retry.SleepWithContext(ctx, *backoff) {
		return false
	}
	*backoff = retry.NextBackoff(*backoff, p.opts.MaxBackoff)
	return true
}

func errorText(err error) string {
	if err == nil {
		return "unknown"
	}
	return err.Error()
}
