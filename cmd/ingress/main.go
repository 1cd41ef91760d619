package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/couchcryptid/road-surface-ingress/internal/adapter/contextbroker"
	httpadapter "github.com/couchcryptid/road-surface-ingress/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/road-surface-ingress/internal/adapter/kafka"
	"github.com/couchcryptid/road-surface-ingress/internal/config"
	"github.com/couchcryptid/road-surface-ingress/internal/domain"
	"github.com/couchcryptid/road-surface-ingress/internal/observability"
	"github.com/couchcryptid/road-surface-ingress/internal/pipeline"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	for _, w := range cfg.Warnings {
		logger.Warn("configuration warning", "detail", w)
	}
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to init tracing", "error", err)
		os.Exit(1)
	}

	var opts []contextbroker.Option
	if cfg.ContextBrokerRateLimit > 0 {
		opts = append(opts, contextbroker.WithRateLimit(cfg.ContextBrokerRateLimit))
	}
	client := contextbroker.NewClient(cfg.ContextBrokerURL, cfg.ContextBrokerTimeout, metrics, logger, opts...)

	var finder domain.SegmentFinder = client
	if cfg.SegmentCacheSize > 0 {
		finder = contextbroker.NewCachedFinder(client, cfg.SegmentCacheSize, metrics)
		logger.Info("segment cache enabled", "cache_size", cfg.SegmentCacheSize)
	}

	publisher := kafkaadapter.NewPublisher(cfg, logger)
	if publisher.Enabled() {
		logger.Info("measurement publishing enabled", "topic", cfg.PublishTopic)
	} else {
		logger.Info("measurement publishing disabled")
	}

	handler := pipeline.NewHandler(
		domain.NewSegmentResolver(finder, cfg.MaxSegmentDistance),
		domain.NewSurfaceCommitter(client),
		publisher,
		logger,
		metrics,
	)

	readers := make([]*kafkaadapter.Reader, 0, cfg.ConsumerConcurrency)
	sources := make([]pipeline.MessageSource, 0, cfg.ConsumerConcurrency)
	for range cfg.ConsumerConcurrency {
		r := kafkaadapter.NewReader(cfg, logger)
		readers = append(readers, r)
		sources = append(sources, r)
	}
	deadLetters := kafkaadapter.NewDeadLetterWriter(cfg, logger)

	p := pipeline.New(sources, handler, deadLetters, logger, metrics, pipeline.Options{
		MaxDeliveries: cfg.MaxDeliveries,
		Backoff:       cfg.RetryBackoff,
		MaxBackoff:    cfg.RetryMaxBackoff,
	})

	srv := httpadapter.NewServer(cfg.HTTPAddr, observability.ServiceName, p, logger)

	logger.Info("starting ingress",
		"context_broker", cfg.ContextBrokerURL,
		"max_segment_distance", cfg.MaxSegmentDistance,
		"source_topic", cfg.KafkaSourceTopic,
		"dead_letter_topic", cfg.KafkaDeadLetterTopic,
		"workers", cfg.ConsumerConcurrency,
	)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := p.Run(ctx); err != nil {
			logger.Error("pipeline error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	select {
	case <-done:
	case <-shutdownCtx.Done():
		logger.Warn("pipeline did not stop before shutdown timeout")
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	for _, r := range readers {
		if err := r.Close(); err != nil {
			logger.Error("kafka reader close error", "error", err)
		}
	}
	if err := deadLetters.Close(); err != nil {
		logger.Error("dead-letter writer close error", "error", err)
	}
	if err := publisher.Close(); err != nil {
		logger.Error("publisher close error", "error", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
}
