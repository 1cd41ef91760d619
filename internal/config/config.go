package config

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/road-surface-ingress/internal/domain"
	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// ErrInvalidConfiguration is wrapped by every error returned from Load.
var ErrInvalidConfiguration = errors.New("invalid configuration")

// Segment search radius bounds in meters.
const (
	MinSegmentDistance     = 5
	MaxSegmentDistance     = 100
	LowSegmentDistanceWarn = 15
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	ContextBrokerURL       string
	MaxSegmentDistance     int
	ContextBrokerTimeout   time.Duration
	ContextBrokerRateLimit float64
	SegmentCacheSize       int

	KafkaBrokers         []string
	KafkaSourceTopic     string
	KafkaGroupID         string
	KafkaDeadLetterTopic string
	ConsumerConcurrency  int
	MaxDeliveries        int
	RetryBackoff         time.Duration
	RetryMaxBackoff      time.Duration
	PublishBrokers       []string
	PublishTopic         string
	HTTPAddr             string
	LogLevel             string
	LogFormat            string
	ShutdownTimeout      time.Duration
	TracingEnabled       bool
	TracingEndpoint      string
	TracingSampleRatio   float64

	// Warnings lists accepted but suspicious settings. Callers log them once
	// a logger is available.
	Warnings []string
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	brokerURL, err := parseBrokerURL(os.Getenv("CONTEXT_BROKER_URL"))
	if err != nil {
		return nil, err
	}

	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfiguration, err)
	}

	cfg := &Config{
		ContextBrokerURL:     brokerURL,
		KafkaBrokers:         sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaSourceTopic:     sharedcfg.EnvOrDefault("KAFKA_SOURCE_TOPIC", "road-surface-telemetry"),
		KafkaGroupID:         sharedcfg.EnvOrDefault("KAFKA_GROUP_ID", "road-surface-ingress"),
		KafkaDeadLetterTopic: sharedcfg.EnvOrDefault("KAFKA_DEAD_LETTER_TOPIC", "road-surface-telemetry-dlq"),
		PublishBrokers:       sharedcfg.ParseBrokers(os.Getenv("PUBLISH_BROKERS")),
		PublishTopic:         sharedcfg.EnvOrDefault("PUBLISH_TOPIC", domain.RoadMeasureValueTopic),
		HTTPAddr:             sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:             sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:            sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout:      shutdownTimeout,
		TracingEnabled:       os.Getenv("TRACING_ENABLED") == "true",
		TracingEndpoint:      os.Getenv("TRACING_ENDPOINT"),
	}

	if cfg.MaxSegmentDistance, err = parseSegmentDistance(sharedcfg.EnvOrDefault("MAX_SEGMENT_DISTANCE", "30")); err != nil {
		return nil, err
	}
	if cfg.MaxSegmentDistance < LowSegmentDistanceWarn {
		cfg.Warnings = append(cfg.Warnings, fmt.Sprintf(
			"MAX_SEGMENT_DISTANCE %d is below %d meters; positions with GPS drift may fail to resolve",
			cfg.MaxSegmentDistance, LowSegmentDistanceWarn))
	}

	if cfg.ContextBrokerTimeout, err = parsePositiveDuration("CONTEXT_BROKER_TIMEOUT", "10s"); err != nil {
		return nil, err
	}
	if cfg.RetryBackoff, err = parsePositiveDuration("RETRY_BACKOFF", "200ms"); err != nil {
		return nil, err
	}
	if cfg.RetryMaxBackoff, err = parsePositiveDuration("RETRY_MAX_BACKOFF", "5s"); err != nil {
		return nil, err
	}
	if cfg.RetryMaxBackoff < cfg.RetryBackoff {
		return nil, fmt.Errorf("%w: RETRY_MAX_BACKOFF must not be less than RETRY_BACKOFF", ErrInvalidConfiguration)
	}

	if cfg.ContextBrokerRateLimit, err = parseFloat("CONTEXT_BROKER_RATE_LIMIT", "0", 0, -1); err != nil {
		return nil, err
	}
	if cfg.TracingSampleRatio, err = parseFloat("TRACING_SAMPLE_RATIO", "1.0", 0, 1); err != nil {
		return nil, err
	}

	if cfg.SegmentCacheSize, err = parseInt("SEGMENT_CACHE_SIZE", "0", 0, -1); err != nil {
		return nil, err
	}
	if cfg.ConsumerConcurrency, err = parseInt("CONSUMER_CONCURRENCY", "1", 1, 64); err != nil {
		return nil, err
	}
	if cfg.MaxDeliveries, err = parseInt("MAX_DELIVERIES", "5", 1, 100); err != nil {
		return nil, err
	}

	if len(cfg.KafkaBrokers) == 0 {
		return nil, fmt.Errorf("%w: KAFKA_BROKERS is required", ErrInvalidConfiguration)
	}
	if cfg.KafkaSourceTopic == "" {
		return nil, fmt.Errorf("%w: KAFKA_SOURCE_TOPIC is required", ErrInvalidConfiguration)
	}
	if cfg.KafkaDeadLetterTopic == "" {
		return nil, fmt.Errorf("%w: KAFKA_DEAD_LETTER_TOPIC is required", ErrInvalidConfiguration)
	}
	if cfg.KafkaDeadLetterTopic == cfg.KafkaSourceTopic {
		return nil, fmt.Errorf("%w: KAFKA_DEAD_LETTER_TOPIC must differ from KAFKA_SOURCE_TOPIC", ErrInvalidConfiguration)
	}
	if cfg.TracingEnabled && cfg.TracingEndpoint == "" {
		return nil, fmt.Errorf("%w: TRACING_ENABLED is true but TRACING_ENDPOINT is not set", ErrInvalidConfiguration)
	}

	return cfg, nil
}

// PublishEnabled reports whether measurements are forwarded downstream.
func (c *Config) PublishEnabled() bool {
	return len(c.PublishBrokers) > 0
}

func parseBrokerURL(raw string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("%w: CONTEXT_BROKER_URL is required", ErrInvalidConfiguration)
	}
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return "", fmt.Errorf("%w: CONTEXT_BROKER_URL %q must be an absolute http or https URL", ErrInvalidConfiguration, raw)
	}
	return strings.TrimRight(raw, "/"), nil
}

func parseSegmentDistance(raw string) (int, error) {
	n, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: MAX_SEGMENT_DISTANCE %q is not an unsigned integer", ErrInvalidConfiguration, raw)
	}
	if n < MinSegmentDistance || n > MaxSegmentDistance {
		return 0, fmt.Errorf("%w: MAX_SEGMENT_DISTANCE %d must be between %d and %d",
			ErrInvalidConfiguration, n, MinSegmentDistance, MaxSegmentDistance)
	}
	return int(n), nil
}

func parsePositiveDuration(name, def string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(name, def))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%w: invalid %s", ErrInvalidConfiguration, name)
	}
	return d, nil
}

// parseInt reads an integer in [lo, hi]. A negative hi means unbounded.
func parseInt(name, def string, lo, hi int) (int, error) {
	n, err := strconv.Atoi(sharedcfg.EnvOrDefault(name, def))
	if err != nil || n < lo || (hi >= 0 && n > hi) {
		return 0, fmt.Errorf("%w: invalid %s", ErrInvalidConfiguration, name)
	}
	return n, nil
}

// parseFloat reads a float in [lo, hi]. A negative hi means unbounded.
func parseFloat(name, def string, lo, hi float64) (float64, error) {
	f, err := strconv.ParseFloat(sharedcfg.EnvOrDefault(name, def), 64)
	if err != nil || math.IsNaN(f) || f < lo || (hi >= 0 && f > hi) {
		return 0, fmt.Errorf("%w: invalid %s", ErrInvalidConfiguration, name)
	}
	return f, nil
}
