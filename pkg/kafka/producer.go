// pkg/kafka/producer.go
package kafka

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/dnwe/otelsarama"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/YaganovValera/livefeed/pkg/backoff"
	"github.com/YaganovValera/livefeed/pkg/logger"
)

var serviceLabel = "unknown"

// SetServiceLabel is called once from serviceid.Init at startup.
func SetServiceLabel(name string) { serviceLabel = name }

var producerMetrics = struct {
	ConnectAttempts *prometheus.CounterVec
	ConnectErrors   *prometheus.CounterVec
	PublishSuccess  *prometheus.CounterVec
	PublishErrors   *prometheus.CounterVec
	PublishLatency  *prometheus.HistogramVec
	PingErrors      *prometheus.CounterVec
}{
	ConnectAttempts: promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "livefeed", Subsystem: "kafka_producer", Name: "connect_attempts_total",
			Help: "Kafka producer connect attempts",
		},
		[]string{"service"},
	),
	ConnectErrors: promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "livefeed", Subsystem: "kafka_producer", Name: "connect_errors_total",
			Help: "Kafka producer connect errors",
		},
		[]string{"service"},
	),
	PublishSuccess: promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "livefeed", Subsystem: "kafka_producer", Name: "publish_success_total",
			Help: "Successful publishes",
		},
		[]string{"service", "topic"},
	),
	PublishErrors: promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "livefeed", Subsystem: "kafka_producer", Name: "publish_errors_total",
			Help: "Publish errors",
		},
		[]string{"service", "topic"},
	),
	PublishLatency: promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "livefeed", Subsystem: "kafka_producer", Name: "publish_latency_seconds",
			Help:    "Publish latency (seconds)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service"},
	),
	PingErrors: promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "livefeed", Subsystem: "kafka_producer", Name: "ping_errors_total",
			Help: "Ping errors",
		},
		[]string{"service"},
	),
}

var tracer = otel.Tracer("livefeed/kafka-producer")

// Config groups all tunables for a Kafka sync producer.
type Config struct {
	Brokers []string `mapstructure:"brokers"`

	// RequiredAcks: "all" (default) | "leader" | "none".
	RequiredAcks string `mapstructure:"acks"`

	// Timeout bounds the wait for broker acks.
	Timeout time.Duration `mapstructure:"timeout"`

	// Compression: "none" (default), "gzip", "snappy", "lz4", "zstd".
	Compression string `mapstructure:"compression"`

	FlushFrequency time.Duration `mapstructure:"flush_frequency"`
	FlushMessages  int           `mapstructure:"flush_messages"`

	Backoff backoff.Config `mapstructure:"backoff"`
}

func (c *Config) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.RequiredAcks == "" {
		c.RequiredAcks = "all"
	}
	if c.Compression == "" {
		c.Compression = "none"
	}
}

// Validate checks brokers and that acks/compression are known values.
func (c Config) Validate() error {
	if len(c.Brokers) == 0 {
		return fmt.Errorf("kafka producer: brokers required")
	}
	cp := c
	cp.applyDefaults()
	if _, err := buildSaramaConfig(cp); err != nil {
		return err
	}
	return c.Backoff.Validate()
}

func buildSaramaConfig(c Config) (*sarama.Config, error) {
	sc := sarama.NewConfig()

	switch strings.ToLower(c.RequiredAcks) {
	case "all":
		sc.Producer.RequiredAcks = sarama.WaitForAll
		sc.Producer.Idempotent = true
		sc.Net.MaxOpenRequests = 1
	case "leader":
		sc.Producer.RequiredAcks = sarama.WaitForLocal
	case "none":
		sc.Producer.RequiredAcks = sarama.NoResponse
	default:
		return nil, fmt.Errorf("kafka producer: invalid RequiredAcks %q", c.RequiredAcks)
	}

	sc.Producer.Return.Successes = true
	sc.Producer.Return.Errors = true
	sc.Producer.Timeout = c.Timeout

	if c.FlushFrequency > 0 {
		sc.Producer.Flush.Frequency = c.FlushFrequency
	}
	if c.FlushMessages > 0 {
		sc.Producer.Flush.Messages = c.FlushMessages
	}

	switch strings.ToLower(c.Compression) {
	case "none":
		sc.Producer.Compression = sarama.CompressionNone
	case "gzip":
		sc.Producer.Compression = sarama.CompressionGZIP
	case "snappy":
		sc.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		sc.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		sc.Producer.Compression = sarama.CompressionZSTD
	default:
		return nil, fmt.Errorf("kafka producer: invalid Compression %q", c.Compression)
	}

	return sc, nil
}

// metadataClient is the part of sarama.Client the producer needs.
type metadataClient interface {
	RefreshMetadata(topics ...string) error
	Close() error
}

type kafkaProducer struct {
	prod       sarama.SyncProducer
	client     metadataClient
	logger     *logger.Logger
	backoffCfg backoff.Config
}

// New creates a traced SyncProducer, retrying the broker connection.
func New(ctx context.Context, cfg Config, log *logger.Logger) (Producer, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log = log.Named("kafka-producer")

	sc, err := buildSaramaConfig(cfg)
	if err != nil {
		return nil, err
	}

	var (
		client   sarama.Client
		syncProd sarama.SyncProducer
	)
	connect := func(ctx context.Context) error {
		producerMetrics.ConnectAttempts.WithLabelValues(serviceLabel).Inc()
		c, err := sarama.NewClient(cfg.Brokers, sc)
		if err != nil {
			producerMetrics.ConnectErrors.WithLabelValues(serviceLabel).Inc()
			return err
		}
		p, err := sarama.NewSyncProducerFromClient(c)
		if err != nil {
			_ = c.Close()
			producerMetrics.ConnectErrors.WithLabelValues(serviceLabel).Inc()
			return err
		}
		client, syncProd = c, p
		return nil
	}

	ctxConn, span := tracer.Start(ctx, "Connect",
		trace.WithAttributes(attribute.StringSlice("brokers", cfg.Brokers)))
	if err := backoff.Execute(ctxConn, "kafka_connect", cfg.Backoff, log, connect); err != nil {
		span.RecordError(err)
		span.End()
		log.Error("kafka producer connect failed", zap.Error(err))
		return nil, fmt.Errorf("kafka producer: connect: %w", err)
	}
	span.End()

	log.Info("kafka producer ready", zap.Strings("brokers", cfg.Brokers))
	return &kafkaProducer{
		prod:       otelsarama.WrapSyncProducer(sc, syncProd),
		client:     client,
		logger:     log,
		backoffCfg: cfg.Backoff,
	}, nil
}

// Publish sends one record, retrying transient failures.
func (k *kafkaProducer) Publish(ctx context.Context, topic string, key, value []byte, headers ...Header) error {
	ctxPub, span := tracer.Start(ctx, "Publish", trace.WithAttributes(attribute.String("topic", topic)))
	defer span.End()
	start := time.Now()

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.ByteEncoder(key),
		Value: sarama.ByteEncoder(value),
	}
	for _, h := range headers {
		msg.Headers = append(msg.Headers, sarama.RecordHeader{Key: []byte(h.Key), Value: h.Value})
	}

	send := func(ctx context.Context) error {
		_, _, err := k.prod.SendMessage(msg)
		if errors.Is(err, sarama.ErrMessageSizeTooLarge) || errors.Is(err, sarama.ErrInvalidMessage) {
			return backoff.Permanent(err)
		}
		return err
	}

	err := backoff.Execute(ctxPub, "kafka_publish", k.backoffCfg, k.logger, send)
	latency := time.Since(start)
	producerMetrics.PublishLatency.WithLabelValues(serviceLabel).Observe(latency.Seconds())

	if err != nil {
		producerMetrics.PublishErrors.WithLabelValues(serviceLabel, topic).Inc()
		span.RecordError(err)
		k.logger.Error("publish failed", zap.String("topic", topic), zap.Error(err))
		return err
	}

	producerMetrics.PublishSuccess.WithLabelValues(serviceLabel, topic).Inc()
	k.logger.Debug("publish succeeded",
		zap.String("topic", topic),
		zap.Duration("latency", latency),
	)
	return nil
}

// Ping refreshes the client's metadata.
func (k *kafkaProducer) Ping(ctx context.Context) error {
	_, span := tracer.Start(ctx, "Ping")
	defer span.End()
	if k.client == nil {
		return nil
	}
	if err := k.client.RefreshMetadata(); err != nil {
		producerMetrics.PingErrors.WithLabelValues(serviceLabel).Inc()
		span.RecordError(err)
		return err
	}
	return nil
}

// Close shuts the producer down, then the client.
func (k *kafkaProducer) Close() error {
	if err := k.prod.Close(); err != nil {
		k.logger.Error("producer close failed", zap.Error(err))
		return err
	}
	if k.client != nil {
		if err := k.client.Close(); err != nil && !errors.Is(err, sarama.ErrClosedClient) {
			k.logger.Error("client close failed", zap.Error(err))
			return err
		}
	}
	k.logger.Info("kafka producer closed")
	return nil
}
