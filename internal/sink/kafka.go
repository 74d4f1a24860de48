// internal/sink/kafka.go

// Package sink forwards the value stream to external systems without
// blocking the broadcaster.
package sink

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/YaganovValera/livefeed/internal/metrics"
	"github.com/YaganovValera/livefeed/pkg/feed"
	"github.com/YaganovValera/livefeed/pkg/kafka"
	"github.com/YaganovValera/livefeed/pkg/logger"
)

const (
	kafkaSink = "kafka"

	// HeaderReceivedAt carries a serialized google.protobuf.Timestamp.
	HeaderReceivedAt = "received-at"
	// HeaderContentType names the record encoding.
	HeaderContentType = "content-type"
	contentType       = "application/x-protobuf; message=google.protobuf.Struct"

	breakerTrip    = 5
	breakerTimeout = 10 * time.Second
)

var kafkaTracer = otel.Tracer("livefeed/sink/kafka")

// Kafka republishes every value to a topic. OnValue only enqueues; Run does
// the publishing. A full queue drops the value and counts it. After
// breakerTrip consecutive publish failures the breaker opens and values are
// dropped without calling the broker until breakerTimeout has passed.
type Kafka struct {
	producer kafka.Producer
	topic    string
	source   string
	queue    chan feed.DataPoint
	breaker  *gobreaker.CircuitBreaker[struct{}]
	log      *logger.Logger
}

// NewKafka builds the sink. source is stored in each record, usually the
// feed URL.
func NewKafka(p kafka.Producer, topic, source string, queueSize int, log *logger.Logger) *Kafka {
	if queueSize <= 0 {
		queueSize = 1
	}
	k := &Kafka{
		producer: p,
		topic:    topic,
		source:   source,
		queue:    make(chan feed.DataPoint, queueSize),
		log:      log.Named("sink.kafka"),
	}
	k.breaker = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "kafka-sink",
		MaxRequests: 1,
		Timeout:     breakerTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= breakerTrip
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			k.log.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return k
}

func (k *Kafka) OnValue(p feed.DataPoint) {
	select {
	case k.queue <- p:
	default:
		metrics.SinkDrops.WithLabelValues(kafkaSink).Inc()
		k.log.Debug("queue full, value dropped", zap.Uint64("seq", p.Seq))
	}
}

// OnComplete is a no-op: the sink outlives sessions.
func (k *Kafka) OnComplete() {}

// OnError is a no-op: the sink outlives sessions.
func (k *Kafka) OnError(error) {}

// Run publishes queued values until ctx is done. Remaining values are
// discarded.
func (k *Kafka) Run(ctx context.Context) error {
	k.log.Info("kafka sink started", zap.String("topic", k.topic))
	defer k.log.Info("kafka sink stopped")
	for {
		select {
		case <-ctx.Done():
			return nil
		case p := <-k.queue:
			_ = k.publish(ctx, p)
		}
	}
}

func (k *Kafka) publish(ctx context.Context, p feed.DataPoint) error {
	ctx, span := kafkaTracer.Start(ctx, "Publish")
	defer span.End()

	rec, err := structpb.NewStruct(map[string]interface{}{
		"seq":    float64(p.Seq),
		"value":  p.Value,
		"source": k.source,
	})
	if err != nil {
		return k.fail(ctx, span, "encode", err)
	}
	value, err := proto.Marshal(rec)
	if err != nil {
		return k.fail(ctx, span, "encode", err)
	}
	ts, err := proto.Marshal(timestamppb.New(p.ReceivedAt))
	if err != nil {
		return k.fail(ctx, span, "encode", err)
	}

	key := []byte(strconv.FormatUint(p.Seq, 10))
	_, err = k.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, k.producer.Publish(ctx, k.topic, key, value,
			kafka.Header{Key: HeaderContentType, Value: []byte(contentType)},
			kafka.Header{Key: HeaderReceivedAt, Value: ts},
		)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		metrics.SinkDrops.WithLabelValues(kafkaSink).Inc()
		k.log.Debug("breaker open, value dropped", zap.Uint64("seq", p.Seq))
		return err
	}
	if err != nil {
		return k.fail(ctx, span, "publish", err)
	}
	metrics.SinkPublished.WithLabelValues(kafkaSink).Inc()
	if !p.ReceivedAt.IsZero() {
		metrics.SinkLatency.WithLabelValues(kafkaSink).Observe(time.Since(p.ReceivedAt).Seconds())
	}
	return nil
}

func (k *Kafka) fail(ctx context.Context, span trace.Span, stage string, err error) error {
	metrics.SinkErrors.WithLabelValues(kafkaSink, stage).Inc()
	span.RecordError(err)
	k.log.WithContext(ctx).Error("kafka sink "+stage+" failed", zap.Error(err))
	return err
}
