// internal/sink/redis.go
package sink

import (
	"context"
	"sync"
	"time"

	"github.com/segmentio/encoding/json"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/YaganovValera/livefeed/internal/metrics"
	"github.com/YaganovValera/livefeed/pkg/logger"
	"github.com/YaganovValera/livefeed/pkg/redis"
	"github.com/YaganovValera/livefeed/pkg/series"
)

const redisSink = "redis"

var redisTracer = otel.Tracer("livefeed/sink/redis")

// LatestRecord is the JSON document stored under the key.
type LatestRecord struct {
	Seq        uint64    `json:"seq"`
	Value      float64   `json:"value"`
	ReceivedAt time.Time `json:"received_at"`
	Window     int       `json:"window"`
}

// Latest caches the newest value of a series.Buffer in Redis. Updates that
// arrive while a write is in flight are coalesced; only the newest is written.
type Latest struct {
	store redis.Store
	key   string
	log   *logger.Logger

	mu      sync.Mutex
	pending *LatestRecord
	wake    chan struct{}
}

// NewLatest builds the sink.
func NewLatest(store redis.Store, key string, log *logger.Logger) *Latest {
	return &Latest{
		store: store,
		key:   key,
		log:   log.Named("sink.redis"),
		wake:  make(chan struct{}, 1),
	}
}

func (l *Latest) WindowUpdated(u series.Update) {
	rec := &LatestRecord{Seq: u.Point.Seq, Value: u.Point.Value, ReceivedAt: u.Point.ReceivedAt, Window: u.Len}
	l.mu.Lock()
	if l.pending != nil {
		metrics.SinkDrops.WithLabelValues(redisSink).Inc()
	}
	l.pending = rec
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Completed is a no-op: the cached value stays readable after a session ends.
func (l *Latest) Completed() {}

// Failed is a no-op for the same reason.
func (l *Latest) Failed(error) {}

// Run writes pending records until ctx is done.
func (l *Latest) Run(ctx context.Context) error {
	l.log.Info("redis sink started", zap.String("key", l.key))
	defer l.log.Info("redis sink stopped")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-l.wake:
			l.flush(ctx)
		}
	}
}

func (l *Latest) flush(ctx context.Context) {
	l.mu.Lock()
	rec := l.pending
	l.pending = nil
	l.mu.Unlock()
	if rec == nil {
		return
	}

	ctx, span := redisTracer.Start(ctx, "SetLatest")
	defer span.End()

	body, err := json.Marshal(rec)
	if err != nil {
		metrics.SinkErrors.WithLabelValues(redisSink, "encode").Inc()
		span.RecordError(err)
		l.log.Error("encode latest failed", zap.Error(err))
		return
	}
	if err := l.store.Set(ctx, l.key, body); err != nil {
		if ctx.Err() != nil {
			return
		}
		metrics.SinkErrors.WithLabelValues(redisSink, "set").Inc()
		span.RecordError(err)
		l.log.WithContext(ctx).Error("set latest failed", zap.Error(err))
		return
	}
	metrics.SinkPublished.WithLabelValues(redisSink).Inc()
	if !rec.ReceivedAt.IsZero() {
		metrics.SinkLatency.WithLabelValues(redisSink).Observe(time.Since(rec.ReceivedAt).Seconds())
	}
}

// Load reads back the cached record.
func (l *Latest) Load(ctx context.Context) (*LatestRecord, error) {
	body, err := l.store.Get(ctx, l.key)
	if err != nil {
		return nil, err
	}
	var rec LatestRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}
