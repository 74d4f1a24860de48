// pkg/redis/store.go
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/YaganovValera/livefeed/pkg/backoff"
	"github.com/YaganovValera/livefeed/pkg/logger"
)

var (
	redisMetrics = struct {
		GetErrors        prometheus.Counter
		SetErrors        prometheus.Counter
		OperationLatency *prometheus.HistogramVec
	}{
		GetErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "livefeed", Subsystem: "redis", Name: "get_errors_total",
			Help: "Total number of errors on Redis GET",
		}),
		SetErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "livefeed", Subsystem: "redis", Name: "set_errors_total",
			Help: "Total number of errors on Redis SET",
		}),
		OperationLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "livefeed", Subsystem: "redis", Name: "operation_latency_seconds",
			Help:    "Latency of Redis operations",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
	}
	tracer = otel.Tracer("livefeed/redis")
)

// ErrNotFound is returned when the key is absent.
var ErrNotFound = errors.New("redis: key not found")

// Config holds the Redis connection settings.
type Config struct {
	URL     string         `mapstructure:"url"` // e.g. "redis://host:6379/0"
	TTL     time.Duration  `mapstructure:"ttl"` // zero keeps keys forever
	Backoff backoff.Config `mapstructure:"backoff"`
}

// Validate checks that the URL parses.
func (c Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("redis: URL required")
	}
	if _, err := redis.ParseURL(c.URL); err != nil {
		return fmt.Errorf("redis: parse URL: %w", err)
	}
	if c.TTL < 0 {
		return fmt.Errorf("redis: ttl must not be negative")
	}
	return c.Backoff.Validate()
}

type redisStore struct {
	client     *redis.Client
	ttl        time.Duration
	log        *logger.Logger
	backoffCfg backoff.Config
}

// New connects to Redis, retrying the initial PING with back-off.
func New(ctx context.Context, cfg Config, log *logger.Logger) (Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log = log.Named("redis")

	opts, _ := redis.ParseURL(cfg.URL)
	client := redis.NewClient(opts)

	ping := func(ctx context.Context) error { return client.Ping(ctx).Err() }
	ctxConn, span := tracer.Start(ctx, "Connect", trace.WithAttributes(attribute.String("addr", opts.Addr)))
	if err := backoff.Execute(ctxConn, "redis_connect", cfg.Backoff, log, ping); err != nil {
		span.RecordError(err)
		span.End()
		_ = client.Close()
		return nil, fmt.Errorf("redis connect: %w", err)
	}
	span.End()
	log.Info("redis: connected", zap.String("addr", opts.Addr), zap.Int("db", opts.DB))

	return &redisStore{
		client:     client,
		ttl:        cfg.TTL,
		log:        log,
		backoffCfg: cfg.Backoff,
	}, nil
}

func (r *redisStore) Get(ctx context.Context, key string) ([]byte, error) {
	ctxOp, span := tracer.Start(ctx, "Get", trace.WithAttributes(attribute.String("key", key)))
	defer span.End()
	start := time.Now()

	var data []byte
	op := func(ctx context.Context) error {
		val, err := r.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return backoff.Permanent(ErrNotFound)
		}
		if err != nil {
			return err
		}
		data = val
		return nil
	}
	if err := backoff.Execute(ctxOp, "redis_get", r.backoffCfg, r.log, op); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		redisMetrics.GetErrors.Inc()
		r.log.WithContext(ctx).Error("redis GET failed", zap.String("key", key), zap.Error(err))
		span.RecordError(err)
		return nil, err
	}
	redisMetrics.OperationLatency.WithLabelValues("get").Observe(time.Since(start).Seconds())
	return data, nil
}

func (r *redisStore) Set(ctx context.Context, key string, value []byte) error {
	ctxOp, span := tracer.Start(ctx, "Set", trace.WithAttributes(attribute.String("key", key)))
	defer span.End()
	start := time.Now()

	op := func(ctx context.Context) error {
		return r.client.Set(ctx, key, value, r.ttl).Err()
	}
	if err := backoff.Execute(ctxOp, "redis_set", r.backoffCfg, r.log, op); err != nil {
		redisMetrics.SetErrors.Inc()
		r.log.WithContext(ctx).Error("redis SET failed", zap.String("key", key), zap.Error(err))
		span.RecordError(err)
		return err
	}
	redisMetrics.OperationLatency.WithLabelValues("set").Observe(time.Since(start).Seconds())
	return nil
}

func (r *redisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *redisStore) Close() error {
	return r.client.Close()
}
