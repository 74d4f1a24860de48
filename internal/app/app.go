// internal/app/app.go
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/YaganovValera/livefeed/internal/config"
	"github.com/YaganovValera/livefeed/internal/metrics"
	"github.com/YaganovValera/livefeed/internal/presenter"
	"github.com/YaganovValera/livefeed/internal/sink"
	transporthttp "github.com/YaganovValera/livefeed/internal/transport/http"
	"github.com/YaganovValera/livefeed/pkg/feed"
	"github.com/YaganovValera/livefeed/pkg/httpserver"
	"github.com/YaganovValera/livefeed/pkg/kafka"
	"github.com/YaganovValera/livefeed/pkg/logger"
	"github.com/YaganovValera/livefeed/pkg/rate"
	"github.com/YaganovValera/livefeed/pkg/redis"
	"github.com/YaganovValera/livefeed/pkg/series"
	"github.com/YaganovValera/livefeed/pkg/serviceid"
	"github.com/YaganovValera/livefeed/pkg/shutdown"
	"github.com/YaganovValera/livefeed/pkg/telemetry"
)

const teardownTimeout = 10 * time.Second

// Run wires the pipeline and blocks until ctx is cancelled or a component
// fails for good.
func Run(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	serviceid.Init(cfg.ServiceName)
	metrics.Register(nil)

	cfg.Telemetry.ServiceName = cfg.ServiceName
	cfg.Telemetry.ServiceVersion = cfg.ServiceVersion
	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.Telemetry, log)
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}

	var teardown []shutdown.Step
	defer func() {
		// reverse order: last started, first stopped
		for i, j := 0, len(teardown)-1; i < j; i, j = i+1, j-1 {
			teardown[i], teardown[j] = teardown[j], teardown[i]
		}
		teardown = append(teardown, shutdown.Step{Name: "telemetry", Fn: shutdownTracer})
		_ = shutdown.Run(teardownTimeout, log, teardown...)
	}()

	// 1) window and presenter
	mode := "value"
	if cfg.Rate.Enabled {
		mode = "rate"
	}
	buf, err := series.New(cfg.Window.Capacity, seriesOptions(cfg, mode, log)...)
	if err != nil {
		return fmt.Errorf("window init: %w", err)
	}
	ticker := presenter.NewTicker(log)
	buf.AddListener(ticker)

	// 2) optional sinks
	downstream := []feed.Observer{buf}
	var runners []func(context.Context) error

	if cfg.Kafka.Enabled {
		prod, err := kafka.New(ctx, cfg.Kafka.Config, log)
		if err != nil {
			return fmt.Errorf("kafka producer init: %w", err)
		}
		teardown = append(teardown, shutdown.Step{Name: "kafka-producer", Fn: func(context.Context) error { return prod.Close() }})
		ks := sink.NewKafka(prod, cfg.Kafka.Topic, cfg.Feed.URL, cfg.Kafka.QueueSize, log)
		downstream = append(downstream, ks)
		runners = append(runners, ks.Run)
	}
	if cfg.Redis.Enabled {
		store, err := redis.New(ctx, cfg.Redis.Config, log)
		if err != nil {
			return fmt.Errorf("redis init: %w", err)
		}
		teardown = append(teardown, shutdown.Step{Name: "redis", Fn: func(context.Context) error { return store.Close() }})
		rs := sink.NewLatest(store, cfg.Redis.Key, log)
		buf.AddListener(rs)
		runners = append(runners, rs.Run)
	}

	// 3) connector and supervisor
	dec, err := cfg.Feed.BuildDecoder()
	if err != nil {
		return fmt.Errorf("decoder init: %w", err)
	}
	attach, err := sessionObservers(cfg, downstream, log)
	if err != nil {
		return err
	}

	var sup *Supervisor
	conn, err := feed.NewConnector(cfg.Feed.URL,
		feed.WithDecoder(dec),
		feed.WithDialer(feed.NewWebSocketDialer(cfg.Feed.WebSocketConfig, log)),
		feed.WithValidation(cfg.Feed.BuildValidation()),
		feed.WithFrameBuffer(cfg.Feed.FrameBuffer),
		feed.WithWarnLimit(cfg.Feed.WarnLimit, cfg.Feed.WarnBurst),
		feed.WithLogger(log),
		feed.WithStateHook(ticker.OnState),
		feed.WithStateHook(func(tr feed.Transition) { sup.OnState(tr) }),
	)
	if err != nil {
		return fmt.Errorf("connector init: %w", err)
	}
	sup = NewSupervisor(conn, attach, cfg.Restart, log)
	teardown = append(teardown, shutdown.Step{Name: "feed-connector", Fn: func(ctx context.Context) error {
		conn.Stop()
		return conn.Wait(ctx)
	}})

	// 4) HTTP
	readiness := func() error {
		if st := conn.Status(); st.State != feed.Open {
			if st.Err != nil {
				return fmt.Errorf("feed %s: %w", st.State, st.Err)
			}
			return fmt.Errorf("feed %s", st.State)
		}
		return nil
	}
	api := transporthttp.NewHandler(buf, conn, ticker, mode)
	httpSrv, err := httpserver.New(cfg.HTTP, readiness, log, api.Routes)
	if err != nil {
		return fmt.Errorf("httpserver init: %w", err)
	}

	log.Info("livefeed starting",
		zap.String("endpoint", conn.Endpoint()),
		zap.String("mode", mode),
		zap.Int("window", buf.Cap()),
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return httpSrv.Start(ctx) })
	g.Go(func() error { return sup.Run(ctx) })
	for _, run := range runners {
		run := run
		g.Go(func() error { return run(ctx) })
	}

	if err := g.Wait(); err != nil {
		if errors.Is(err, context.Canceled) {
			log.Info("livefeed stopped by context")
			return nil
		}
		return err
	}
	return nil
}

func seriesOptions(cfg *config.Config, name string, log *logger.Logger) []series.Option {
	opts := []series.Option{series.WithLogger(log), series.WithName(name)}
	if cfg.Window.Snapshots {
		opts = append(opts, series.WithSnapshots())
	}
	return opts
}

// sessionObservers returns the per-session observer factory. In rate mode
// every session gets its own sampler in front of the downstream observers;
// the samplers share one sequence so Seq keeps increasing across reconnects.
func sessionObservers(cfg *config.Config, downstream []feed.Observer, log *logger.Logger) (func() []feed.Observer, error) {
	if !cfg.Rate.Enabled {
		return func() []feed.Observer { return downstream }, nil
	}
	if cfg.Rate.Interval <= 0 {
		return nil, rate.ErrInvalidInterval
	}
	seq := &rate.Sequence{}
	return func() []feed.Observer {
		s, err := rate.NewSampler(cfg.Rate.Interval, log, rate.WithSequence(seq))
		if err != nil {
			log.Error("sampler init", zap.Error(err))
			return downstream
		}
		for _, obs := range downstream {
			s.Subscribe(obs)
		}
		return []feed.Observer{s}
	}, nil
}
