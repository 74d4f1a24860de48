// pkg/rate/sampler.go

// Package rate turns a value stream into a per-second rate stream by
// counting values over fixed intervals.
package rate

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/YaganovValera/livefeed/pkg/feed"
	"github.com/YaganovValera/livefeed/pkg/logger"
)

// DefaultInterval is the bucket length used when none is given.
const DefaultInterval = 5 * time.Second

// ErrInvalidInterval is returned for intervals <= 0.
var ErrInvalidInterval = errors.New("rate: interval must be positive")

// Sequence numbers rate values. Samplers that share one keep Seq increasing
// across upstream sessions.
type Sequence struct{ n atomic.Uint64 }

// Next returns the next number, starting at 1.
func (q *Sequence) Next() uint64 { return q.n.Add(1) }

// Option configures a Sampler.
type Option func(*Sampler)

// WithSequence makes the sampler draw Seq values from q instead of its own
// counter.
func WithSequence(q *Sequence) Option {
	return func(s *Sampler) {
		if q != nil {
			s.seq = q
		}
	}
}

// Sampler observes an upstream stream and publishes count/interval once per
// interval, including zero for quiet intervals. On upstream completion the
// partial bucket is flushed before the completion is forwarded; an upstream
// error is forwarded as is. A Sampler serves one upstream session.
type Sampler struct {
	interval time.Duration
	bc       *feed.Broadcaster
	log      *logger.Logger
	now      func() time.Time

	emitMu sync.Mutex // serialises concurrent terminations

	seq *Sequence

	mu    sync.Mutex
	count int
	done  bool

	stopOnce sync.Once
	stop     chan struct{}
	stopped  chan struct{}
	stopTick func()
}

// NewSampler starts a sampler with its own ticker. log may be nil.
func NewSampler(interval time.Duration, log *logger.Logger, opts ...Option) (*Sampler, error) {
	if interval <= 0 {
		return nil, ErrInvalidInterval
	}
	t := time.NewTicker(interval)
	return newSampler(interval, t.C, t.Stop, time.Now, log, opts...), nil
}

func newSampler(interval time.Duration, tick <-chan time.Time, stopTick func(), now func() time.Time, log *logger.Logger, opts ...Option) *Sampler {
	if log == nil {
		log = logger.NewNop()
	}
	s := &Sampler{
		interval: interval,
		bc:       feed.NewBroadcaster(),
		log:      log.Named("rate"),
		now:      now,
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
		stopTick: stopTick,
		seq:      &Sequence{},
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.loop(tick)
	return s
}

// Interval returns the bucket length.
func (s *Sampler) Interval() time.Duration { return s.interval }

// Subscribe registers obs for rate values.
func (s *Sampler) Subscribe(obs feed.Observer) *feed.Subscription { return s.bc.Subscribe(obs) }

// OnValue counts one upstream value.
func (s *Sampler) OnValue(feed.DataPoint) {
	s.mu.Lock()
	if !s.done {
		s.count++
	}
	s.mu.Unlock()
}

// OnComplete flushes the partial bucket, then completes downstream.
func (s *Sampler) OnComplete() { s.terminate(nil, true) }

// OnError forwards err downstream without flushing.
func (s *Sampler) OnError(err error) { s.terminate(err, false) }

// Close stops the ticker and completes downstream without a final flush.
func (s *Sampler) Close() { s.terminate(nil, false) }

func (s *Sampler) loop(tick <-chan time.Time) {
	defer close(s.stopped)
	for {
		select {
		case <-s.stop:
			return
		case at := <-tick:
			s.emit(at, false)
		}
	}
}

// emit publishes the current bucket. With final set it also marks the
// sampler done so no later bucket is published.
func (s *Sampler) emit(at time.Time, final bool) bool {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return false
	}
	n := s.count
	s.count = 0
	seq := s.seq.Next()
	if final {
		s.done = true
	}
	s.mu.Unlock()

	v := float64(n) / s.interval.Seconds()
	s.log.Debug("rate: bucket", zap.Int("count", n), zap.Float64("per_second", v))
	s.bc.Publish(feed.DataPoint{Seq: seq, Value: v, ReceivedAt: at})
	return true
}

func (s *Sampler) terminate(err error, flush bool) {
	s.stopOnce.Do(func() {
		close(s.stop)
		if s.stopTick != nil {
			s.stopTick()
		}
	})
	<-s.stopped

	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	if flush {
		if !s.emit(s.now(), true) {
			return
		}
	} else {
		s.mu.Lock()
		already := s.done
		s.done = true
		s.mu.Unlock()
		if already {
			return
		}
	}
	if err != nil {
		s.bc.Fail(err)
		return
	}
	s.bc.Complete()
}
