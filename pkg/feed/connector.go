// pkg/feed/connector.go
package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/YaganovValera/livefeed/pkg/logger"
)

var tracer = otel.Tracer("livefeed/feed")

const defaultFrameBuffer = 64

type options struct {
	decoder     Decoder
	dialer      Dialer
	log         *logger.Logger
	frameBuffer int
	validation  Validation
	hooks       []func(Transition)
	now         func() time.Time
	warnLimit   rate.Limit
	warnBurst   int
}

// Option configures a Connector.
type Option func(*options)

// WithDecoder sets the frame decoder. Default: TextDecoder.
func WithDecoder(d Decoder) Option { return func(o *options) { o.decoder = d } }

// WithDialer replaces the default websocket dialer.
func WithDialer(d Dialer) Option { return func(o *options) { o.dialer = d } }

// WithLogger sets the logger. Default: no-op.
func WithLogger(l *logger.Logger) Option { return func(o *options) { o.log = l } }

// WithFrameBuffer bounds the queue between the reader and the broadcaster.
func WithFrameBuffer(n int) Option { return func(o *options) { o.frameBuffer = n } }

// WithValidation sets the policy applied to every decoded value.
func WithValidation(v Validation) Option { return func(o *options) { o.validation = v } }

// WithWarnLimit caps decode-failure warnings at perSecond with the given
// burst. Failures over the limit are logged at debug level and still counted.
// Zero disables the cap.
func WithWarnLimit(perSecond float64, burst int) Option {
	return func(o *options) { o.warnLimit, o.warnBurst = rate.Limit(perSecond), burst }
}

// WithStateHook registers fn for every state transition. Hooks run in
// transition order on the goroutine that caused the change and must not
// call Start, StartWith or Stop synchronously.
func WithStateHook(fn func(Transition)) Option {
	return func(o *options) { o.hooks = append(o.hooks, fn) }
}

// WithClock overrides the arrival timestamp source.
func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

// Connector owns at most one live connection to a streaming endpoint and
// republishes decoded values to its subscribers. Each session (Start until
// Closed or Failed) has its own stream; subscribers of a finished session
// receive its terminal signal and nothing after it.
type Connector struct {
	endpoint *url.URL
	opts     options
	log      *logger.Logger
	seq      atomic.Uint64
	warn     *rate.Limiter

	mu      sync.Mutex
	state   State
	err     error
	bc      *Broadcaster
	next    *Broadcaster
	restart bool
	cancel  context.CancelFunc
	done    chan struct{}

	hookMu sync.Mutex
}

// NewConnector validates endpoint and returns an Idle connector. Nothing is
// dialed until Start.
func NewConnector(endpoint string, opts ...Option) (*Connector, error) {
	o := options{
		decoder:     TextDecoder{},
		frameBuffer: defaultFrameBuffer,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logger.NewNop()
	}
	if o.dialer == nil {
		o.dialer = NewWebSocketDialer(WebSocketConfig{}, o.log)
	}
	if o.decoder == nil {
		o.decoder = TextDecoder{}
	}
	if o.frameBuffer <= 0 {
		o.frameBuffer = defaultFrameBuffer
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
	}
	if !u.IsAbs() || u.Host == "" {
		return nil, fmt.Errorf("%w: %q is not an absolute URL", ErrInvalidEndpoint, endpoint)
	}
	if sc, ok := o.dialer.(schemeChecker); ok && !slices.Contains(sc.Schemes(), u.Scheme) {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidEndpoint, u.Scheme)
	}

	c := &Connector{
		endpoint: u,
		opts:     o,
		log:      o.log.Named("feed").With(zap.String("endpoint", u.Redacted())),
		bc:       NewBroadcaster(),
	}
	if o.warnLimit > 0 {
		burst := o.warnBurst
		if burst <= 0 {
			burst = 1
		}
		c.warn = rate.NewLimiter(o.warnLimit, burst)
	}
	return c, nil
}

// Endpoint returns the configured URL.
func (c *Connector) Endpoint() string { return c.endpoint.String() }

// Status returns the current state and, in Failed, the reason.
func (c *Connector) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{State: c.state, Err: c.err}
}

// Subscribe registers obs on the current stream without replay.
func (c *Connector) Subscribe(obs Observer) *Subscription {
	c.mu.Lock()
	sub, late := c.bc.attach(obs)
	c.mu.Unlock()
	if late != nil {
		late()
	}
	return sub
}

// Start opens a connection in the background. It is a no-op while
// Connecting or Open. During Closing the restart is deferred until the close
// completes; a Stop before then cancels it.
func (c *Connector) Start() { c.StartWith() }

// StartWith is Start plus subscribing observers to the session it launches,
// so they see that session from its first value.
func (c *Connector) StartWith(observers ...Observer) []*Subscription {
	c.mu.Lock()

	var (
		target *Broadcaster
		trans  []Transition
		launch bool
	)
	switch c.state {
	case Idle, Closed, Failed:
		if c.state != Idle {
			c.bc = NewBroadcaster()
		}
		target, launch = c.bc, true
	case Connecting, Open:
		target = c.bc
	case Closing:
		if c.next == nil {
			c.next = NewBroadcaster()
		}
		c.restart = true
		target = c.next
		c.log.Info("feed: restart deferred until close completes")
	}

	subs := make([]*Subscription, 0, len(observers))
	var late []func()
	for _, obs := range observers {
		s, l := target.attach(obs)
		subs = append(subs, s)
		if l != nil {
			late = append(late, l)
		}
	}
	if launch {
		trans = append(trans, c.launchLocked())
	}
	c.unlockAndNotify(trans...)

	for _, l := range late {
		l()
	}
	return subs
}

// Stop closes the connection gracefully. Values already read are delivered
// before the completion signal. No-op unless Connecting, Open or Closing.
func (c *Connector) Stop() {
	c.mu.Lock()
	var (
		trans  []Transition
		orphan *Broadcaster
	)
	switch c.state {
	case Connecting, Open:
		trans = append(trans, c.setLocked(Closing, nil))
		c.cancel()
	case Closing:
		if c.restart {
			c.restart = false
			orphan, c.next = c.next, nil
			c.log.Info("feed: deferred restart cancelled")
		}
	}
	c.unlockAndNotify(trans...)

	if orphan != nil {
		orphan.Complete()
	}
}

// Wait blocks until no session is running or ctx is done.
func (c *Connector) Wait(ctx context.Context) error {
	for {
		c.mu.Lock()
		done := c.done
		c.mu.Unlock()
		if done == nil {
			return nil
		}
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Connector) setLocked(s State, err error) Transition {
	t := Transition{From: c.state, To: s, Err: err}
	c.state, c.err = s, err
	return t
}

func (c *Connector) launchLocked() Transition {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.cancel, c.done = cancel, done
	t := c.setLocked(Connecting, nil)
	go c.session(ctx, c.bc, done)
	return t
}

// unlockAndNotify releases c.mu and runs hooks. hookMu is taken before the
// release so hooks observe transitions in the order they happened.
func (c *Connector) unlockAndNotify(trans ...Transition) {
	if len(trans) == 0 {
		c.mu.Unlock()
		return
	}
	c.hookMu.Lock()
	c.mu.Unlock()
	defer c.hookMu.Unlock()

	for _, t := range trans {
		fields := []zap.Field{zap.Stringer("from", t.From), zap.Stringer("to", t.To)}
		if t.Err != nil {
			fields = append(fields, zap.Error(t.Err))
		}
		c.log.Debug("feed: state change", fields...)
		for _, h := range c.opts.hooks {
			h(t)
		}
	}
}

func (c *Connector) session(ctx context.Context, bc *Broadcaster, done chan struct{}) {
	defer close(done)

	err := c.stream(ctx, bc)
	if err != nil {
		bc.Fail(err)
	} else {
		bc.Complete()
	}

	c.mu.Lock()
	final := Closed
	if err != nil {
		final = Failed
	}
	sessions.WithLabelValues(final.String()).Inc()
	trans := []Transition{c.setLocked(final, err)}
	c.cancel()
	c.cancel, c.done = nil, nil
	if c.restart {
		c.restart = false
		c.bc, c.next = c.next, nil
		trans = append(trans, c.launchLocked())
	}
	c.unlockAndNotify(trans...)
}

// stream runs one connection to completion. A nil result means a graceful
// end: Stop was called or the peer closed normally.
func (c *Connector) stream(ctx context.Context, bc *Broadcaster) (err error) {
	ctx, span := tracer.Start(ctx, "feed.session",
		trace.WithAttributes(attribute.String("endpoint", c.endpoint.Redacted())))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	c.log.Info("feed: connecting")
	tr, err := c.dial(ctx)
	if err != nil {
		if ctx.Err() != nil {
			connects.WithLabelValues("cancelled").Inc()
			c.log.Info("feed: dial cancelled by stop")
			return nil
		}
		connects.WithLabelValues("error").Inc()
		c.log.Error("feed: dial failed", zap.Error(err))
		return &TransportError{Op: "dial", Err: err}
	}
	connects.WithLabelValues("ok").Inc()

	c.mu.Lock()
	if c.state == Connecting {
		t := c.setLocked(Open, nil)
		c.unlockAndNotify(t)
		c.log.Info("feed: open")
	} else {
		c.mu.Unlock()
	}

	stopWatch := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = tr.Close()
		case <-stopWatch:
		}
	}()

	points := make(chan DataPoint, c.opts.frameBuffer)
	readErr := make(chan error, 1)
	go func() { readErr <- c.read(tr, points) }()

	for p := range points {
		frameQueue.Set(float64(len(points)))
		bc.Publish(p)
		values.Inc()
	}
	rerr := <-readErr
	close(stopWatch)
	_ = tr.Close()
	frameQueue.Set(0)

	switch {
	case ctx.Err() != nil:
		c.log.Info("feed: closed", zap.Uint64("last_seq", c.seq.Load()))
		return nil
	case errors.Is(rerr, io.EOF):
		c.log.Info("feed: closed by peer", zap.Uint64("last_seq", c.seq.Load()))
		return nil
	default:
		c.log.Error("feed: read failed", zap.Error(rerr))
		return &TransportError{Op: "read", Err: rerr}
	}
}

func (c *Connector) dial(ctx context.Context) (Transport, error) {
	ctx, span := tracer.Start(ctx, "feed.dial")
	defer span.End()
	tr, err := c.opts.dialer.Dial(ctx, c.endpoint)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return tr, nil
}

// read pulls frames until the transport fails or is closed. Values are
// handed over in arrival order; the channel blocks when full.
func (c *Connector) read(tr Transport, out chan<- DataPoint) error {
	defer close(out)
	for {
		f, err := tr.ReadFrame()
		if err != nil {
			return err
		}
		frames.WithLabelValues(f.Kind.String()).Inc()

		v, err := c.opts.decoder.Decode(f)
		if err == nil {
			err = c.opts.validation.Check(v)
		}
		if err != nil {
			if errors.Is(err, ErrFiltered) {
				dropped.WithLabelValues("filtered").Inc()
				c.log.Debug("feed: frame filtered", zap.Error(err))
				continue
			}
			dropped.WithLabelValues("decode").Inc()
			fields := []zap.Field{
				zap.Error(err),
				zap.Stringer("kind", f.Kind),
				zap.Int("bytes", len(f.Payload)),
			}
			if c.warn != nil && !c.warn.Allow() {
				c.log.Debug("feed: frame dropped", fields...)
				continue
			}
			c.log.Warn("feed: frame dropped", fields...)
			continue
		}

		out <- DataPoint{Seq: c.seq.Add(1), Value: v, ReceivedAt: c.opts.now()}
	}
}
