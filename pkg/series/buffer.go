// pkg/series/buffer.go

// Package series keeps a fixed-size recency window over a value stream.
package series

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/YaganovValera/livefeed/pkg/feed"
	"github.com/YaganovValera/livefeed/pkg/logger"
)

// ErrInvalidCapacity is returned by New for capacity <= 0.
var ErrInvalidCapacity = errors.New("series: capacity must be positive")

// Update describes one OnValue call. Window is set only for buffers built
// with WithSnapshots.
type Update struct {
	Point   feed.DataPoint
	Len     int
	Evicted *feed.DataPoint
	Window  []feed.DataPoint
}

// Listener is notified synchronously on every buffer event.
type Listener interface {
	WindowUpdated(Update)
	Completed()
	Failed(error)
}

// ListenerFuncs adapts plain functions to Listener. Nil fields are ignored.
type ListenerFuncs struct {
	Updated  func(Update)
	Complete func()
	Fail     func(error)
}

func (l ListenerFuncs) WindowUpdated(u Update) {
	if l.Updated != nil {
		l.Updated(u)
	}
}

func (l ListenerFuncs) Completed() {
	if l.Complete != nil {
		l.Complete()
	}
}

func (l ListenerFuncs) Failed(err error) {
	if l.Fail != nil {
		l.Fail(err)
	}
}

// Option configures a Buffer.
type Option func(*Buffer)

// WithSnapshots attaches a full window copy to every Update.
func WithSnapshots() Option { return func(b *Buffer) { b.snapshots = true } }

// WithLogger sets the logger used for lifecycle messages.
func WithLogger(l *logger.Logger) Option { return func(b *Buffer) { b.log = l } }

// WithName labels the buffer's metrics.
func WithName(name string) Option { return func(b *Buffer) { b.name = name } }

// Buffer is a FIFO ring of the most recent capacity points. It implements
// feed.Observer so it can subscribe to a Connector directly, and it outlives
// sessions: completion and failure are forwarded but leave the window intact.
type Buffer struct {
	capacity  int
	snapshots bool
	name      string
	log       *logger.Logger

	// writeMu serialises OnValue end to end so listeners see updates in
	// append order.
	writeMu sync.Mutex

	mu   sync.RWMutex
	ring []feed.DataPoint
	head int // index of the oldest point
	size int

	lmu       sync.RWMutex
	listeners []*listenerEntry
}

type listenerEntry struct{ l Listener }

// New returns an empty buffer holding at most capacity points.
func New(capacity int, opts ...Option) (*Buffer, error) {
	if capacity <= 0 {
		return nil, ErrInvalidCapacity
	}
	b := &Buffer{
		capacity: capacity,
		ring:     make([]feed.DataPoint, capacity),
		name:     "window",
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.log == nil {
		b.log = logger.NewNop()
	}
	b.log = b.log.Named("series")
	windowCapacity.WithLabelValues(b.name).Set(float64(capacity))
	return b, nil
}

// AddListener registers l and returns a function that removes it.
func (b *Buffer) AddListener(l Listener) (remove func()) {
	e := &listenerEntry{l: l}
	b.lmu.Lock()
	b.listeners = append(b.listeners, e)
	b.lmu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.lmu.Lock()
			defer b.lmu.Unlock()
			for i, cur := range b.listeners {
				if cur == e {
					b.listeners = append(b.listeners[:i:i], b.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

func (b *Buffer) currentListeners() []*listenerEntry {
	b.lmu.RLock()
	defer b.lmu.RUnlock()
	return append([]*listenerEntry(nil), b.listeners...)
}

// OnValue appends p, evicting the oldest point first when full, then
// notifies every listener.
func (b *Buffer) OnValue(p feed.DataPoint) {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	b.mu.Lock()
	var evicted *feed.DataPoint
	if b.size == b.capacity {
		old := b.ring[b.head]
		evicted = &old
		b.ring[b.head] = p
		b.head = (b.head + 1) % b.capacity
	} else {
		b.ring[(b.head+b.size)%b.capacity] = p
		b.size++
	}
	u := Update{Point: p, Len: b.size, Evicted: evicted}
	if b.snapshots {
		u.Window = b.windowLocked()
	}
	b.mu.Unlock()

	windowLength.WithLabelValues(b.name).Set(float64(u.Len))
	if evicted != nil {
		evictions.WithLabelValues(b.name).Inc()
	}
	for _, e := range b.currentListeners() {
		e.l.WindowUpdated(u)
	}
}

// OnComplete forwards the completion signal. The window is untouched.
func (b *Buffer) OnComplete() {
	b.log.Debug("series: upstream completed", zap.Int("len", b.Len()))
	for _, e := range b.currentListeners() {
		e.l.Completed()
	}
}

// OnError forwards err. The window is untouched.
func (b *Buffer) OnError(err error) {
	b.log.Debug("series: upstream failed", zap.Error(err), zap.Int("len", b.Len()))
	for _, e := range b.currentListeners() {
		e.l.Failed(err)
	}
}

// Window returns a copy of the buffered points, oldest first.
func (b *Buffer) Window() []feed.DataPoint {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.windowLocked()
}

// Tail returns a copy of the newest n points, oldest first.
func (b *Buffer) Tail(n int) []feed.DataPoint {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if n <= 0 {
		return []feed.DataPoint{}
	}
	if n > b.size {
		n = b.size
	}
	out := make([]feed.DataPoint, n)
	start := b.head + b.size - n
	for i := 0; i < n; i++ {
		out[i] = b.ring[(start+i)%b.capacity]
	}
	return out
}

func (b *Buffer) windowLocked() []feed.DataPoint {
	out := make([]feed.DataPoint, b.size)
	for i := 0; i < b.size; i++ {
		out[i] = b.ring[(b.head+i)%b.capacity]
	}
	return out
}

// Latest returns the newest point, if any.
func (b *Buffer) Latest() (feed.DataPoint, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.size == 0 {
		return feed.DataPoint{}, false
	}
	return b.ring[(b.head+b.size-1)%b.capacity], true
}

// Len returns the number of buffered points.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// Cap returns the fixed capacity.
func (b *Buffer) Cap() int { return b.capacity }
