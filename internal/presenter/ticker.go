// internal/presenter/ticker.go

// Package presenter keeps the read model shown next to the window: the latest
// value and a connection indicator.
package presenter

import (
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/YaganovValera/livefeed/pkg/feed"
	"github.com/YaganovValera/livefeed/pkg/logger"
	"github.com/YaganovValera/livefeed/pkg/series"
)

// Indicator summarizes the connection for display.
type Indicator string

const (
	Connected    Indicator = "connected"
	Disconnected Indicator = "disconnected"
	Errored      Indicator = "error"
)

// Snapshot is a consistent copy of the ticker state.
type Snapshot struct {
	Indicator Indicator  `json:"indicator"`
	State     string     `json:"state"`
	Error     string     `json:"error,omitempty"`
	Latest    *float64   `json:"latest,omitempty"` // nil for NaN and ±Inf
	Seq       uint64     `json:"seq,omitempty"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
	Sessions  int        `json:"sessions"`
	Values    uint64     `json:"values"`
}

// Ticker listens to a series.Buffer and to connector transitions.
type Ticker struct {
	log *logger.Logger

	mu       sync.RWMutex
	state    feed.State
	err      error
	latest   *feed.DataPoint
	sessions int
	values   uint64
}

// NewTicker returns a ticker in the disconnected state.
func NewTicker(log *logger.Logger) *Ticker {
	if log == nil {
		log = logger.NewNop()
	}
	return &Ticker{log: log.Named("ticker"), state: feed.Idle}
}

// WindowUpdated records the newest point.
func (t *Ticker) WindowUpdated(u series.Update) {
	p := u.Point
	t.mu.Lock()
	t.latest = &p
	t.values++
	t.mu.Unlock()
	t.log.Debug("latest",
		zap.Uint64("seq", p.Seq),
		zap.Float64("value", p.Value),
		zap.Int("window", u.Len),
	)
}

// Completed is a no-op: the indicator follows state transitions.
func (t *Ticker) Completed() {}

// Failed logs the stream error; the indicator follows state transitions.
func (t *Ticker) Failed(err error) {
	t.log.Warn("stream failed", zap.Error(err))
}

// OnState is installed as the connector's state hook.
func (t *Ticker) OnState(tr feed.Transition) {
	t.mu.Lock()
	t.state = tr.To
	switch tr.To {
	case feed.Connecting:
		t.err = nil
	case feed.Open:
		t.sessions++
	case feed.Failed:
		t.err = tr.Err
	}
	t.mu.Unlock()

	fields := []zap.Field{
		zap.Stringer("from", tr.From),
		zap.Stringer("to", tr.To),
		zap.String("indicator", string(indicatorOf(tr.To))),
	}
	if tr.Err != nil {
		t.log.Warn("connection state", append(fields, zap.Error(tr.Err))...)
		return
	}
	t.log.Info("connection state", fields...)
}

// Indicator reports the current connection indicator.
func (t *Ticker) Indicator() Indicator {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return indicatorOf(t.state)
}

// Snapshot returns a copy of the current state.
func (t *Ticker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s := Snapshot{
		Indicator: indicatorOf(t.state),
		State:     t.state.String(),
		Sessions:  t.sessions,
		Values:    t.values,
	}
	if t.err != nil {
		s.Error = t.err.Error()
	}
	if t.latest != nil {
		v, at := t.latest.Value, t.latest.ReceivedAt
		s.Seq, s.UpdatedAt = t.latest.Seq, &at
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			s.Latest = &v
		}
	}
	return s
}

func indicatorOf(s feed.State) Indicator {
	switch s {
	case feed.Open:
		return Connected
	case feed.Failed:
		return Errored
	default:
		return Disconnected
	}
}
