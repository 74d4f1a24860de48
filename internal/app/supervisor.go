// internal/app/supervisor.go
package app

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/YaganovValera/livefeed/internal/config"
	"github.com/YaganovValera/livefeed/internal/metrics"
	"github.com/YaganovValera/livefeed/pkg/backoff"
	"github.com/YaganovValera/livefeed/pkg/feed"
	"github.com/YaganovValera/livefeed/pkg/logger"
)

// Conn is the part of *feed.Connector the supervisor drives.
type Conn interface {
	StartWith(observers ...feed.Observer) []*feed.Subscription
	Stop()
	Wait(ctx context.Context) error
	Status() feed.Status
}

// errNeverOpened marks a session that failed before reaching Open.
var errNeverOpened = errors.New("session failed before opening")

// Supervisor starts sessions and, when enabled, restarts them after a
// failure. Consecutive failures to open are paced by back-off; a session
// that reached Open resets the back-off.
type Supervisor struct {
	conn    Conn
	attach  func() []feed.Observer
	restart config.RestartConfig
	log     *logger.Logger

	opened atomic.Bool
}

// NewSupervisor builds a supervisor. attach returns the observers for each
// new session.
func NewSupervisor(conn Conn, attach func() []feed.Observer, restart config.RestartConfig, log *logger.Logger) *Supervisor {
	return &Supervisor{conn: conn, attach: attach, restart: restart, log: log.Named("supervisor")}
}

// OnState must be installed as a connector state hook.
func (s *Supervisor) OnState(tr feed.Transition) {
	if tr.To == feed.Open {
		s.opened.Store(true)
	}
}

// Run blocks until ctx is done, or until restarts are exhausted.
func (s *Supervisor) Run(ctx context.Context) error {
	stopped := make(chan struct{})
	defer close(stopped)
	go func() {
		select {
		case <-ctx.Done():
			s.conn.Stop()
		case <-stopped:
		}
	}()

	if !s.restart.Enabled {
		if err := s.session(ctx); err != nil && ctx.Err() == nil {
			s.log.Warn("feed session ended, restart disabled", zap.Error(err))
		}
		<-ctx.Done()
		return nil
	}

	for first := true; ; first = false {
		if !first {
			metrics.Restarts.Inc()
		}
		err := backoff.Execute(ctx, "feed_session", s.restart.Backoff, s.log, s.session)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return fmt.Errorf("feed restarts exhausted: %w", err)
		}

		st := s.conn.Status()
		if st.State != feed.Failed {
			s.log.Info("feed closed by peer, not restarting", zap.Stringer("state", st.State))
			<-ctx.Done()
			return nil
		}
		s.log.Warn("open session failed, reconnecting", zap.Error(st.Err))
		if !sleep(ctx, s.pause()) {
			return nil
		}
	}
}

// session runs one connection to its end. It succeeds when the session
// reached Open or closed gracefully.
func (s *Supervisor) session(ctx context.Context) error {
	s.opened.Store(false)
	s.conn.StartWith(s.attach()...)
	if ctx.Err() != nil {
		s.conn.Stop()
	}
	if err := s.conn.Wait(ctx); err != nil {
		return backoff.Permanent(err)
	}
	st := s.conn.Status()
	if st.State == feed.Failed && !s.opened.Load() {
		return fmt.Errorf("%w: %v", errNeverOpened, st.Err)
	}
	return nil
}

func (s *Supervisor) pause() time.Duration {
	if d := s.restart.Backoff.InitialInterval; d > 0 {
		return d
	}
	return time.Second
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
