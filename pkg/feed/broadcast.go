// pkg/feed/broadcast.go
package feed

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	ID uuid.UUID

	once   sync.Once
	detach func()
}

// Dispose detaches the observer. It is idempotent and safe to call from
// inside the observer's own callbacks, in which case nothing further is
// delivered. Called from another goroutine while a Publish is running, at
// most the one value already being handed to the observer may still arrive
// after Dispose returns.
func (s *Subscription) Dispose() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		if s.detach != nil {
			s.detach()
		}
	})
}

type subscriber struct {
	id     uuid.UUID
	obs    Observer
	active atomic.Bool
}

// Broadcaster fans values out to registered observers. Publish, Complete and
// Fail must be called from one goroutine; Subscribe and Dispose may be
// called from anywhere. Each observer sees values in publish order.
// After the first terminal call the broadcaster delivers nothing more.
type Broadcaster struct {
	mu   sync.Mutex
	subs []*subscriber
	done bool
	err  error
}

// NewBroadcaster returns an empty, live broadcaster.
func NewBroadcaster() *Broadcaster { return &Broadcaster{} }

// Subscribe registers obs for values published from now on. If the
// broadcaster already terminated, obs receives the terminal signal at once.
func (b *Broadcaster) Subscribe(obs Observer) *Subscription {
	sub, late := b.attach(obs)
	if late != nil {
		late()
	}
	return sub
}

// attach registers obs without invoking any callback. A non-nil func is
// returned when the broadcaster already terminated; the caller runs it
// once no locks are held.
func (b *Broadcaster) attach(obs Observer) (*Subscription, func()) {
	s := &subscriber{id: uuid.New(), obs: obs}
	sub := &Subscription{ID: s.id}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done {
		err := b.err
		return sub, func() { deliverTerminal(obs, err) }
	}
	s.active.Store(true)
	b.subs = append(b.subs, s)
	sub.detach = func() { b.remove(s) }
	return sub, nil
}

func (b *Broadcaster) remove(s *subscriber) {
	s.active.Store(false)
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, cur := range b.subs {
		if cur == s {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

func (b *Broadcaster) snapshot() []*subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done {
		return nil
	}
	return append([]*subscriber(nil), b.subs...)
}

// Publish delivers p to every current observer.
func (b *Broadcaster) Publish(p DataPoint) {
	for _, s := range b.snapshot() {
		if s.active.Load() {
			s.obs.OnValue(p)
		}
	}
}

// Complete delivers the completion signal and terminates the broadcaster.
func (b *Broadcaster) Complete() { b.terminate(nil) }

// Fail delivers err and terminates the broadcaster.
func (b *Broadcaster) Fail(err error) { b.terminate(err) }

func (b *Broadcaster) terminate(err error) {
	b.mu.Lock()
	if b.done {
		b.mu.Unlock()
		return
	}
	b.done, b.err = true, err
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	for _, s := range subs {
		if s.active.Swap(false) {
			deliverTerminal(s.obs, err)
		}
	}
}

// Terminated reports whether Complete or Fail was called, and with what.
func (b *Broadcaster) Terminated() (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.done, b.err
}

// Len returns the number of attached observers.
func (b *Broadcaster) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func deliverTerminal(obs Observer, err error) {
	if err != nil {
		obs.OnError(err)
		return
	}
	obs.OnComplete()
}
