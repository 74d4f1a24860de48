// pkg/feed/fake_test.go
package feed_test

import (
	"context"
	"errors"
	"io"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/YaganovValera/livefeed/pkg/feed"
)

var errClosed = errors.New("fake transport closed")

// fakeTransport feeds frames pushed by the test. Closing the frames channel
// simulates a normal remote close.
type fakeTransport struct {
	frames chan feed.Frame
	errs   chan error
	closed chan struct{}
	gate   chan struct{} // when non-nil, Close blocks until it is closed
	once   sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		frames: make(chan feed.Frame, 16),
		errs:   make(chan error, 1),
		closed: make(chan struct{}),
	}
}

func (f *fakeTransport) ReadFrame() (feed.Frame, error) {
	select {
	case fr, ok := <-f.frames:
		if !ok {
			return feed.Frame{}, io.EOF
		}
		return fr, nil
	case err := <-f.errs:
		return feed.Frame{}, err
	case <-f.closed:
		return feed.Frame{}, errClosed
	}
}

func (f *fakeTransport) Close() error {
	if f.gate != nil {
		<-f.gate
	}
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeTransport) text(s string) {
	f.frames <- feed.Frame{Kind: feed.FrameText, Payload: []byte(s)}
}

// fakeDialer hands out queued transports or errors, one per Dial.
type fakeDialer struct {
	mu      sync.Mutex
	results []interface{} // *fakeTransport or error
	dials   atomic.Int32
}

func (d *fakeDialer) push(r interface{}) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.results = append(d.results, r)
}

func (d *fakeDialer) Dial(ctx context.Context, _ *url.URL) (feed.Transport, error) {
	d.dials.Add(1)
	d.mu.Lock()
	if len(d.results) == 0 {
		d.mu.Unlock()
		<-ctx.Done()
		return nil, ctx.Err()
	}
	r := d.results[0]
	d.results = d.results[1:]
	d.mu.Unlock()

	if err, ok := r.(error); ok {
		return nil, err
	}
	return r.(*fakeTransport), nil
}

// recorder is an Observer that keeps everything it sees.
type recorder struct {
	mu        sync.Mutex
	values    []feed.DataPoint
	completes int
	errs      []error
	done      chan struct{}
	doneOnce  sync.Once
}

func newRecorder() *recorder { return &recorder{done: make(chan struct{})} }

func (r *recorder) OnValue(p feed.DataPoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values = append(r.values, p)
}

func (r *recorder) OnComplete() {
	r.mu.Lock()
	r.completes++
	r.mu.Unlock()
	r.doneOnce.Do(func() { close(r.done) })
}

func (r *recorder) OnError(err error) {
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
	r.doneOnce.Do(func() { close(r.done) })
}

func (r *recorder) snapshot() (vals []float64, completes int, errs []error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.values {
		vals = append(vals, p.Value)
	}
	return vals, r.completes, append([]error(nil), r.errs...)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.values)
}

func (r *recorder) waitTerminal(t *testing.T) {
	t.Helper()
	select {
	case <-r.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for terminal signal")
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func waitState(t *testing.T, c *feed.Connector, want feed.State) {
	t.Helper()
	waitFor(t, "state "+want.String(), func() bool { return c.Status().State == want })
}

func equalFloats(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
