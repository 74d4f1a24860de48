// internal/presenter/ticker_test.go
package presenter

import (
	"errors"
	"testing"
	"time"

	"github.com/YaganovValera/livefeed/pkg/feed"
	"github.com/YaganovValera/livefeed/pkg/series"
)

func TestTicker_Indicator(t *testing.T) {
	tk := NewTicker(nil)
	if got := tk.Indicator(); got != Disconnected {
		t.Fatalf("initial indicator = %q", got)
	}

	steps := []struct {
		tr   feed.Transition
		want Indicator
	}{
		{feed.Transition{From: feed.Idle, To: feed.Connecting}, Disconnected},
		{feed.Transition{From: feed.Connecting, To: feed.Open}, Connected},
		{feed.Transition{From: feed.Open, To: feed.Failed, Err: errors.New("reset")}, Errored},
		{feed.Transition{From: feed.Failed, To: feed.Connecting}, Disconnected},
		{feed.Transition{From: feed.Connecting, To: feed.Open}, Connected},
		{feed.Transition{From: feed.Open, To: feed.Closing}, Disconnected},
		{feed.Transition{From: feed.Closing, To: feed.Closed}, Disconnected},
	}
	for i, s := range steps {
		tk.OnState(s.tr)
		if got := tk.Indicator(); got != s.want {
			t.Errorf("step %d (%v->%v): indicator = %q, want %q", i, s.tr.From, s.tr.To, got, s.want)
		}
	}
	snap := tk.Snapshot()
	if snap.Sessions != 2 {
		t.Errorf("sessions = %d, want 2", snap.Sessions)
	}
	if snap.Error != "" {
		t.Errorf("error should clear on reconnect, got %q", snap.Error)
	}
}

func TestTicker_LatestValue(t *testing.T) {
	tk := NewTicker(nil)
	if s := tk.Snapshot(); s.Latest != nil || s.UpdatedAt != nil {
		t.Fatalf("empty ticker has latest: %+v", s)
	}

	buf, err := series.New(2)
	if err != nil {
		t.Fatal(err)
	}
	buf.AddListener(tk)
	now := time.Now()
	for i, v := range []float64{3, 1, 4} {
		buf.OnValue(feed.DataPoint{Seq: uint64(i + 1), Value: v, ReceivedAt: now})
	}

	s := tk.Snapshot()
	if s.Latest == nil || *s.Latest != 4 || s.Seq != 3 {
		t.Errorf("latest = %v seq=%d; want 4 seq=3", s.Latest, s.Seq)
	}
	if s.Values != 3 {
		t.Errorf("values = %d, want 3", s.Values)
	}
	tk.OnState(feed.Transition{From: feed.Open, To: feed.Failed, Err: errors.New("boom")})
	if s := tk.Snapshot(); s.Error != "boom" || s.State != "failed" {
		t.Errorf("snapshot after failure = %+v", s)
	}
}
