// pkg/series/buffer_test.go
package series_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/YaganovValera/livefeed/pkg/feed"
	"github.com/YaganovValera/livefeed/pkg/series"
)

func values(ps []feed.DataPoint) []float64 {
	out := make([]float64, len(ps))
	for i, p := range ps {
		out[i] = p.Value
	}
	return out
}

func equal(a, b []float64) bool {
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

func feedValues(b *series.Buffer, vs ...float64) {
	for i, v := range vs {
		b.OnValue(feed.DataPoint{Seq: uint64(i + 1), Value: v})
	}
}

func TestNew_InvalidCapacity(t *testing.T) {
	for _, c := range []int{0, -1} {
		if _, err := series.New(c); !errors.Is(err, series.ErrInvalidCapacity) {
			t.Errorf("New(%d) err = %v; want ErrInvalidCapacity", c, err)
		}
	}
}

func TestWindow_Eviction(t *testing.T) {
	cases := []struct {
		name     string
		capacity int
		in       []float64
		want     []float64
	}{
		{"cap1", 1, []float64{1, 2, 3}, []float64{3}},
		{"cap3of5", 3, []float64{1, 2, 3, 4, 5}, []float64{3, 4, 5}},
		{"underfilled", 4, []float64{1, 2}, []float64{1, 2}},
		{"exact", 3, []float64{7, 8, 9}, []float64{7, 8, 9}},
		{"empty", 2, nil, []float64{}},
		{"manyWraps", 3, []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11}, []float64{9, 10, 11}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b, err := series.New(tc.capacity)
			if err != nil {
				t.Fatal(err)
			}
			feedValues(b, tc.in...)
			if got := values(b.Window()); !equal(got, tc.want) {
				t.Errorf("Window() = %v; want %v", got, tc.want)
			}
			if b.Len() != len(tc.want) || b.Cap() != tc.capacity {
				t.Errorf("Len/Cap = %d/%d", b.Len(), b.Cap())
			}
		})
	}
}

func TestLatestAndTail(t *testing.T) {
	b, _ := series.New(3)
	if _, ok := b.Latest(); ok {
		t.Fatal("Latest on empty buffer should report false")
	}
	feedValues(b, 1, 2, 3, 4)
	if p, ok := b.Latest(); !ok || p.Value != 4 {
		t.Errorf("Latest = %v, %v; want 4", p.Value, ok)
	}
	if got := values(b.Tail(2)); !equal(got, []float64{3, 4}) {
		t.Errorf("Tail(2) = %v", got)
	}
	if got := values(b.Tail(10)); !equal(got, []float64{2, 3, 4}) {
		t.Errorf("Tail(10) = %v", got)
	}
	if got := b.Tail(0); len(got) != 0 {
		t.Errorf("Tail(0) = %v", got)
	}
}

func TestWindow_IsCopy(t *testing.T) {
	b, _ := series.New(2)
	feedValues(b, 1, 2)
	w := b.Window()
	w[0].Value = 99
	if got := values(b.Window()); !equal(got, []float64{1, 2}) {
		t.Errorf("mutating the copy changed the buffer: %v", got)
	}
}

func TestListeners_EveryUpdateAndTerminals(t *testing.T) {
	b, _ := series.New(2, series.WithSnapshots())
	var updates []series.Update
	var completes int
	var fails []error
	remove := b.AddListener(series.ListenerFuncs{
		Updated:  func(u series.Update) { updates = append(updates, u) },
		Complete: func() { completes++ },
		Fail:     func(err error) { fails = append(fails, err) },
	})

	feedValues(b, 1, 2, 3)
	b.OnComplete()
	boom := errors.New("boom")
	b.OnError(boom)

	if len(updates) != 3 {
		t.Fatalf("got %d updates; want 3", len(updates))
	}
	last := updates[2]
	if last.Point.Value != 3 || last.Len != 2 || last.Evicted == nil || last.Evicted.Value != 1 {
		t.Errorf("last update = %+v", last)
	}
	if !equal(values(last.Window), []float64{2, 3}) {
		t.Errorf("snapshot = %v; want [2 3]", values(last.Window))
	}
	if updates[0].Evicted != nil {
		t.Error("first update should not evict")
	}
	if completes != 1 || len(fails) != 1 || !errors.Is(fails[0], boom) {
		t.Errorf("completes=%d fails=%v", completes, fails)
	}
	if got := values(b.Window()); !equal(got, []float64{2, 3}) {
		t.Errorf("terminal signals must leave the window intact: %v", got)
	}

	remove()
	remove()
	feedValues(b, 4)
	if len(updates) != 3 {
		t.Error("removed listener still notified")
	}
}

func TestWithoutSnapshots_NoWindowInUpdate(t *testing.T) {
	b, _ := series.New(2)
	var got series.Update
	b.AddListener(series.ListenerFuncs{Updated: func(u series.Update) { got = u }})
	feedValues(b, 5)
	if got.Window != nil {
		t.Errorf("Window = %v; want nil without WithSnapshots", got.Window)
	}
}

func TestConcurrentReadersSeeConsistentWindows(t *testing.T) {
	const capacity = 8
	b, _ := series.New(capacity)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	errs := make(chan string, 1)
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				w := b.Window()
				if len(w) > capacity {
					select {
					case errs <- "window exceeds capacity":
					default:
					}
					return
				}
				for i := 1; i < len(w); i++ {
					if w[i].Value != w[i-1].Value+1 {
						select {
						case errs <- "window not contiguous":
						default:
						}
						return
					}
				}
			}
		}()
	}
	for i := 0; i < 5000; i++ {
		b.OnValue(feed.DataPoint{Seq: uint64(i), Value: float64(i)})
	}
	close(stop)
	wg.Wait()
	select {
	case e := <-errs:
		t.Fatal(e)
	default:
	}
}
