// internal/sink/sink_test.go
package sink

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/YaganovValera/livefeed/pkg/feed"
	"github.com/YaganovValera/livefeed/pkg/kafka"
	"github.com/YaganovValera/livefeed/pkg/logger"
	"github.com/YaganovValera/livefeed/pkg/redis"
	"github.com/YaganovValera/livefeed/pkg/series"
)

type record struct {
	topic   string
	key     []byte
	value   []byte
	headers []kafka.Header
}

type fakeProducer struct {
	mu      sync.Mutex
	records []record
	fail    error
}

func (f *fakeProducer) Publish(ctx context.Context, topic string, key, value []byte, headers ...kafka.Header) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.records = append(f.records, record{topic, key, value, headers})
	return nil
}

func (f *fakeProducer) Ping(context.Context) error { return nil }
func (f *fakeProducer) Close() error               { return nil }

func (f *fakeProducer) snapshot() []record {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]record(nil), f.records...)
}

type fakeStore struct {
	mu     sync.Mutex
	data   map[string][]byte
	writes int
}

func newFakeStore() *fakeStore { return &fakeStore{data: map[string][]byte{}} }

func (s *fakeStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	if !ok {
		return nil, redis.ErrNotFound
	}
	return v, nil
}

func (s *fakeStore) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	s.writes++
	return nil
}

func (s *fakeStore) Ping(context.Context) error { return nil }
func (s *fakeStore) Close() error               { return nil }

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestKafka_PublishesRecords(t *testing.T) {
	p := &fakeProducer{}
	k := NewKafka(p, "values", "wss://example.org/feed", 8, logger.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- k.Run(ctx) }()

	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	k.OnValue(feed.DataPoint{Seq: 7, Value: 2.5, ReceivedAt: at})
	k.OnComplete()

	waitFor(t, func() bool { return len(p.snapshot()) == 1 })
	rec := p.snapshot()[0]
	if rec.topic != "values" || string(rec.key) != strconv.Itoa(7) {
		t.Errorf("topic/key = %q/%q", rec.topic, rec.key)
	}
	var s structpb.Struct
	if err := proto.Unmarshal(rec.value, &s); err != nil {
		t.Fatalf("unmarshal value: %v", err)
	}
	if got := s.Fields["value"].GetNumberValue(); got != 2.5 {
		t.Errorf("value = %v", got)
	}
	if got := s.Fields["source"].GetStringValue(); got != "wss://example.org/feed" {
		t.Errorf("source = %q", got)
	}
	var found bool
	for _, h := range rec.headers {
		if h.Key != HeaderReceivedAt {
			continue
		}
		found = true
		var ts timestamppb.Timestamp
		if err := proto.Unmarshal(h.Value, &ts); err != nil {
			t.Fatalf("unmarshal timestamp: %v", err)
		}
		if !ts.AsTime().Equal(at) {
			t.Errorf("received-at = %v, want %v", ts.AsTime(), at)
		}
	}
	if !found {
		t.Error("missing received-at header")
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run returned %v", err)
	}
}

func TestKafka_DropsWhenQueueFull(t *testing.T) {
	p := &fakeProducer{}
	k := NewKafka(p, "values", "src", 2, logger.NewNop())
	for i := 1; i <= 5; i++ {
		k.OnValue(feed.DataPoint{Seq: uint64(i)})
	}
	if got := len(k.queue); got != 2 {
		t.Fatalf("queued = %d, want 2", got)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go k.Run(ctx)
	waitFor(t, func() bool { return len(p.snapshot()) == 2 })
	recs := p.snapshot()
	if string(recs[0].key) != "1" || string(recs[1].key) != "2" {
		t.Errorf("kept keys = %q, %q; want oldest two", recs[0].key, recs[1].key)
	}
}

func TestKafka_PublishErrorKeepsRunning(t *testing.T) {
	p := &fakeProducer{fail: errors.New("broker down")}
	k := NewKafka(p, "values", "src", 4, logger.NewNop())
	if err := k.publish(context.Background(), feed.DataPoint{Seq: 1}); err == nil {
		t.Fatal("expected publish error")
	}
	p.mu.Lock()
	p.fail = nil
	p.mu.Unlock()
	if err := k.publish(context.Background(), feed.DataPoint{Seq: 2}); err != nil {
		t.Fatalf("publish after recovery: %v", err)
	}
}

func TestKafka_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	p := &fakeProducer{fail: errors.New("broker down")}
	k := NewKafka(p, "values", "src", 4, logger.NewNop())
	for i := 1; i <= breakerTrip; i++ {
		if err := k.publish(context.Background(), feed.DataPoint{Seq: uint64(i)}); err == nil {
			t.Fatalf("publish %d: expected error", i)
		}
	}
	p.mu.Lock()
	p.fail = nil
	p.mu.Unlock()

	err := k.publish(context.Background(), feed.DataPoint{Seq: 99})
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("publish with open breaker = %v, want ErrOpenState", err)
	}
	if n := len(p.snapshot()); n != 0 {
		t.Errorf("producer called %d times while open", n)
	}
}

func TestLatest_WritesNewestValue(t *testing.T) {
	store := newFakeStore()
	l := NewLatest(store, "livefeed:latest", logger.NewNop())

	buf, err := series.New(3)
	if err != nil {
		t.Fatal(err)
	}
	buf.AddListener(l)
	for i, v := range []float64{1, 2, 3, 4} {
		buf.OnValue(feed.DataPoint{Seq: uint64(i + 1), Value: v})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	waitFor(t, func() bool {
		rec, err := l.Load(context.Background())
		return err == nil && rec.Seq == 4
	})
	rec, _ := l.Load(context.Background())
	if rec.Value != 4 || rec.Window != 3 {
		t.Errorf("record = %+v", rec)
	}
	store.mu.Lock()
	writes := store.writes
	store.mu.Unlock()
	if writes != 1 {
		t.Errorf("writes = %d, want 1 (coalesced)", writes)
	}
}

func TestLatest_LoadMissing(t *testing.T) {
	l := NewLatest(newFakeStore(), "k", logger.NewNop())
	if _, err := l.Load(context.Background()); !errors.Is(err, redis.ErrNotFound) {
		t.Errorf("Load = %v, want ErrNotFound", err)
	}
}
