// internal/transport/http/handler_test.go
package http

import (
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/segmentio/encoding/json"

	"github.com/YaganovValera/livefeed/internal/presenter"
	"github.com/YaganovValera/livefeed/pkg/feed"
	"github.com/YaganovValera/livefeed/pkg/series"
)

type stubStatus struct{ st feed.Status }

func (s stubStatus) Status() feed.Status { return s.st }
func (s stubStatus) Endpoint() string    { return "wss://example.org/feed" }

func newRouter(t *testing.T, buf *series.Buffer, st feed.Status) http.Handler {
	t.Helper()
	tk := presenter.NewTicker(nil)
	buf.AddListener(tk)
	r := chi.NewRouter()
	NewHandler(buf, stubStatus{st}, tk, "value").Routes(r)
	return r
}

func do(t *testing.T, h http.Handler, target string, out interface{}) int {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	if out != nil {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("decode %s: %v (%s)", target, err, rec.Body.String())
		}
	}
	return rec.Code
}

func newBuffer(t *testing.T, capacity int) *series.Buffer {
	t.Helper()
	buf, err := series.New(capacity)
	if err != nil {
		t.Fatal(err)
	}
	return buf
}

// num reads a nullable value, NaN standing in for null.
func num(p *float64) float64 {
	if p == nil {
		return math.NaN()
	}
	return *p
}

func TestGetWindow(t *testing.T) {
	buf := newBuffer(t, 3)
	h := newRouter(t, buf, feed.Status{State: feed.Open})
	for i := 1; i <= 5; i++ {
		buf.OnValue(feed.DataPoint{Seq: uint64(i), Value: float64(i), ReceivedAt: time.Now()})
	}

	var res windowResponse
	if code := do(t, h, "/api/v1/window", &res); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if res.Capacity != 3 || res.Mode != "value" || len(res.Points) != 3 {
		t.Fatalf("response = %+v", res)
	}
	for i, want := range []float64{3, 4, 5} {
		if num(res.Points[i].Value) != want {
			t.Errorf("points[%d] = %v, want %v", i, num(res.Points[i].Value), want)
		}
	}

	if st := res.Stats; st == nil || num(st.Min) != 3 || num(st.Max) != 5 || num(st.Mean) != 4 || num(st.StdDev) != 1 {
		t.Errorf("stats = %+v; want min 3 max 5 mean 4 stddev 1", res.Stats)
	}

	res = windowResponse{}
	if code := do(t, h, "/api/v1/window?limit=2", &res); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if len(res.Points) != 2 || num(res.Points[0].Value) != 4 || num(res.Points[1].Value) != 5 {
		t.Errorf("limited points = %+v", res.Points)
	}
}

func TestSummarize(t *testing.T) {
	if summarize(nil) != nil {
		t.Error("empty window should have no stats")
	}
	s := summarize([]feed.DataPoint{{Value: -2}})
	if s.Count != 1 || num(s.Mean) != -2 || num(s.StdDev) != 0 || num(s.Min) != -2 || num(s.Max) != -2 {
		t.Errorf("single point stats = %+v", s)
	}

	s = summarize([]feed.DataPoint{{Value: 1}, {Value: math.Inf(1)}})
	if s.Count != 2 || num(s.Min) != 1 || s.Max != nil || s.Mean != nil || s.StdDev != nil {
		t.Errorf("stats with +Inf = %+v; want min 1, rest null", s)
	}
}

func TestGetWindow_NonFiniteValues(t *testing.T) {
	buf := newBuffer(t, 3)
	h := newRouter(t, buf, feed.Status{State: feed.Open})
	buf.OnValue(feed.DataPoint{Seq: 1, Value: 1})
	buf.OnValue(feed.DataPoint{Seq: 2, Value: math.Inf(1)})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/window", nil))
	if rec.Code != http.StatusOK || rec.Body.Len() == 0 {
		t.Fatalf("window = %d %q", rec.Code, rec.Body.String())
	}
	var res windowResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode window: %v (%s)", err, rec.Body.String())
	}
	if len(res.Points) != 2 || num(res.Points[0].Value) != 1 || res.Points[1].Value != nil {
		t.Errorf("points = %+v; want [1 null]", res.Points)
	}

	var p point
	if code := do(t, h, "/api/v1/latest", &p); code != http.StatusOK || p.Seq != 2 || p.Value != nil {
		t.Errorf("latest = %d %+v; want seq 2 with null value", code, p)
	}

	var st statusResponse
	if code := do(t, h, "/api/v1/status", &st); code != http.StatusOK || st.Ticker.Latest != nil || st.Ticker.Seq != 2 {
		t.Errorf("status = %d %+v", code, st.Ticker)
	}
}

func TestGetWindow_BadLimit(t *testing.T) {
	h := newRouter(t, newBuffer(t, 3), feed.Status{})
	for _, q := range []string{"0", "-1", "abc"} {
		var body errorBody
		if code := do(t, h, "/api/v1/window?limit="+q, &body); code != http.StatusBadRequest {
			t.Errorf("limit=%s: status = %d", q, code)
		}
	}
}

type errorBody struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func TestGetLatest(t *testing.T) {
	buf := newBuffer(t, 2)
	h := newRouter(t, buf, feed.Status{State: feed.Open})

	var e errorBody
	if code := do(t, h, "/api/v1/latest", &e); code != http.StatusNotFound || e.Error.Code != http.StatusNotFound {
		t.Fatalf("empty latest = %d %+v", code, e)
	}

	buf.OnValue(feed.DataPoint{Seq: 1, Value: 10})
	buf.OnValue(feed.DataPoint{Seq: 2, Value: 20})
	var p point
	if code := do(t, h, "/api/v1/latest", &p); code != http.StatusOK || num(p.Value) != 20 || p.Seq != 2 {
		t.Errorf("latest = %d %+v", code, p)
	}
}

func TestGetStatus(t *testing.T) {
	buf := newBuffer(t, 2)
	h := newRouter(t, buf, feed.Status{State: feed.Failed, Err: errors.New("dial refused")})
	buf.OnValue(feed.DataPoint{Seq: 1, Value: 1.5})

	var res statusResponse
	if code := do(t, h, "/api/v1/status", &res); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if res.State != "failed" || res.Error != "dial refused" || res.Endpoint != "wss://example.org/feed" {
		t.Errorf("status = %+v", res)
	}
	if res.Ticker.Latest == nil || *res.Ticker.Latest != 1.5 {
		t.Errorf("ticker latest = %v", res.Ticker.Latest)
	}
}
