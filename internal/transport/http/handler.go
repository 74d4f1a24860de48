// internal/transport/http/handler.go
package http

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/YaganovValera/livefeed/internal/presenter"
	"github.com/YaganovValera/livefeed/internal/response"
	"github.com/YaganovValera/livefeed/pkg/feed"
)

// Window is the read side of a series.Buffer.
type Window interface {
	Window() []feed.DataPoint
	Tail(n int) []feed.DataPoint
	Latest() (feed.DataPoint, bool)
	Cap() int
}

// StatusSource reports connector status.
type StatusSource interface {
	Status() feed.Status
	Endpoint() string
}

// TickerSource exposes the presenter snapshot.
type TickerSource interface {
	Snapshot() presenter.Snapshot
}

type Handler struct {
	window Window
	status StatusSource
	ticker TickerSource
	mode   string
}

// NewHandler wires the read model. mode is "value" or "rate".
func NewHandler(window Window, status StatusSource, ticker TickerSource, mode string) *Handler {
	return &Handler{window: window, status: status, ticker: ticker, mode: mode}
}

// Routes mounts the API under /api/v1.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/window", h.GetWindow)
		r.Get("/latest", h.GetLatest)
		r.Get("/status", h.GetStatus)
	})
}

// Non-finite values (allowed by validation.allow_non_finite) have no JSON
// form and are rendered as null.
type point struct {
	Seq        uint64    `json:"seq"`
	Value      *float64  `json:"value"`
	ReceivedAt time.Time `json:"received_at"`
}

func toPoint(p feed.DataPoint) point {
	return point{Seq: p.Seq, Value: finite(p.Value), ReceivedAt: p.ReceivedAt}
}

func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

type windowStats struct {
	Count  int      `json:"count"`
	Min    *float64 `json:"min"`
	Max    *float64 `json:"max"`
	Mean   *float64 `json:"mean"`
	StdDev *float64 `json:"stddev"`
}

type windowResponse struct {
	Mode     string       `json:"mode"`
	Capacity int          `json:"capacity"`
	Points   []point      `json:"points"`
	Stats    *windowStats `json:"stats,omitempty"`
}

// summarize returns nil for an empty window. StdDev is the sample standard
// deviation and zero for a single point.
func summarize(pts []feed.DataPoint) *windowStats {
	if len(pts) == 0 {
		return nil
	}
	xs := make([]float64, len(pts))
	for i, p := range pts {
		xs[i] = p.Value
	}
	s := &windowStats{Count: len(xs), Min: finite(floats.Min(xs)), Max: finite(floats.Max(xs))}
	if len(xs) == 1 {
		s.Mean, s.StdDev = finite(xs[0]), finite(0)
		return s
	}
	mean, std := stat.MeanStdDev(xs, nil)
	s.Mean, s.StdDev = finite(mean), finite(std)
	return s
}

// GetWindow returns the window oldest first; ?limit=N keeps the newest N.
func (h *Handler) GetWindow(w http.ResponseWriter, r *http.Request) {
	var pts []feed.DataPoint
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			response.BadRequest(w, "limit must be a positive integer")
			return
		}
		pts = h.window.Tail(n)
	} else {
		pts = h.window.Window()
	}

	out := make([]point, len(pts))
	for i, p := range pts {
		out[i] = toPoint(p)
	}
	response.JSON(w, windowResponse{
		Mode:     h.mode,
		Capacity: h.window.Cap(),
		Points:   out,
		Stats:    summarize(pts),
	})
}

// GetLatest returns the newest point, 404 while the window is empty.
func (h *Handler) GetLatest(w http.ResponseWriter, r *http.Request) {
	p, ok := h.window.Latest()
	if !ok {
		response.NotFound(w, "no values yet")
		return
	}
	response.JSON(w, toPoint(p))
}

type statusResponse struct {
	Endpoint string             `json:"endpoint"`
	Mode     string             `json:"mode"`
	State    string             `json:"state"`
	Error    string             `json:"error,omitempty"`
	Ticker   presenter.Snapshot `json:"ticker"`
}

// GetStatus combines connector status and the ticker snapshot.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	st := h.status.Status()
	res := statusResponse{
		Endpoint: h.status.Endpoint(),
		Mode:     h.mode,
		State:    st.State.String(),
		Ticker:   h.ticker.Snapshot(),
	}
	if st.Err != nil {
		res.Error = st.Err.Error()
	}
	response.JSON(w, res)
}
