// pkg/feed/metrics.go
package feed

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	connects = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "livefeed", Subsystem: "feed", Name: "connects_total",
		Help: "Connection attempts by outcome",
	}, []string{"status"})

	frames = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "livefeed", Subsystem: "feed", Name: "frames_total",
		Help: "Frames read from the transport",
	}, []string{"kind"})

	values = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "livefeed", Subsystem: "feed", Name: "values_total",
		Help: "Values published to subscribers",
	})

	dropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "livefeed", Subsystem: "feed", Name: "dropped_frames_total",
		Help: "Frames dropped before publishing, by reason",
	}, []string{"reason"})

	sessions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "livefeed", Subsystem: "feed", Name: "sessions_ended_total",
		Help: "Finished sessions by final state",
	}, []string{"state"})

	frameQueue = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "livefeed", Subsystem: "feed", Name: "frame_queue_length",
		Help: "Decoded values waiting between the reader and the broadcaster",
	})
)

// RegisterMetrics registers the package collectors once. A nil registerer
// means prometheus.DefaultRegisterer.
func RegisterMetrics(r prometheus.Registerer) {
	once.Do(func() {
		if r == nil {
			r = prometheus.DefaultRegisterer
		}
		for _, c := range []prometheus.Collector{connects, frames, values, dropped, sessions, frameQueue} {
			_ = r.Register(c)
		}
	})
}
