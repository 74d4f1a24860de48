// pkg/series/metrics.go
package series

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	windowLength = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "livefeed", Subsystem: "series", Name: "window_length",
		Help: "Points currently held in the window",
	}, []string{"buffer"})

	windowCapacity = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "livefeed", Subsystem: "series", Name: "window_capacity",
		Help: "Configured window capacity",
	}, []string{"buffer"})

	evictions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "livefeed", Subsystem: "series", Name: "evictions_total",
		Help: "Points evicted to make room for newer ones",
	}, []string{"buffer"})
)

// RegisterMetrics registers the package collectors once. A nil registerer
// means prometheus.DefaultRegisterer.
func RegisterMetrics(r prometheus.Registerer) {
	once.Do(func() {
		if r == nil {
			r = prometheus.DefaultRegisterer
		}
		for _, c := range []prometheus.Collector{windowLength, windowCapacity, evictions} {
			_ = r.Register(c)
		}
	})
}
