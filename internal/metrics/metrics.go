// internal/metrics/metrics.go
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/YaganovValera/livefeed/pkg/feed"
	"github.com/YaganovValera/livefeed/pkg/series"
)

var (
	once sync.Once

	// SinkPublished counts values written by a sink.
	SinkPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "livefeed",
		Subsystem: "sink",
		Name:      "published_total",
		Help:      "Values written by each sink",
	}, []string{"sink"})

	// SinkErrors counts failed sink writes.
	SinkErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "livefeed",
		Subsystem: "sink",
		Name:      "errors_total",
		Help:      "Failed sink writes by stage",
	}, []string{"sink", "stage"})

	// SinkDrops counts values skipped because a sink was behind.
	SinkDrops = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "livefeed",
		Subsystem: "sink",
		Name:      "drops_total",
		Help:      "Values dropped or coalesced because the sink was busy",
	}, []string{"sink"})

	// SinkLatency measures arrival-to-write latency.
	SinkLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "livefeed",
		Subsystem: "sink",
		Name:      "latency_seconds",
		Help:      "Latency from value arrival to sink write (seconds)",
		Buckets:   prometheus.DefBuckets,
	}, []string{"sink"})

	// Restarts counts supervisor-initiated reconnects.
	Restarts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "livefeed",
		Subsystem: "supervisor",
		Name:      "restarts_total",
		Help:      "Sessions started after a failure",
	})
)

// Register registers the application collectors and those of the feed and
// series packages. Without arguments it uses the DefaultRegisterer.
func Register(registerers ...prometheus.Registerer) {
	once.Do(func() {
		var reg prometheus.Registerer
		if len(registerers) > 0 && registerers[0] != nil {
			reg = registerers[0]
		} else {
			reg = prometheus.DefaultRegisterer
		}
		reg.MustRegister(
			SinkPublished,
			SinkErrors,
			SinkDrops,
			SinkLatency,
			Restarts,
		)
		feed.RegisterMetrics(reg)
		series.RegisterMetrics(reg)
	})
}
