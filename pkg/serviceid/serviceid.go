// pkg/serviceid/serviceid.go
package serviceid

import (
	"github.com/YaganovValera/livefeed/pkg/backoff"
	"github.com/YaganovValera/livefeed/pkg/kafka"
)

// Init sets one service name for the back-off and Kafka metric labels.
// Call it once at startup, before the first retry or publish.
func Init(name string) {
	backoff.SetServiceLabel(name)
	kafka.SetServiceLabel(name)
}
