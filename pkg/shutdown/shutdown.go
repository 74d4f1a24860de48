// pkg/shutdown/shutdown.go
package shutdown

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/YaganovValera/livefeed/pkg/logger"
)

// Step is one named teardown action.
type Step struct {
	Name string
	Fn   func(ctx context.Context) error
}

// GracefulShutdown runs fn with its own timeout and logs the outcome.
func GracefulShutdown(name string, timeout time.Duration, fn func(ctx context.Context) error, log *logger.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	log.Info("shutdown: stopping " + name)
	if err := fn(ctx); err != nil {
		log.Error("shutdown: error in "+name, zap.Error(err))
		return err
	}
	log.Info("shutdown: " + name + " stopped cleanly")
	return nil
}

// Run executes steps in order, each bounded by timeout, and returns the
// first error. Later steps still run after a failure.
func Run(timeout time.Duration, log *logger.Logger, steps ...Step) error {
	var first error
	for _, s := range steps {
		if err := GracefulShutdown(s.Name, timeout, s.Fn, log); err != nil && first == nil {
			first = err
		}
	}
	return first
}
