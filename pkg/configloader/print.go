// pkg/configloader/print.go
package configloader

import (
	"github.com/segmentio/encoding/json"
	"go.uber.org/zap"

	"github.com/YaganovValera/livefeed/pkg/logger"
)

// PrintConfig logs the effective configuration at info level.
func PrintConfig(log *logger.Logger, v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Warn("configloader: config not printable", zap.Error(err))
		return
	}
	log.Info("loaded configuration", zap.ByteString("config", b))
}
