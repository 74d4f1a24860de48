// pkg/redis/store_test.go
package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/YaganovValera/livefeed/pkg/backoff"
	"github.com/YaganovValera/livefeed/pkg/logger"
	"github.com/YaganovValera/livefeed/pkg/redis"
)

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name    string
		cfg     redis.Config
		wantErr bool
	}{
		{"ok", redis.Config{URL: "redis://localhost:6379/0", TTL: time.Minute}, false},
		{"noURL", redis.Config{}, true},
		{"badScheme", redis.Config{URL: "http://localhost:6379"}, true},
		{"negativeTTL", redis.Config{URL: "redis://localhost:6379", TTL: -time.Second}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.cfg.Validate(); (err != nil) != tc.wantErr {
				t.Errorf("Validate() = %v; wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestNew_UnreachableGivesUp(t *testing.T) {
	cfg := redis.Config{
		URL: "redis://127.0.0.1:1/0",
		Backoff: backoff.Config{
			InitialInterval: time.Millisecond, Multiplier: 1,
			MaxInterval: time.Millisecond, MaxElapsedTime: 30 * time.Millisecond,
		},
	}
	if _, err := redis.New(context.Background(), cfg, logger.NewNop()); err == nil {
		t.Fatal("expected connect error for unreachable redis")
	}
}
