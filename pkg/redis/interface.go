// pkg/redis/interface.go
package redis

import "context"

// Store is a small key/value contract over Redis.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Ping(ctx context.Context) error
	Close() error
}
