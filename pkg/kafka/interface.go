// pkg/kafka/interface.go

// Package kafka wraps a Sarama sync producer behind a small contract used by
// the republishing sink.
package kafka

import "context"

// Header is a record header.
type Header struct {
	Key   string
	Value []byte
}

// Producer publishes records to Kafka.
type Producer interface {
	// Publish delivers one record according to the RequiredAcks policy,
	// retrying with back-off.
	Publish(ctx context.Context, topic string, key, value []byte, headers ...Header) error
	// Ping refreshes cluster metadata to prove the brokers are reachable.
	Ping(ctx context.Context) error
	Close() error
}
