// pkg/feed/transport.go
package feed

import (
	"context"
	"net/url"
)

// Transport is one established connection. ReadFrame blocks until a frame
// arrives; a clean remote close is reported as io.EOF. Close must unblock a
// pending ReadFrame and be safe to call more than once.
type Transport interface {
	ReadFrame() (Frame, error)
	Close() error
}

// Dialer opens a Transport to an endpoint.
type Dialer interface {
	Dial(ctx context.Context, endpoint *url.URL) (Transport, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, endpoint *url.URL) (Transport, error)

func (f DialerFunc) Dial(ctx context.Context, endpoint *url.URL) (Transport, error) {
	return f(ctx, endpoint)
}

// schemeChecker is implemented by dialers that only accept some URL schemes.
type schemeChecker interface {
	Schemes() []string
}
