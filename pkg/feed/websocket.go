// pkg/feed/websocket.go
package feed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/YaganovValera/livefeed/pkg/logger"
)

// WebSocketConfig tunes the websocket transport. Zero values get defaults.
type WebSocketConfig struct {
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	// ReadTimeout is extended on every message and pong. Zero disables it.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// PingInterval defaults to ReadTimeout/3; no pings without either.
	PingInterval time.Duration `mapstructure:"ping_interval"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	Header       http.Header   `mapstructure:"-"`
}

func (c *WebSocketConfig) applyDefaults() {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.PingInterval <= 0 && c.ReadTimeout > 0 {
		c.PingInterval = c.ReadTimeout / 3
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = time.Second
	}
}

// WebSocketDialer dials ws:// and wss:// endpoints with gorilla/websocket.
type WebSocketDialer struct {
	cfg    WebSocketConfig
	dialer *websocket.Dialer
	log    *logger.Logger
}

// NewWebSocketDialer builds a dialer. log may be nil.
func NewWebSocketDialer(cfg WebSocketConfig, log *logger.Logger) *WebSocketDialer {
	cfg.applyDefaults()
	if log == nil {
		log = logger.NewNop()
	}
	return &WebSocketDialer{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		log: log.Named("ws"),
	}
}

// Schemes lists the URL schemes this dialer understands.
func (d *WebSocketDialer) Schemes() []string { return []string{"ws", "wss"} }

// Dial performs the handshake and starts the keep-alive pinger.
func (d *WebSocketDialer) Dial(ctx context.Context, endpoint *url.URL) (Transport, error) {
	conn, resp, err := d.dialer.DialContext(ctx, endpoint.String(), d.cfg.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("handshake: %s: %w", resp.Status, err)
		}
		return nil, err
	}

	t := &wsTransport{
		conn:     conn,
		cfg:      d.cfg,
		log:      d.log,
		stopPing: make(chan struct{}),
	}
	t.extendDeadline()
	conn.SetPongHandler(func(string) error {
		t.extendDeadline()
		return nil
	})
	if d.cfg.PingInterval > 0 {
		go t.pingLoop()
	}
	return t, nil
}

type wsTransport struct {
	conn *websocket.Conn
	cfg  WebSocketConfig
	log  *logger.Logger

	closeOnce sync.Once
	closeErr  error
	stopPing  chan struct{}
}

func (t *wsTransport) extendDeadline() {
	if t.cfg.ReadTimeout > 0 {
		_ = t.conn.SetReadDeadline(time.Now().Add(t.cfg.ReadTimeout))
	}
}

func (t *wsTransport) pingLoop() {
	ticker := time.NewTicker(t.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-t.stopPing:
			return
		case <-ticker.C:
			deadline := time.Now().Add(t.cfg.WriteTimeout)
			if err := t.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				t.log.Warn("ws: ping failed", zap.Error(err))
			}
		}
	}
}

// ReadFrame returns the next data frame. Normal closure and going-away
// close frames from the peer become io.EOF.
func (t *wsTransport) ReadFrame() (Frame, error) {
	mt, data, err := t.conn.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return Frame{}, io.EOF
		}
		return Frame{}, err
	}
	t.extendDeadline()
	kind := FrameText
	if mt == websocket.BinaryMessage {
		kind = FrameBinary
	}
	return Frame{Kind: kind, Payload: data}, nil
}

// Close sends a normal-closure frame and closes the socket.
func (t *wsTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.stopPing)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		if err := t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(t.cfg.WriteTimeout)); err != nil {
			t.log.Debug("ws: close frame not sent", zap.Error(err))
		}
		t.closeErr = t.conn.Close()
	})
	return t.closeErr
}
