package channel

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 5 * time.Second

// WSOption configures DialWS.
type WSOption func(*wsOptions)

type wsOptions struct {
	header http.Header
	dialer *websocket.Dialer
	logger *slog.Logger
}

// WithWSHeader sets handshake headers.
func WithWSHeader(h http.Header) WSOption {
	return func(o *wsOptions) { o.header = h }
}

// WithWSLogger sets a custom logger.
func WithWSLogger(l *slog.Logger) WSOption {
	return func(o *wsOptions) { o.logger = l }
}

// DialWS returns an Opener backed by a websocket connection.
func DialWS(opts ...WSOption) Opener {
	o := wsOptions{
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger: slog.Default(),
	}
	for _, fn := range opts {
		fn(&o)
	}
	return func(ctx context.Context, url string, onReceive func([]byte)) (Channel, error) {
		c := &wsChannel{url: url, logger: o.logger, done: make(chan struct{})}
		c.state.Store(int32(Connecting))

		conn, _, err := o.dialer.DialContext(ctx, url, o.header)
		if err != nil {
			c.state.Store(int32(Closed))
			return nil, fmt.Errorf("channel: dial %s: %w", url, err)
		}
		c.conn = conn
		c.state.Store(int32(Open))
		go c.readLoop(onReceive)
		return c, nil
	}
}

type wsChannel struct {
	url    string
	conn   *websocket.Conn
	logger *slog.Logger
	state  atomic.Int32

	mu   sync.Mutex // serialises writes
	once sync.Once
	done chan struct{}
}

func (c *wsChannel) State() State { return State(c.state.Load()) }

func (c *wsChannel) Send(ctx context.Context, frame []byte) error {
	if st := c.State(); st != Open {
		return &ErrSendFailed{URL: c.url, State: st, Cause: fmt.Errorf("not open")}
	}
	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return &ErrSendFailed{URL: c.url, State: c.State(), Cause: err}
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return &ErrSendFailed{URL: c.url, State: c.State(), Cause: err}
	}
	return nil
}

func (c *wsChannel) Close() error {
	var err error
	c.once.Do(func() {
		c.state.Store(int32(Closing))
		c.mu.Lock()
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.mu.Unlock()
		err = c.conn.Close()
		<-c.done
		c.state.Store(int32(Closed))
	})
	return err
}

func (c *wsChannel) readLoop(onReceive func([]byte)) {
	defer close(c.done)
	defer c.state.Store(int32(Closed))
	for {
		typ, data, err := c.conn.ReadMessage()
		if err != nil {
			if c.State() == Open {
				c.logger.Warn("channel: connection lost", "url", c.url, "error", err)
			}
			return
		}
		if typ == websocket.TextMessage && onReceive != nil {
			onReceive(data)
		}
	}
}
