package feed

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Client dials a websocket feed and hands every text frame to a callback,
// reconnecting with exponential backoff until its context is cancelled.
type Client struct {
	url        string
	header     http.Header
	dialer     *websocket.Dialer
	onMessage  func([]byte)
	minBackoff time.Duration
	maxBackoff time.Duration
	keepalive  time.Duration
	pingFrame  []byte
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHeader sets extra handshake headers (cookies, origin).
func WithHeader(h http.Header) Option {
	return func(c *Client) { c.header = h }
}

// WithBackoff sets the reconnect backoff bounds. Default: 500ms..30s.
func WithBackoff(min, max time.Duration) Option {
	return func(c *Client) { c.minBackoff, c.maxBackoff = min, max }
}

// WithKeepalive sends frame as a text message every interval while connected.
func WithKeepalive(interval time.Duration, frame []byte) Option {
	return func(c *Client) { c.keepalive, c.pingFrame = interval, frame }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a Client for url.
func NewClient(url string, onMessage func([]byte), opts ...Option) *Client {
	c := &Client{
		url:        url,
		dialer:     &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		onMessage:  onMessage,
		minBackoff: 500 * time.Millisecond,
		maxBackoff: 30 * time.Second,
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Run connects and reads until ctx is cancelled. It returns ctx.Err().
func (c *Client) Run(ctx context.Context) error {
	backoff := c.minBackoff
	for {
		start := time.Now()
		err := c.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// A session that lived a while earns a fresh backoff.
		if time.Since(start) > c.maxBackoff {
			backoff = c.minBackoff
		}
		c.logger.Warn("feed: disconnected", "url", c.url, "error", err, "retry_in", backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > c.maxBackoff {
			backoff = c.maxBackoff
		}
	}
}

func (c *Client) session(ctx context.Context) error {
	conn, _, err := c.dialer.DialContext(ctx, c.url, c.header)
	if err != nil {
		return fmt.Errorf("feed: dial: %w", err)
	}
	c.logger.Info("feed: connected", "url", c.url)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		conn.Close()
	}()

	if c.keepalive > 0 {
		go c.ping(conn, done)
	}

	for {
		typ, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("feed: read: %w", err)
		}
		if typ != websocket.TextMessage {
			continue
		}
		c.onMessage(data)
	}
}

func (c *Client) ping(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(c.keepalive)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.TextMessage, c.pingFrame); err != nil {
				return
			}
		}
	}
}
