// Package push consumes the backend's /ws notification channel.
package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"wa-console/queue"
	"wa-console/types"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	HandshakeTimeout = 30 * time.Second
	maxFrameSize     = 1 << 20
)

// URL derives the WebSocket endpoint from the HTTP base URL
func URL(base *url.URL) (*url.URL, error) {
	u := *base
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported scheme %q for push channel", base.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	u.RawQuery = ""
	u.Fragment = ""
	return &u, nil
}

// Channel is one live connection to the push endpoint. It is not
// re-established when the backend drops it.
type Channel struct {
	conn       *websocket.Conn
	dispatcher *queue.Dispatcher
	ownsQueue  bool
	logger     zerolog.Logger
	closeOnce  sync.Once
	closed     chan struct{}
}

type options struct {
	token      string
	logger     zerolog.Logger
	dispatcher *queue.Dispatcher
	dialer     *websocket.Dialer
}

// Option configures Dial
type Option func(*options)

// WithToken sends the bearer token during the handshake
func WithToken(token string) Option {
	return func(o *options) { o.token = strings.TrimSpace(token) }
}

// WithLogger sets the logger
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithDispatcher publishes frames into an existing dispatcher, which the
// caller keeps ownership of
func WithDispatcher(d *queue.Dispatcher) Option {
	return func(o *options) { o.dispatcher = d }
}

// WithDialer replaces the websocket dialer
func WithDialer(d *websocket.Dialer) Option {
	return func(o *options) { o.dialer = d }
}

// Dial opens the push channel for the backend at base
func Dial(ctx context.Context, base *url.URL, opts ...Option) (*Channel, error) {
	o := options{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	wsURL, err := URL(base)
	if err != nil {
		return nil, err
	}
	dialer := o.dialer
	if dialer == nil {
		d := *websocket.DefaultDialer
		d.HandshakeTimeout = HandshakeTimeout
		dialer = &d
	}
	header := http.Header{}
	if o.token != "" {
		header.Set("Authorization", "Bearer "+o.token)
	}

	conn, resp, err := dialer.DialContext(ctx, wsURL.String(), header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial push channel %s: %w", wsURL.Redacted(), err)
	}
	conn.SetReadLimit(maxFrameSize)

	c := &Channel{
		conn:       conn,
		dispatcher: o.dispatcher,
		logger:     o.logger,
		closed:     make(chan struct{}),
	}
	if c.dispatcher == nil {
		c.dispatcher = queue.NewDispatcher(64, nil)
		c.ownsQueue = true
	}
	c.logger.Info().Str("url", wsURL.Redacted()).Msg("push channel connected")
	return c, nil
}

// Subscribe registers h for every decoded event
func (c *Channel) Subscribe(h queue.Handler) func() {
	return c.dispatcher.Subscribe(h)
}

// Run reads frames until ctx ends, Close is called, or the backend drops the
// connection. Only the last case returns an error.
func (c *Channel) Run(ctx context.Context) error {
	go func() {
		select {
		case <-ctx.Done():
			c.Close()
		case <-c.closed:
		}
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.closed:
				return nil
			default:
			}
			c.Close()
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn().Msg("push channel closed by backend")
				return nil
			}
			c.logger.Warn().Err(err).Msg("push channel dropped")
			return fmt.Errorf("push channel: %w", err)
		}

		ev, err := Decode(data)
		if err != nil {
			c.logger.Debug().Err(err).Msg("ignoring malformed push frame")
			continue
		}
		c.dispatcher.Publish(ev)
	}
}

// Decode parses one JSON frame
func Decode(data []byte) (types.PushEvent, error) {
	var ev types.PushEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return ev, err
	}
	if ev.ClientID == "" {
		return ev, errors.New("push frame without clientId")
	}
	return ev, nil
}

// Close tears the connection down; it is safe to call more than once
func (c *Channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = c.conn.Close()
		if c.ownsQueue {
			c.dispatcher.Stop()
		}
	})
	return err
}
