// Package websocket manages the single long-lived websocket a link
// multiplexes its requests over.
package websocket

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/USA-RedDragon/rtz-link/internal/metrics"
	"github.com/USA-RedDragon/rtz-link/internal/subject"
	"github.com/gorilla/websocket"
)

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

type Options struct {
	URL              string
	Header           http.Header
	HandshakeTimeout time.Duration
	WriteBuffer      int
	// Binary sends frames as binary messages instead of text.
	Binary  bool
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Client owns at most one Connection at a time. It never reconnects on its
// own: a dropped connection flips IsOpen to false and is reported on Errors,
// and a supervisor decides whether to call Reconnect.
type Client struct {
	opts   Options
	dialer websocket.Dialer
	logger *slog.Logger

	isOpen   *subject.Subject[bool]
	messages *subject.Subject[[]byte]
	closed   *subject.Subject[bool]
	errs     *subject.Subject[error]
	current  *subject.Subject[*Connection]

	mu        sync.Mutex
	state     State
	live      *Connection
	lastErr   error
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// NewClient creates the client and starts connecting in the background.
func NewClient(opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		opts: opts,
		dialer: websocket.Dialer{
			Proxy:             http.ProxyFromEnvironment,
			HandshakeTimeout:  opts.HandshakeTimeout,
			ReadBufferSize:    bufferSize,
			WriteBufferSize:   bufferSize,
			EnableCompression: true,
		},
		logger:   logger.With("url", opts.URL),
		isOpen:   subject.NewWithValue(false),
		messages: subject.New[[]byte](),
		closed:   subject.NewWithValue(false),
		errs:     subject.New[error](),
		current:  subject.New[*Connection](),
		ctx:      ctx,
		cancel:   cancel,
	}

	c.closed.Subscribe(func(closed bool) {
		if closed {
			c.shutdown()
		}
	}, nil)

	c.connect()
	return c
}

// IsOpen publishes whether a connection is currently usable.
func (c *Client) IsOpen() *subject.Subject[bool] {
	return c.isOpen
}

// Messages publishes every inbound data frame.
func (c *Client) Messages() *subject.Subject[[]byte] {
	return c.messages
}

// Closed publishes true once the user closed the client.
func (c *Client) Closed() *subject.Subject[bool] {
	return c.closed
}

// Errors publishes dial failures and dropped connections.
func (c *Client) Errors() *subject.Subject[error] {
	return c.errs
}

// Current returns the live connection, or nil.
func (c *Client) Current() *Connection {
	conn, _ := c.current.Get()
	return conn
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) IsClosed() bool {
	closed, _ := c.closed.Get()
	return closed
}

// Send writes one frame on the live connection.
func (c *Client) Send(data []byte) error {
	if open, _ := c.isOpen.Get(); !open {
		return ErrNotOpen
	}
	conn := c.Current()
	if conn == nil {
		return ErrNotOpen
	}
	msgType := websocket.TextMessage
	if c.opts.Binary {
		msgType = websocket.BinaryMessage
	}
	return conn.Send(Message{Type: msgType, Data: data})
}

// Reconnect replaces a dropped connection. It is a no-op while connecting
// or open, and fails once the client is closed.
func (c *Client) Reconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateClosed:
		return ErrClosed
	case StateConnecting, StateOpen:
		return nil
	}
	c.connectLocked()
	return nil
}

// WaitOpen blocks until the client is open, the current attempt fails, the
// client is closed, or ctx is done.
func (c *Client) WaitOpen(ctx context.Context) error {
	opened := make(chan struct{}, 1)
	failed := make(chan error, 1)
	unsubOpen := c.isOpen.Subscribe(func(open bool) {
		if open {
			select {
			case opened <- struct{}{}:
			default:
			}
		}
	}, func() {
		select {
		case failed <- ErrClosed:
		default:
		}
	})
	defer unsubOpen()
	unsubErr := c.errs.Subscribe(func(err error) {
		select {
		case failed <- err:
		default:
		}
	}, nil)
	defer unsubErr()

	c.mu.Lock()
	state, lastErr := c.state, c.lastErr
	c.mu.Unlock()
	switch state {
	case StateOpen:
		return nil
	case StateClosed:
		return ErrClosed
	case StateDisconnected:
		if lastErr != nil {
			return lastErr
		}
	}

	select {
	case <-opened:
		return nil
	case err := <-failed:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close tears the client down. It is safe to call more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Set(true)
		c.closed.Complete()
	})
	return nil
}

func (c *Client) shutdown() {
	c.mu.Lock()
	c.state = StateClosed
	live := c.live
	c.live = nil
	c.mu.Unlock()
	c.cancel()

	if live != nil {
		live.close()
	}
	c.current.Complete()
	c.isOpen.Set(false)
	c.isOpen.Complete()
	c.messages.Complete()
	c.errs.Complete()
	c.opts.Metrics.SetConnectionOpen(false)
	c.logger.Info("Websocket client closed")
}

func (c *Client) connect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connectLocked()
}

func (c *Client) connectLocked() {
	c.state = StateConnecting
	c.lastErr = nil
	go c.dial()
}

func (c *Client) dial() {
	conn, resp, err := c.dialer.DialContext(c.ctx, c.opts.URL, c.opts.Header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		c.mu.Lock()
		if c.state == StateClosed {
			c.mu.Unlock()
			return
		}
		err = fmt.Errorf("failed to dial websocket: %w", err)
		c.state = StateDisconnected
		c.lastErr = err
		c.mu.Unlock()
		c.logger.Warn("Websocket dial failed", "error", err)
		c.errs.Set(err)
		return
	}

	connection := newConnection(conn, c.opts.WriteBuffer, c.logger, c.opts.Metrics)

	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		connection.close()
		return
	}
	c.state = StateOpen
	c.live = connection
	c.mu.Unlock()

	go connection.writePump()

	c.current.Set(connection)
	c.isOpen.Set(true)
	c.opts.Metrics.SetConnectionOpen(true)
	connection.logger.Info("Websocket connected")

	err = connection.readPump(c.messages.Set)
	if err != nil {
		err = fmt.Errorf("websocket read failed: %w", err)
	} else if err = connection.Err(); err == nil {
		// Closed through Current().Close() rather than by the client.
		err = ErrClosed
	}
	connection.closeWith(err)

	c.mu.Lock()
	if c.state == StateClosed || c.live != connection {
		c.mu.Unlock()
		return
	}
	c.state = StateDisconnected
	c.live = nil
	c.lastErr = err
	c.mu.Unlock()

	connection.logger.Warn("Websocket connection dropped", "error", err)
	c.current.Set(nil)
	c.isOpen.Set(false)
	c.opts.Metrics.SetConnectionOpen(false)
	c.errs.Set(err)
}
