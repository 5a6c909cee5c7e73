package websocket

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/USA-RedDragon/rtz-link/internal/metrics"
	"github.com/go-errors/errors"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	bufferSize   = 1024
	writeTimeout = 10 * time.Second
)

var (
	ErrNotOpen = errors.New("connection not open")
	ErrClosed  = errors.New("connection closed")
)

type Message struct {
	Type int
	Data []byte
}

// Connection is one physical websocket. It is never reused once closed.
type Connection struct {
	id        uuid.UUID
	conn      *websocket.Conn
	writer    chan Message
	done      chan struct{}
	closeOnce sync.Once
	// cause is written once, before done is closed.
	cause   error
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func newConnection(conn *websocket.Conn, writeBuffer int, logger *slog.Logger, metrics *metrics.Metrics) *Connection {
	if writeBuffer <= 0 {
		writeBuffer = bufferSize
	}
	id := uuid.New()
	return &Connection{
		id:      id,
		conn:    conn,
		writer:  make(chan Message, writeBuffer),
		done:    make(chan struct{}),
		logger:  logger.With("conn", id.String()),
		metrics: metrics,
	}
}

func (c *Connection) ID() uuid.UUID {
	return c.id
}

// Done is closed once the connection has been torn down.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Send queues msg for the write pump.
func (c *Connection) Send(msg Message) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.writer <- msg:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

// Accept wraps a socket upgraded by a server.
func Accept(conn *websocket.Conn, writeBuffer int, logger *slog.Logger, metrics *metrics.Metrics) *Connection {
	if logger == nil {
		logger = slog.Default()
	}
	return newConnection(conn, writeBuffer, logger, metrics)
}

// Serve pumps frames until the socket fails or Close is called. Inbound data
// frames are handed to onMessage on the calling goroutine.
func (c *Connection) Serve(onMessage func([]byte)) error {
	go c.writePump()
	err := c.readPump(onMessage)
	c.close()
	return err
}

func (c *Connection) Close() {
	c.close()
}

// Err returns the failure that closed the connection. It is nil while the
// connection is open or when it was closed locally.
func (c *Connection) Err() error {
	if !c.closed() {
		return nil
	}
	return c.cause
}

func (c *Connection) close() {
	c.closeWith(nil)
}

func (c *Connection) closeWith(cause error) {
	c.closeOnce.Do(func() {
		c.cause = cause
		close(c.done)
		deadline := time.Now().Add(time.Second)
		_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = c.conn.Close()
	})
}

func (c *Connection) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Connection) writePump() {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.writer:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(msg.Type, msg.Data); err != nil {
				c.logger.Warn("Websocket write failed", "error", err)
				c.closeWith(fmt.Errorf("websocket write failed: %w", err))
				return
			}
			c.metrics.IncrementFramesSent()
		}
	}
}

// readPump forwards every data frame to onMessage until the socket fails.
// It returns the read error, or nil if the connection was closed locally.
func (c *Connection) readPump(onMessage func([]byte)) error {
	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if c.closed() {
				return nil
			}
			return err
		}
		c.metrics.IncrementFramesReceived()
		onMessage(msg)
	}
}
