// Package peer is a JSON-RPC websocket server that speaks the link protocol.
// It answers queries and mutations once, streams subscriptions until the
// client sends stop or disconnects, and is what `rtz-link serve` runs.
package peer

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/USA-RedDragon/rtz-link/internal/protocol"
	"github.com/USA-RedDragon/rtz-link/internal/websocket"
	"github.com/gin-gonic/gin"
	gorillaWebsocket "github.com/gorilla/websocket"
	"github.com/puzpuzpuz/xsync/v3"
)

const bufferSize = 1024

type Options struct {
	Serializer *protocol.Serializer
	Logger     *slog.Logger
	// AllowedOrigins limits browser origins. Empty allows every origin.
	AllowedOrigins []string
	WriteBuffer    int
}

type Peer struct {
	procedures       *xsync.MapOf[string, procedure]
	connectedClients *xsync.Counter
	serializer       *protocol.Serializer
	logger           *slog.Logger
	writeBuffer      int
	upgrader         gorillaWebsocket.Upgrader
}

func New(opts Options) *Peer {
	serializer := opts.Serializer
	if serializer == nil {
		serializer = protocol.NewSerializer(nil, nil)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Peer{
		procedures:       xsync.NewMapOf[string, procedure](),
		connectedClients: xsync.NewCounter(),
		serializer:       serializer,
		logger:           logger,
		writeBuffer:      opts.WriteBuffer,
		upgrader: gorillaWebsocket.Upgrader{
			ReadBufferSize:  bufferSize,
			WriteBufferSize: bufferSize,
			Error: func(_ http.ResponseWriter, _ *http.Request, _ int, _ error) {
			},
			CheckOrigin:       checkOrigin(opts.AllowedOrigins),
			EnableCompression: true,
		},
	}
}

func checkOrigin(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 {
			return true
		}
		origin = strings.ToLower(origin)
		for _, host := range allowed {
			host = strings.ToLower(host)
			if strings.HasSuffix(host, ":443") && strings.HasPrefix(origin, "https://") {
				host = strings.TrimSuffix(host, ":443")
			}
			if strings.HasSuffix(host, ":80") && strings.HasPrefix(origin, "http://") {
				host = strings.TrimSuffix(host, ":80")
			}
			if strings.Contains(origin, host) {
				return true
			}
		}
		return false
	}
}

func (p *Peer) Query(path string, fn Resolver) {
	p.procedures.Store(procedureKey(protocol.OperationQuery, path), procedure{typ: protocol.OperationQuery, resolve: fn})
}

func (p *Peer) Mutation(path string, fn Resolver) {
	p.procedures.Store(procedureKey(protocol.OperationMutation, path), procedure{typ: protocol.OperationMutation, resolve: fn})
}

func (p *Peer) Subscription(path string, fn Streamer) {
	p.procedures.Store(procedureKey(protocol.OperationSubscription, path), procedure{typ: protocol.OperationSubscription, stream: fn})
}

func (p *Peer) lookup(typ protocol.OperationType, path string) (procedure, bool) {
	return p.procedures.Load(procedureKey(typ, path))
}

// ConnectedClients is the number of live sockets.
func (p *Peer) ConnectedClients() int64 {
	return p.connectedClients.Value()
}

// Handler upgrades the request and serves the socket until it closes.
func (p *Peer) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := p.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			p.logger.Error("Failed to set websocket upgrade", "error", err)
			c.AbortWithStatus(http.StatusBadRequest)
			return
		}
		p.serve(c.Request.Context(), conn)
	}
}

func (p *Peer) serve(ctx context.Context, conn *gorillaWebsocket.Conn) {
	msgType := gorillaWebsocket.TextMessage
	if p.serializer.Codec().Binary() {
		msgType = gorillaWebsocket.BinaryMessage
	}
	connection := websocket.Accept(conn, p.writeBuffer, p.logger, nil)
	s := newSession(ctx, p, connection, msgType)

	p.connectedClients.Inc()
	s.logger.Info("RPC websocket connected")
	defer func() {
		s.close()
		p.connectedClients.Dec()
		s.logger.Info("RPC websocket disconnected")
	}()

	if err := connection.Serve(s.onMessage); err != nil {
		s.logger.Debug("RPC websocket read failed", "error", err)
	}
}
