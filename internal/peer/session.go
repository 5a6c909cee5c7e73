package peer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/USA-RedDragon/rtz-link/internal/protocol"
	"github.com/USA-RedDragon/rtz-link/internal/websocket"
	gorillaWebsocket "github.com/gorilla/websocket"
	"github.com/puzpuzpuz/xsync/v3"
)

// call is one running procedure on a session.
type call struct {
	cancel context.CancelFunc
}

type session struct {
	peer    *Peer
	conn    *websocket.Connection
	msgType int
	ctx     context.Context
	cancel  context.CancelFunc
	active  *xsync.MapOf[int64, *call]
	logger  *slog.Logger
}

func newSession(ctx context.Context, p *Peer, conn *websocket.Connection, msgType int) *session {
	ctx, cancel := context.WithCancel(ctx)
	return &session{
		peer:    p,
		conn:    conn,
		msgType: msgType,
		ctx:     ctx,
		cancel:  cancel,
		active:  xsync.NewMapOf[int64, *call](),
		logger:  p.logger.With("conn", conn.ID().String()),
	}
}

func (s *session) close() {
	s.cancel()
	s.active.Clear()
}

func (s *session) onMessage(msg []byte) {
	if strings.EqualFold(string(msg), "ping") {
		_ = s.conn.Send(websocket.Message{Type: gorillaWebsocket.TextMessage, Data: []byte("PONG")})
		return
	}

	req, err := s.peer.serializer.DecodeRequest(msg)
	if err != nil {
		s.logger.Warn("Error unmarshalling RPC call", "error", err)
		s.reply(nil, protocol.Failure(protocol.CodeParseError, "Failed to parse request", map[string]any{
			"code": protocol.CodeName(protocol.CodeParseError),
		}))
		return
	}

	if req.IsStop() {
		if c, loaded := s.active.LoadAndDelete(req.ID); loaded {
			s.logger.Debug("RPC stopped", "id", req.ID)
			c.cancel()
		}
		return
	}

	typ, err := protocol.ParseOperationType(req.Method)
	if err != nil {
		s.logger.Warn("Unknown RPC method", "method", req.Method)
		s.reply(&req.ID, protocol.Failure(protocol.CodeMethodNotSupported, err.Error(), map[string]any{
			"code": protocol.CodeName(protocol.CodeMethodNotSupported),
		}))
		return
	}
	if req.Params == nil {
		s.reply(&req.ID, protocol.Failure(protocol.CodeBadRequest, "Missing params", map[string]any{
			"code": protocol.CodeName(protocol.CodeBadRequest),
		}))
		return
	}
	path := req.Params.Path

	proc, ok := s.peer.lookup(typ, path)
	if !ok {
		s.reply(&req.ID, protocol.Failure(protocol.CodeNotFound, fmt.Sprintf("No %s procedure on path %q", typ, path), map[string]any{
			"code": protocol.CodeName(protocol.CodeNotFound),
			"path": path,
		}))
		return
	}

	ctx, cancel := context.WithCancel(s.ctx)
	c := &call{cancel: cancel}
	if _, loaded := s.active.LoadOrStore(req.ID, c); loaded {
		cancel()
		s.reply(&req.ID, protocol.Failure(protocol.CodeBadRequest, fmt.Sprintf("Duplicate id %d", req.ID), map[string]any{
			"code": protocol.CodeName(protocol.CodeBadRequest),
			"path": path,
		}))
		return
	}

	go s.run(ctx, req.ID, c, proc, path, req.Params.Input)
}

func (s *session) run(ctx context.Context, id int64, c *call, proc procedure, path string, input any) {
	defer s.finish(id, c)

	if proc.stream == nil {
		data, err := proc.resolve(ctx, input)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			s.reply(&id, shapeOf(err, path))
			return
		}
		s.reply(&id, protocol.Success(data))
		return
	}

	emit := func(data any) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return s.reply(&id, protocol.Success(data))
	}
	err := proc.stream(ctx, input, emit)
	if err != nil && ctx.Err() == nil {
		s.reply(&id, shapeOf(err, path))
	}
}

// finish removes c unless a stop already replaced or removed it.
func (s *session) finish(id int64, c *call) {
	c.cancel()
	s.active.Compute(id, func(old *call, loaded bool) (*call, bool) {
		return old, !loaded || old == c
	})
}

func (s *session) reply(id *int64, result protocol.Result) error {
	resp := protocol.Response{
		ID:             id,
		JSONRPCVersion: protocol.JSONRPCVersion,
		Result:         &result,
	}
	data, err := s.peer.serializer.EncodeResponse(resp)
	if err != nil {
		s.logger.Warn("Error marshalling response data", "error", err)
		return err
	}
	if err := s.conn.Send(websocket.Message{Type: s.msgType, Data: data}); err != nil {
		s.logger.Debug("Error writing response", "error", err)
		return err
	}
	return nil
}
