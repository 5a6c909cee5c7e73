// Package bridge relays NATS requests over a link. Each request message
// carries one operation and is answered with its first result.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/USA-RedDragon/rtz-link/internal/metrics"
	"github.com/USA-RedDragon/rtz-link/internal/protocol"
	"github.com/USA-RedDragon/rtz-link/internal/rpcerror"
	"github.com/nats-io/nats.go"
)

const DefaultTimeout = 30 * time.Second

// Caller runs one operation to completion. *link.Link implements it.
type Caller interface {
	Call(ctx context.Context, typ protocol.OperationType, path string, input any) (any, error)
}

// Request is the payload of a relayed NATS message.
type Request struct {
	Type  protocol.OperationType `json:"type"`
	Path  string                 `json:"path"`
	Input any                    `json:"input,omitempty"`
}

type Options struct {
	Subject string
	Queue   string
	Timeout time.Duration
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

type Bridge struct {
	nc      *nats.Conn
	caller  Caller
	opts    Options
	logger  *slog.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	natsSub *nats.Subscription
}

func New(nc *nats.Conn, caller Caller, opts Options) *Bridge {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		nc:     nc,
		caller: caller,
		opts:   opts,
		logger: logger.With("subject", opts.Subject),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to the configured subject, joining the queue group when
// one is set.
func (b *Bridge) Start() error {
	var (
		sub *nats.Subscription
		err error
	)
	if b.opts.Queue != "" {
		sub, err = b.nc.QueueSubscribe(b.opts.Subject, b.opts.Queue, b.onMsg)
	} else {
		sub, err = b.nc.Subscribe(b.opts.Subject, b.onMsg)
	}
	if err != nil {
		b.opts.Metrics.IncrementBridgeErrors("nats_subscribe")
		return fmt.Errorf("failed to subscribe to %s: %w", b.opts.Subject, err)
	}
	b.natsSub = sub
	b.logger.Info("NATS bridge started", "queue", b.opts.Queue)
	return nil
}

// Stop drains the subscription and abandons in-flight relays.
func (b *Bridge) Stop() error {
	defer b.cancel()
	if b.natsSub == nil {
		return nil
	}
	if err := b.natsSub.Drain(); err != nil {
		return fmt.Errorf("failed to drain NATS subscription: %w", err)
	}
	return nil
}

func (b *Bridge) onMsg(msg *nats.Msg) {
	resp := b.Handle(b.ctx, msg.Data)
	if err := msg.Respond(resp); err != nil {
		b.opts.Metrics.IncrementBridgeErrors("nats_respond")
		b.logger.Warn("Error responding to NATS", "error", err)
	}
}

// Handle relays one encoded Request and returns the encoded protocol.Result.
func (b *Bridge) Handle(ctx context.Context, data []byte) []byte {
	b.opts.Metrics.IncrementBridgeRequests()
	return b.encode(b.relay(ctx, data))
}

func (b *Bridge) relay(ctx context.Context, data []byte) protocol.Result {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		b.opts.Metrics.IncrementBridgeErrors("unmarshal_request")
		b.logger.Warn("Error unmarshalling bridge request", "error", err)
		return failure(protocol.CodeParseError, "Failed to parse request")
	}
	if req.Type == protocol.OperationSubscription {
		b.opts.Metrics.IncrementBridgeErrors("subscription")
		return failure(protocol.CodeMethodNotSupported, "Subscriptions cannot be relayed over request/reply")
	}
	if !req.Type.Valid() {
		b.opts.Metrics.IncrementBridgeErrors("unknown_type")
		return failure(protocol.CodeMethodNotSupported, fmt.Sprintf("Unknown operation type %q", req.Type))
	}

	ctx, cancel := context.WithTimeout(ctx, b.opts.Timeout)
	defer cancel()
	result, err := b.caller.Call(ctx, req.Type, req.Path, req.Input)
	if err == nil {
		return protocol.Success(result)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		b.opts.Metrics.IncrementBridgeErrors("timeout")
		return failure(protocol.CodeTimeout, "Timed out waiting for a result")
	}
	rpcErr := rpcerror.From(err, nil)
	if rpcErr.Shape != nil {
		b.opts.Metrics.IncrementBridgeErrors("remote")
		return protocol.Result{Error: rpcErr.Shape}
	}
	b.opts.Metrics.IncrementBridgeErrors("link")
	b.logger.Warn("Bridge call failed", "path", req.Path, "error", err)
	return failure(protocol.CodeInternalServerError, rpcErr.Message)
}

func (b *Bridge) encode(result protocol.Result) []byte {
	data, err := json.Marshal(result)
	if err != nil {
		b.opts.Metrics.IncrementBridgeErrors("marshal_response")
		b.logger.Warn("Error marshalling bridge response", "error", err)
		data, _ = json.Marshal(failure(protocol.CodeInternalServerError, "Failed to encode result"))
	}
	return data
}

func failure(code int, message string) protocol.Result {
	return protocol.Failure(code, message, map[string]any{"code": protocol.CodeName(code)})
}
