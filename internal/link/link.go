// Package link multiplexes calls and subscriptions over one connection.
//
// Every operation gets an id from a per-link counter, a result stream in
// the pending-request registry once the connection is open, and a stop
// message when the caller tears it down.
package link

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/USA-RedDragon/rtz-link/internal/metrics"
	"github.com/USA-RedDragon/rtz-link/internal/protocol"
	"github.com/USA-RedDragon/rtz-link/internal/registry"
	"github.com/USA-RedDragon/rtz-link/internal/router"
	"github.com/USA-RedDragon/rtz-link/internal/rpcerror"
	"github.com/USA-RedDragon/rtz-link/internal/subject"
	"github.com/go-errors/errors"
	"github.com/puzpuzpuz/xsync/v3"
)

var (
	ErrDuplicateID      = errors.New("duplicate request id")
	ErrConnectionClosed = errors.New("connection closed")
	ErrLinkClosed       = errors.New("link closed")
	ErrUnknownOperation = errors.New("unknown operation type")
)

// Transport is the connection a link sends through. *websocket.Client
// implements it.
type Transport interface {
	IsOpen() *subject.Subject[bool]
	Messages() *subject.Subject[[]byte]
	Send(data []byte) error
}

type Operation struct {
	Type  protocol.OperationType
	Path  string
	Input any
}

// Observer receives the outcomes of one operation. Callbacks run on the
// goroutine that delivered the frame and must not block.
type Observer struct {
	OnNext  func(data any)
	OnError func(err *rpcerror.Error)
}

type Option func(*Link)

// WithRegistry makes the link use r for its pending requests.
func WithRegistry(r *registry.Registry) Option {
	return func(l *Link) {
		if r != nil {
			l.registry = r
		}
	}
}

func WithSerializer(s *protocol.Serializer) Option {
	return func(l *Link) {
		if s != nil {
			l.serializer = s
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(l *Link) {
		if logger != nil {
			l.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Link) {
		l.metrics = m
	}
}

type Link struct {
	transport  Transport
	registry   *registry.Registry
	serializer *protocol.Serializer
	logger     *slog.Logger
	metrics    *metrics.Metrics

	nextID atomic.Int64
	// cause is set once no further results can arrive.
	cause atomic.Pointer[error]
	// requests holds every request from Execute until it ends.
	requests *xsync.MapOf[int64, *Request]

	detach    func()
	closeOnce sync.Once
}

func New(transport Transport, opts ...Option) *Link {
	l := &Link{
		transport:  transport,
		registry:   registry.New(),
		serializer: protocol.NewSerializer(nil, nil),
		logger:     slog.Default(),
		requests:   xsync.NewMapOf[int64, *Request](),
	}
	for _, opt := range opts {
		opt(l)
	}

	r := router.New(l.registry, l.serializer, l.logger, l.metrics)
	l.detach = r.Attach(transport.Messages(), func() {
		l.shutdown(ErrConnectionClosed)
	})
	return l
}

// Execute starts op and returns its handle. The request frame is written as
// soon as the transport is open; until then the operation waits without
// blocking. Cancelling ctx is equivalent to calling Destroy.
func (l *Link) Execute(ctx context.Context, op Operation, observer Observer) (*Request, error) {
	if !op.Type.Valid() {
		return nil, rpcerror.From(fmt.Errorf("%w: %q", ErrUnknownOperation, op.Type), nil)
	}
	if cause := l.cause.Load(); cause != nil {
		return nil, rpcerror.From(*cause, nil)
	}

	id := l.nextID.Add(1)
	if l.registry.Has(id) {
		l.metrics.IncrementRequestErrors("duplicate_id")
		return nil, rpcerror.From(fmt.Errorf("%w: %d", ErrDuplicateID, id), nil)
	}
	l.metrics.IncrementRequests(string(op.Type))

	req := &Request{
		id:       id,
		link:     l,
		op:       op,
		observer: observer,
	}

	l.requests.Store(id, req)
	unsubOpen := l.transport.IsOpen().Subscribe(func(open bool) {
		if open {
			req.exec()
		}
	}, func() {
		req.abort(ErrConnectionClosed)
	})
	req.setWaiting(unsubOpen)

	// A shutdown that ran before the Store above did not see this request.
	if cause := l.cause.Load(); cause != nil {
		req.abort(*cause)
	}
	if open, _ := l.transport.IsOpen().Get(); open {
		req.exec()
	}

	if ctx != nil && ctx.Done() != nil {
		stopCtxWatch := context.AfterFunc(ctx, req.Destroy)
		req.setCtxWatch(stopCtxWatch)
	}
	return req, nil
}

// Pending returns the ids still awaiting results.
func (l *Link) Pending() []int64 {
	return l.registry.IDs()
}

// Close detaches the link from its transport and ends every operation
// with ErrLinkClosed. Stop messages are still sent for registered requests.
func (l *Link) Close() {
	l.closeOnce.Do(func() {
		l.detach()
		l.shutdown(ErrLinkClosed)
	})
}

func (l *Link) shutdown(cause error) {
	if !l.cause.CompareAndSwap(nil, &cause) {
		return
	}
	l.logger.Debug("Link shutting down", "cause", cause, "pending", l.registry.Len())
	l.requests.Range(func(_ int64, req *Request) bool {
		req.shutdown(cause)
		return true
	})
	for _, id := range l.registry.IDs() {
		l.registry.Cancel(id)
	}
}

func (l *Link) shutdownCause() error {
	if cause := l.cause.Load(); cause != nil {
		return *cause
	}
	return nil
}

func (l *Link) send(req protocol.Request) error {
	data, err := l.serializer.EncodeRequest(req)
	if err != nil {
		return err
	}
	if err := l.transport.Send(data); err != nil {
		return fmt.Errorf("failed to send request %d: %w", req.ID, err)
	}
	return nil
}
