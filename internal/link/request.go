package link

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/USA-RedDragon/rtz-link/internal/protocol"
	"github.com/USA-RedDragon/rtz-link/internal/rpcerror"
)

// Request is one in-flight operation.
type Request struct {
	id       int64
	link     *Link
	op       Operation
	observer Observer

	mu         sync.Mutex
	started    bool
	destroyed  bool
	registered bool
	// stopWaiting drops the deferred-open watch.
	stopWaiting  func()
	stopCtxWatch func() bool

	byCaller   atomic.Bool
	skipStop   atomic.Bool
	terminated atomic.Bool
}

func (r *Request) ID() int64 {
	return r.id
}

// Destroy tears the operation down. It is idempotent and safe at any stage:
// a waiting request never sends, a registered one is removed from the
// registry and a stop message is sent.
func (r *Request) Destroy() {
	r.mu.Lock()
	if r.destroyed {
		r.mu.Unlock()
		return
	}
	r.destroyed = true
	r.byCaller.Store(true)
	stopWaiting := r.stopWaiting
	r.stopWaiting = nil
	stopCtxWatch := r.stopCtxWatch
	r.stopCtxWatch = nil
	registered := r.registered
	r.mu.Unlock()

	if stopWaiting != nil {
		stopWaiting()
	}
	if stopCtxWatch != nil {
		stopCtxWatch()
	}
	if registered {
		r.link.registry.Cancel(r.id)
	}
	r.release()
}

// release forgets the request once nothing more can happen to it.
func (r *Request) release() {
	r.link.requests.Delete(r.id)
}

func (r *Request) setWaiting(stop func()) {
	r.mu.Lock()
	if r.started || r.destroyed {
		r.mu.Unlock()
		stop()
		return
	}
	r.stopWaiting = stop
	r.mu.Unlock()
}

func (r *Request) setCtxWatch(stop func() bool) {
	r.mu.Lock()
	if r.destroyed {
		r.mu.Unlock()
		stop()
		return
	}
	r.stopCtxWatch = stop
	r.mu.Unlock()
}

// exec registers the result stream and writes the request frame. Only the
// first call does anything.
func (r *Request) exec() {
	r.mu.Lock()
	if r.started || r.destroyed {
		r.mu.Unlock()
		return
	}
	r.started = true
	stopWaiting := r.stopWaiting
	r.stopWaiting = nil

	l := r.link
	// Checked under r.mu: shutdown waits for this lock, so either it sees
	// the request registered or this sees the cause.
	if cause := l.shutdownCause(); cause != nil {
		r.destroyed = true
		r.mu.Unlock()
		if stopWaiting != nil {
			stopWaiting()
		}
		l.metrics.IncrementRequestErrors("closed")
		r.release()
		r.fail(cause)
		return
	}
	results, err := l.registry.Register(r.id)
	if err != nil {
		r.destroyed = true
		r.mu.Unlock()
		if stopWaiting != nil {
			stopWaiting()
		}
		l.metrics.IncrementRequestErrors("duplicate_id")
		r.release()
		r.fail(errors.Join(ErrDuplicateID, err))
		return
	}
	l.metrics.IncrementRequestsInFlight()
	results.Subscribe(r.onResult, r.onResultDone)
	r.registered = true

	// Registered before sending so an immediate reply finds its stream.
	err = l.send(protocol.NewRequest(r.id, r.op.Type, r.op.Path, r.op.Input))
	if err != nil {
		r.destroyed = true
		r.skipStop.Store(true)
	}
	r.mu.Unlock()

	if stopWaiting != nil {
		stopWaiting()
	}
	if err != nil {
		l.registry.Cancel(r.id)
		l.metrics.IncrementRequestErrors("transport")
		l.logger.Debug("Failed to send request", "id", r.id, "error", err)
		r.fail(err)
	}
}

// abort ends a request that is still waiting for the connection to open.
func (r *Request) abort(cause error) {
	r.mu.Lock()
	if r.started || r.destroyed {
		r.mu.Unlock()
		return
	}
	r.destroyed = true
	stopWaiting := r.stopWaiting
	r.stopWaiting = nil
	r.mu.Unlock()

	if stopWaiting != nil {
		stopWaiting()
	}
	r.link.metrics.IncrementRequestErrors("closed")
	r.release()
	r.fail(cause)
}

// shutdown ends the request because the link is going away. It waits out a
// concurrent exec so that a written request frame is always followed by its
// stop.
func (r *Request) shutdown(cause error) {
	r.mu.Lock()
	if !r.started && !r.destroyed {
		r.mu.Unlock()
		r.abort(cause)
		return
	}
	registered := r.registered && !r.destroyed
	r.mu.Unlock()
	if registered {
		r.link.registry.Cancel(r.id)
	}
}

// onResult forwards one result. A remote error ends the request, and so
// does the first result of a query or mutation.
func (r *Request) onResult(result protocol.Result) {
	if r.byCaller.Load() {
		return
	}
	if !result.OK || r.op.Type != protocol.OperationSubscription {
		if !r.terminated.CompareAndSwap(false, true) {
			return
		}
	} else if r.terminated.Load() {
		return
	}
	if result.OK {
		if r.observer.OnNext != nil {
			r.observer.OnNext(result.Data)
		}
		return
	}
	r.link.metrics.IncrementRequestErrors("remote")
	if r.observer.OnError != nil {
		r.observer.OnError(rpcerror.FromShape(result.Error, nil))
	}
}

// onResultDone runs once the request leaves the registry.
func (r *Request) onResultDone() {
	l := r.link
	l.metrics.DecrementRequestsInFlight()
	defer r.release()

	cause := l.shutdownCause()
	if !r.skipStop.Load() && !errors.Is(cause, ErrConnectionClosed) {
		if err := l.send(protocol.NewStop(r.id)); err != nil {
			l.logger.Debug("Failed to send stop", "id", r.id, "error", err)
		}
	}
	if cause != nil && !r.byCaller.Load() {
		l.metrics.IncrementRequestErrors("closed")
		r.fail(cause)
	}
}

// fail delivers the request's single terminal error, unless a result
// already ended it.
func (r *Request) fail(err error) {
	if !r.terminated.CompareAndSwap(false, true) {
		return
	}
	if r.observer.OnError != nil {
		r.observer.OnError(rpcerror.From(err, map[string]any{"id": r.id, "path": r.op.Path}))
	}
}
