// Package registry tracks requests that are still awaiting results.
package registry

import (
	"fmt"
	"slices"

	"github.com/USA-RedDragon/rtz-link/internal/protocol"
	"github.com/USA-RedDragon/rtz-link/internal/subject"
	"github.com/go-errors/errors"
	"github.com/puzpuzpuz/xsync/v3"
)

var ErrDuplicateID = errors.New("duplicate request id")

type Registry struct {
	pending *xsync.MapOf[int64, *subject.Subject[protocol.Result]]
}

func New() *Registry {
	return &Registry{
		pending: xsync.NewMapOf[int64, *subject.Subject[protocol.Result]](),
	}
}

// Register creates the result stream for id. It fails if id is already
// registered; the existing entry is left untouched.
func (r *Registry) Register(id int64) (*subject.Subject[protocol.Result], error) {
	s := subject.New[protocol.Result]()
	if _, loaded := r.pending.LoadOrStore(id, s); loaded {
		return nil, fmt.Errorf("%w: %d", ErrDuplicateID, id)
	}
	return s, nil
}

// Deliver pushes result to the stream registered for id. It reports false
// when no such request is pending.
func (r *Registry) Deliver(id int64, result protocol.Result) bool {
	s, ok := r.pending.Load(id)
	if !ok {
		return false
	}
	s.Set(result)
	return true
}

// Cancel removes id and completes its stream. Cancelling an unknown id is a no-op.
func (r *Registry) Cancel(id int64) bool {
	s, loaded := r.pending.LoadAndDelete(id)
	if !loaded {
		return false
	}
	s.Complete()
	return true
}

func (r *Registry) Has(id int64) bool {
	_, ok := r.pending.Load(id)
	return ok
}

func (r *Registry) Len() int {
	return r.pending.Size()
}

// IDs returns the pending ids in ascending order.
func (r *Registry) IDs() []int64 {
	ids := make([]int64, 0, r.pending.Size())
	r.pending.Range(func(id int64, _ *subject.Subject[protocol.Result]) bool {
		ids = append(ids, id)
		return true
	})
	slices.Sort(ids)
	return ids
}
