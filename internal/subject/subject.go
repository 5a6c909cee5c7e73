// Package subject implements a single-slot observable value.
//
// A Subject holds at most one current value and an ordered list of
// subscribers. Set notifies every live subscriber synchronously, in
// subscription order, on the calling goroutine. Complete is terminal.
// Subscribers are never replayed the current value.
package subject

import (
	"sync"
	"sync/atomic"
)

type subscriber[T any] struct {
	onNext func(T)
	onDone func()
	active atomic.Bool
}

type Subject[T any] struct {
	mu          sync.Mutex
	value       T
	hasValue    bool
	completed   bool
	subscribers []*subscriber[T]
}

// New creates an empty Subject.
func New[T any]() *Subject[T] {
	return &Subject[T]{}
}

// NewWithValue creates a Subject holding an initial value.
func NewWithValue[T any](value T) *Subject[T] {
	return &Subject[T]{value: value, hasValue: true}
}

// Get returns the current value and whether one was ever set.
func (s *Subject[T]) Get() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value, s.hasValue
}

// Set stores the value and notifies subscribers. No-op once completed.
func (s *Subject[T]) Set(value T) {
	s.mu.Lock()
	if s.completed {
		s.mu.Unlock()
		return
	}
	s.value = value
	s.hasValue = true
	subs := make([]*subscriber[T], len(s.subscribers))
	copy(subs, s.subscribers)
	s.mu.Unlock()

	for _, sub := range subs {
		if sub.active.Load() && sub.onNext != nil {
			sub.onNext(value)
		}
	}
}

// Subscribe registers callbacks and returns an idempotent unsubscribe func.
// onDone may be nil. Subscribing to a completed Subject calls onDone
// immediately and returns a no-op.
func (s *Subject[T]) Subscribe(onNext func(T), onDone func()) func() {
	sub := &subscriber[T]{onNext: onNext, onDone: onDone}
	sub.active.Store(true)

	s.mu.Lock()
	if s.completed {
		s.mu.Unlock()
		if onDone != nil {
			onDone()
		}
		return func() {}
	}
	s.subscribers = append(s.subscribers, sub)
	s.mu.Unlock()

	return func() {
		if !sub.active.CompareAndSwap(true, false) {
			return
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, candidate := range s.subscribers {
			if candidate == sub {
				s.subscribers = append(s.subscribers[:i], s.subscribers[i+1:]...)
				break
			}
		}
	}
}

// Complete marks the Subject done, calls every subscriber's onDone once
// and drops all subscriber references. Subsequent calls are no-ops.
func (s *Subject[T]) Complete() {
	s.mu.Lock()
	if s.completed {
		s.mu.Unlock()
		return
	}
	s.completed = true
	subs := s.subscribers
	s.subscribers = nil
	s.mu.Unlock()

	for _, sub := range subs {
		if sub.active.CompareAndSwap(true, false) && sub.onDone != nil {
			sub.onDone()
		}
	}
}

// Completed reports whether Complete has been called.
func (s *Subject[T]) Completed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed
}

// Len returns the number of live subscribers.
func (s *Subject[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subscribers)
}
