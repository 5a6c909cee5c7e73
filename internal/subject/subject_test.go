package subject_test

import (
	"sync"
	"testing"

	"github.com/USA-RedDragon/rtz-link/internal/subject"
)

func TestSetNotifiesInOrder(t *testing.T) {
	t.Parallel()
	s := subject.New[int]()

	var got []int
	var order []string
	s.Subscribe(func(v int) {
		got = append(got, v)
		order = append(order, "first")
	}, nil)
	s.Subscribe(func(int) {
		order = append(order, "second")
	}, nil)

	for i := 1; i <= 3; i++ {
		s.Set(i)
	}

	if len(got) != 3 || got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Errorf("unexpected values: %v", got)
	}
	if len(order) != 6 || order[0] != "first" || order[1] != "second" {
		t.Errorf("unexpected notification order: %v", order)
	}
	if v, ok := s.Get(); !ok || v != 3 {
		t.Errorf("unexpected current value: %d (set=%v)", v, ok)
	}
}

func TestGetEmpty(t *testing.T) {
	t.Parallel()
	s := subject.New[string]()
	if _, ok := s.Get(); ok {
		t.Error("expected empty subject to report no value")
	}
	s2 := subject.NewWithValue(false)
	if v, ok := s2.Get(); !ok || v {
		t.Errorf("unexpected initial value: %v (set=%v)", v, ok)
	}
}

func TestSubscribeDoesNotReplay(t *testing.T) {
	t.Parallel()
	s := subject.NewWithValue(7)
	calls := 0
	s.Subscribe(func(int) { calls++ }, nil)
	if calls != 0 {
		t.Errorf("expected no replay, got %d calls", calls)
	}
}

func TestCompleteIsTerminal(t *testing.T) {
	t.Parallel()
	s := subject.New[int]()

	var next, done int
	s.Subscribe(func(int) { next++ }, func() { done++ })
	s.Subscribe(func(int) { next++ }, func() { done++ })

	s.Set(1)
	s.Complete()
	s.Complete()
	s.Set(2)

	if next != 2 {
		t.Errorf("expected 2 next calls, got %d", next)
	}
	if done != 2 {
		t.Errorf("expected exactly one done per subscriber, got %d", done)
	}
	if s.Len() != 0 {
		t.Errorf("expected subscribers to be released, got %d", s.Len())
	}
	if !s.Completed() {
		t.Error("expected subject to be completed")
	}
}

func TestSubscribeAfterComplete(t *testing.T) {
	t.Parallel()
	s := subject.New[int]()
	s.Complete()

	done := 0
	unsub := s.Subscribe(func(int) { t.Error("unexpected value") }, func() { done++ })
	unsub()
	unsub()
	s.Set(3)

	if done != 1 {
		t.Errorf("expected one done call, got %d", done)
	}
}

func TestUnsubscribeIdempotent(t *testing.T) {
	t.Parallel()
	s := subject.New[int]()

	calls := 0
	unsub := s.Subscribe(func(int) { calls++ }, func() { t.Error("unexpected done after unsubscribe") })
	other := s.Subscribe(func(int) {}, nil)

	s.Set(1)
	unsub()
	unsub()
	s.Set(2)
	s.Complete()

	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
	other()
}

func TestUnsubscribeDuringNotification(t *testing.T) {
	t.Parallel()
	s := subject.New[int]()

	var unsubSecond func()
	secondCalls := 0
	s.Subscribe(func(int) { unsubSecond() }, nil)
	unsubSecond = s.Subscribe(func(int) { secondCalls++ }, nil)

	s.Set(1)
	if secondCalls != 0 {
		t.Errorf("expected removed subscriber to be skipped, got %d calls", secondCalls)
	}
}

func TestReentrantSet(t *testing.T) {
	t.Parallel()
	s := subject.New[int]()

	var seen []int
	s.Subscribe(func(v int) {
		seen = append(seen, v)
		if v == 1 {
			s.Set(2)
		}
	}, nil)
	s.Set(1)

	if len(seen) != 2 || seen[1] != 2 {
		t.Errorf("unexpected values: %v", seen)
	}
}

func TestConcurrentSubscribe(t *testing.T) {
	t.Parallel()
	s := subject.New[int]()

	var wg sync.WaitGroup
	unsubs := make([]func(), 50)
	for i := range unsubs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			unsubs[i] = s.Subscribe(func(int) {}, nil)
		}(i)
	}
	wg.Wait()
	if s.Len() != 50 {
		t.Errorf("expected 50 subscribers, got %d", s.Len())
	}

	for _, unsub := range unsubs {
		wg.Add(1)
		go func(unsub func()) {
			defer wg.Done()
			unsub()
		}(unsub)
	}
	wg.Wait()
	if s.Len() != 0 {
		t.Errorf("expected no subscribers, got %d", s.Len())
	}
}
