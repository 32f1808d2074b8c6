// Package observable provides a replay-latest subject for push-style state.
package observable

import "sync"

// Subject holds a current value and pushes every change to its subscribers.
// New subscribers immediately receive the current value. Slow subscribers
// only ever see the latest value; intermediate values are dropped.
type Subject[T any] struct {
	mu     sync.Mutex
	value  T
	subs   map[int]chan T
	nextID int
	closed bool
}

// NewSubject creates a subject holding initial.
func NewSubject[T any](initial T) *Subject[T] {
	return &Subject[T]{
		value: initial,
		subs:  make(map[int]chan T),
	}
}

// Value returns the current value.
func (s *Subject[T]) Value() T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

// Next replaces the current value and notifies subscribers.
func (s *Subject[T]) Next(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.value = v
	for _, ch := range s.subs {
		offerLatest(ch, v)
	}
}

// Subscribe returns a channel that receives the current value and every later one,
// and a function that cancels the subscription.
func (s *Subject[T]) Subscribe() (<-chan T, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan T, 1)
	if s.closed {
		close(ch)
		return ch, func() {}
	}
	ch <- s.value

	id := s.nextID
	s.nextID++
	s.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if c, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(c)
			}
		})
	}
}

// Close ends every subscription. Later calls to Next are ignored.
func (s *Subject[T]) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
}

// offerLatest replaces whatever is buffered in ch with v. Callers hold the subject lock,
// so no other sender can fill the buffer between the drain and the send.
func offerLatest[T any](ch chan T, v T) {
	select {
	case <-ch:
	default:
	}
	ch <- v
}
