package core

import (
	"context"
	"errors"
	"sync"
)

// ErrStreamDone is returned by Stream.Next after the stream terminated
// cleanly and all queued events have been consumed.
var ErrStreamDone = errors.New("stream done")

// ErrNoResult is returned by Stream.Result when the stream terminated
// without a recorded final value (plain Close or abort paths).
var ErrNoResult = errors.New("stream terminated without result")

// Stream is a queue-backed primitive decoupling one background producer
// from a foreground consumer with zero event loss and no silently dropped
// producer failures. E is the event type, R the final result exposed once
// the producer terminates the stream.
//
// Exactly one terminal transition (Close, CloseWithResult or Fail) is
// accepted; later terminal calls are no-ops. Producers must guarantee a
// terminal transition on every exit path — typically via defer — so a
// crashed producer can never hang a consumer blocked in Next or Result.
type Stream[E, R any] struct {
	mu        sync.Mutex
	queue     []E
	notify    chan struct{} // closed+replaced on every state change
	done      bool
	err       error
	errTaken  bool
	result    R
	hasResult bool

	terminated chan struct{}
}

// NewStream creates an open, empty stream.
func NewStream[E, R any]() *Stream[E, R] {
	return &Stream[E, R]{
		notify:     make(chan struct{}),
		terminated: make(chan struct{}),
	}
}

// Push enqueues an event for the consumer. It returns false if the stream
// already terminated, in which case the event is dropped.
func (s *Stream[E, R]) Push(ev E) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done {
		return false
	}

	s.queue = append(s.queue, ev)
	s.broadcast()

	return true
}

// Close terminates the stream cleanly without a final value.
func (s *Stream[E, R]) Close() { s.terminate(nil) }

// CloseWithResult terminates the stream cleanly recording the final value
// returned by Result.
func (s *Stream[E, R]) CloseWithResult(result R) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done {
		return
	}

	s.result = result
	s.hasResult = true
	s.finishLocked(nil)
}

// Fail terminates the stream recording the producer failure. The consumer
// observes err exactly once from Next (after draining queued events) and on
// every Result call.
func (s *Stream[E, R]) Fail(err error) { s.terminate(err) }

func (s *Stream[E, R]) terminate(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done {
		return
	}

	s.finishLocked(err)
}

func (s *Stream[E, R]) finishLocked(err error) {
	s.done = true
	s.err = err
	s.broadcast()
	close(s.terminated)
}

// broadcast wakes all pending Next callers. Callers must hold s.mu.
func (s *Stream[E, R]) broadcast() {
	close(s.notify)
	s.notify = make(chan struct{})
}

// Next returns the next queued event, blocking until one is available, the
// stream terminates, or ctx is cancelled. Queued events remain consumable
// after termination; once drained Next returns the stored producer error
// exactly once, then ErrStreamDone.
func (s *Stream[E, R]) Next(ctx context.Context) (E, error) {
	var zero E

	for {
		s.mu.Lock()

		if len(s.queue) > 0 {
			ev := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()

			return ev, nil
		}

		if s.done {
			if s.err != nil && !s.errTaken {
				s.errTaken = true
				err := s.err
				s.mu.Unlock()

				return zero, err
			}
			s.mu.Unlock()

			return zero, ErrStreamDone
		}

		wait := s.notify
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-wait:
		}
	}
}

// Result blocks until the stream terminates and returns the recorded final
// value. A producer failure is returned as the error; a clean termination
// without a value yields ErrNoResult.
func (s *Stream[E, R]) Result(ctx context.Context) (R, error) {
	var zero R

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-s.terminated:
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return zero, s.err
	}

	if !s.hasResult {
		return zero, ErrNoResult
	}

	return s.result, nil
}

// Terminated reports whether a terminal transition already happened.
func (s *Stream[E, R]) Terminated() bool {
	select {
	case <-s.terminated:
		return true
	default:
		return false
	}
}
