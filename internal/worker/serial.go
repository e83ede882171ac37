package worker

import (
	"context"
	defError "errors"
	"sync"
)

// ErrStopped is returned by Serial.Do after Stop
var ErrStopped = defError.New("worker: serial queue stopped")

// Serial runs submitted functions one at a time in submission order on a
// single goroutine. It is the execution context of one session.
type Serial struct {
	queue    chan func()
	mu       sync.RWMutex
	stopped  bool
	done     chan struct{}
	stopOnce sync.Once
}

func NewSerial(buffer int) *Serial {
	s := &Serial{
		queue: make(chan func(), buffer),
		done:  make(chan struct{}),
	}
	go s.loop()
	return s
}

func (s *Serial) loop() {
	defer close(s.done)
	for fn := range s.queue {
		fn()
	}
}

// Do queues fn and waits for it to finish. ctx only bounds the wait for a
// queue slot: once queued, fn runs to completion.
func (s *Serial) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	job := func() {
		defer close(finished)
		fn()
	}

	s.mu.RLock()
	if s.stopped {
		s.mu.RUnlock()
		return ErrStopped
	}
	select {
	case s.queue <- job:
		s.mu.RUnlock()
	case <-ctx.Done():
		s.mu.RUnlock()
		return ctx.Err()
	}

	<-finished
	return nil
}

// Go queues fn without waiting for it. It reports whether fn was queued.
func (s *Serial) Go(fn func()) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		return false
	}
	select {
	case s.queue <- fn:
		return true
	default:
		return false
	}
}

// Stop drains queued work and stops the goroutine
func (s *Serial) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		close(s.queue)
		s.mu.Unlock()
	})
	<-s.done
}
