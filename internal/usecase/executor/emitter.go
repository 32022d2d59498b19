package executor

import (
	"sync"
	"sync/atomic"
)

// Emitter is a bounded, single-reader event queue with a typed payload.
// Producers call Emit; the single consumer ranges over Events. After close,
// Emit is a no-op and the Events channel is closed, so the consumer observes
// a finite sequence.
type Emitter[E any] struct {
	ch        chan E
	done      chan struct{}
	closed    atomic.Bool
	closeOnce sync.Once
	drainOnce sync.Once
}

// NewEmitter creates an emitter with the given buffer size.
// A size <= 0 falls back to a small default.
func NewEmitter[E any](size int) *Emitter[E] {
	if size <= 0 {
		size = 16
	}
	return &Emitter[E]{
		ch:   make(chan E, size),
		done: make(chan struct{}),
	}
}

// Emit enqueues an event, blocking while the buffer is full.
// Returns false when the emitter is closed before or during the send.
func (e *Emitter[E]) Emit(ev E) bool {
	if e.closed.Load() {
		return false
	}
	select {
	case e.ch <- ev:
		return true
	case <-e.done:
		return false
	}
}

// Events returns the consumer side of the queue.
func (e *Emitter[E]) Events() <-chan E {
	return e.ch
}

// interrupt stops new emits and unblocks producers stuck on a full buffer.
// The events channel stays open until finish is called.
func (e *Emitter[E]) interrupt() {
	e.closeOnce.Do(func() {
		e.closed.Store(true)
		close(e.done)
	})
}

// finish closes the events channel. Callers must guarantee that no producer
// is still inside Emit: interrupt first, then wait for producers.
func (e *Emitter[E]) finish() {
	e.interrupt()
	e.drainOnce.Do(func() {
		close(e.ch)
	})
}
