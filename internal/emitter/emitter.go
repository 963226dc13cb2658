// Package emitter provides a small per-event-kind subscription primitive:
// Subscribe returns an unsubscribe handle, Emit fans out to the current
// subscribers. There is no global bus; each event kind owns one Emitter.
package emitter

import "sync"

type Emitter[T any] struct {
	mu   sync.Mutex
	next int
	subs map[int]func(T)
}

// Subscribe registers fn and returns a handle that removes it again.
// Unsubscribing twice is harmless.
func (e *Emitter[T]) Subscribe(fn func(T)) (cancel func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.subs == nil {
		e.subs = make(map[int]func(T))
	}
	id := e.next
	e.next++
	e.subs[id] = fn

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.subs, id)
	}
}

// Emit calls every currently registered subscriber with v. Subscribers run
// on the caller's goroutine; they must not block.
func (e *Emitter[T]) Emit(v T) {
	e.mu.Lock()
	fns := make([]func(T), 0, len(e.subs))
	for _, fn := range e.subs {
		fns = append(fns, fn)
	}
	e.mu.Unlock()

	for _, fn := range fns {
		fn(v)
	}
}
