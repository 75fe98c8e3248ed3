/*
Package registry implements the idempotent-by-identity listener
registries spec.md §9 calls for: duplicate Add or Remove of the same
identity logs a warning and no-ops rather than erroring, for both
connection-state and message listener registries (generalized here via
Go generics to the single shape both need, since the Java source
applies the identical rule to both).
*/
package registry

import (
	"log/slog"
	"sync"

	"github.com/htsp-go/htsp/listener"
)

type entry[T any] struct {
	id       any
	fn       func(T)
	executor listener.Executor
}

// Registry holds listeners of a single callback shape T, keyed by an
// arbitrary comparable identity. Safe for concurrent use.
type Registry[T any] struct {
	mu      sync.Mutex
	entries []entry[T]
	logger  *slog.Logger
	kind    string
}

// New returns an empty Registry. kind labels log lines (e.g.
// "connection-state", "message") and logger defaults to slog.Default
// if nil.
func New[T any](kind string, logger *slog.Logger) *Registry[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry[T]{logger: logger, kind: kind}
}

// Add registers fn under id, posting through executor (or calling
// inline if executor is nil) on every subsequent Notify. Re-adding an
// already-registered id is a no-op, logged at Warn.
func (r *Registry[T]) Add(id any, fn func(T), executor listener.Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.entries {
		if e.id == id {
			r.logger.Warn("duplicate listener add ignored", "kind", r.kind, "id", id)
			return
		}
	}
	r.entries = append(r.entries, entry[T]{id: id, fn: fn, executor: executor})
}

// Remove unregisters id. Removing an id that was never registered (or
// already removed) is a no-op, logged at Warn.
func (r *Registry[T]) Remove(id any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, e := range r.entries {
		if e.id == id {
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			return
		}
	}
	r.logger.Warn("remove of unregistered listener ignored", "kind", r.kind, "id", id)
}

// Notify delivers v to every registered listener: posted through its
// executor if it supplied one, inline otherwise. A listener's fn is
// recovered from panics so one misbehaving consumer can never take
// down the I/O loop (spec.md §4.F "Listener exceptions... MUST NOT
// terminate the loop").
func (r *Registry[T]) Notify(v T) {
	r.mu.Lock()
	snapshot := make([]entry[T], len(r.entries))
	copy(snapshot, r.entries)
	r.mu.Unlock()

	for _, e := range snapshot {
		e := e
		deliver := func() {
			defer func() {
				if p := recover(); p != nil {
					r.logger.Error("listener panicked", "kind", r.kind, "id", e.id, "panic", p)
				}
			}()
			e.fn(v)
		}
		if e.executor != nil {
			e.executor.Post(deliver)
		} else {
			deliver()
		}
	}
}

// Len reports the number of registered listeners, mainly for tests.
func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
