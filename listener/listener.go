/*
Package listener defines the posting primitive shared by every
registry in this module (connection-state listeners, message
listeners, auth-state listeners): each listener may optionally supply
an Executor to post its callback onto, mirroring the Java source's
per-listener Handler (spec.md §9 "Listener execution contexts"). A nil
Executor means invoke inline, on the calling goroutine.
*/
package listener

// Executor posts fn for asynchronous execution on whatever context it
// wraps (a UI event loop, a worker goroutine, ...).
type Executor interface {
	Post(fn func())
}

// Inline runs fn synchronously on the calling goroutine. Supplying it
// behaves the same as supplying a nil Executor, which the registries
// call inline; cmd/htspctl passes nil for its own listeners since a
// CLI has no UI thread to marshal onto.
type Inline struct{}

// Post implements Executor by calling fn immediately.
func (Inline) Post(fn func()) { fn() }
