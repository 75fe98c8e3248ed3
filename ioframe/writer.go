package ioframe

import (
	"io"

	"github.com/htsp-go/htsp/herrors"
	"github.com/htsp-go/htsp/message"
	"github.com/htsp-go/htsp/wire"
)

// Writer serializes queued Messages and writes them to an io.Writer,
// preserving strict FIFO order and tolerating short writes by
// retaining the unwritten remainder across calls (spec.md §4.D).
type Writer struct {
	queue   []message.Message
	pending []byte
}

// NewWriter returns an empty Writer.
func NewWriter() *Writer {
	return &Writer{}
}

// Enqueue appends msg to the send queue. Safe to call from any
// goroutine as long as the caller serializes access (the connection
// engine wraps this behind its own mutex, spec.md §5).
func (w *Writer) Enqueue(msg message.Message) {
	w.queue = append(w.queue, msg)
}

// HasPendingData reports whether there are unwritten bytes or queued
// messages, per spec.md §4.D's exact definition.
func (w *Writer) HasPendingData() bool {
	return len(w.pending) > 0 || len(w.queue) > 0
}

// Flush writes as much of the pending buffer (refilling it from the
// queue when empty) as dst will accept in one call, tolerating a short
// write by retaining the remainder. It returns once dst either blocks
// (Write returns a partial count) or the pending buffer and queue are
// both drained.
func (w *Writer) Flush(dst io.Writer) error {
	for {
		if len(w.pending) == 0 {
			if len(w.queue) == 0 {
				return nil
			}
			msg := w.queue[0]
			w.queue = w.queue[1:]

			encoded, err := wire.Encode(msg)
			if err != nil {
				return herrors.WrapInvalid(err, "ioframe", "Flush", "encode failed")
			}
			w.pending = encoded
		}

		n, err := dst.Write(w.pending)
		if n > 0 {
			w.pending = w.pending[n:]
		}
		if err != nil {
			return herrors.WrapTransient(err, "ioframe", "Flush", "socket write failed")
		}
		if len(w.pending) > 0 {
			// Short write: dst is not ready for more right now.
			return nil
		}
	}
}
