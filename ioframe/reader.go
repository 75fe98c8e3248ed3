/*
Package ioframe implements the framing halves of the connection engine
(spec.md §4.C Reader, §4.D Writer): turning a raw byte stream into
complete Messages and turning queued Messages into bytes ready to
write, independent of how those bytes actually reach a socket.

The engine package drives a blocking reader goroutine and a blocking
writer goroutine per connection rather than a single-threaded readiness
loop over a non-blocking socket — Go's net.Conn is blocking by design
and a goroutine-per-direction is the idiomatic replacement for the
Java source's Selector-driven interest set (see spec.md §9 "Interest
re-registration": edge-triggered arm/disarm is explicitly called out as
semantically equivalent to readiness re-registration). Reader and
Writer here still do exactly what §4.C/4.D describe: Reader owns the
growable framing buffer and detaches complete frames; Writer owns the
pending-bytes buffer and tolerates short writes.
*/
package ioframe

import (
	"encoding/binary"

	"github.com/htsp-go/htsp/herrors"
	"github.com/htsp-go/htsp/message"
	"github.com/htsp-go/htsp/wire"
)

const lengthPrefixSize = 4

// Reader accumulates bytes from a connection and detaches complete
// HTSP frames as they become available.
type Reader struct {
	buf []byte
}

// NewReader returns an empty Reader.
func NewReader() *Reader {
	return &Reader{}
}

// Feed appends newly read bytes to the internal buffer and returns
// every complete Message that can now be framed out of it, in arrival
// order. Any partial trailing frame remains buffered for the next
// call. An error return means the stream is unrecoverably desynced and
// the caller must fail the connection (spec.md §4.C).
func (r *Reader) Feed(data []byte) ([]message.Message, error) {
	r.buf = append(r.buf, data...)

	var out []message.Message
	for {
		if len(r.buf) < lengthPrefixSize {
			break
		}
		length := binary.BigEndian.Uint32(r.buf[:lengthPrefixSize])
		total := lengthPrefixSize + int(length)
		if len(r.buf) < total {
			break
		}

		body := r.buf[lengthPrefixSize:total]
		msg, err := wire.Decode(body)
		if err != nil {
			return out, herrors.WrapFatal(err, "ioframe", "Feed", "frame decode failed")
		}
		out = append(out, msg)

		r.buf = r.buf[total:]
	}
	return out, nil
}
