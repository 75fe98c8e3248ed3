/*
Package htsptest provides wire fixture recording/playback for
integration tests, repurposing the teacher's cbor.Marshal/cbor.Decoder
usage (protocol/cbor_protocol.go) from wire encoding — ruled out for
HTSP itself, which is bit-exact per spec.md §4.B — into test fixture
storage: a Fixture is a CBOR-encoded, ordered capture of raw wire
frames that can be replayed against the real connection engine over a
net.Pipe(), the same fake-peer pattern the teacher's client_test.go
and server_test.go use.
*/
package htsptest

import (
	"net"
	"os"

	"github.com/fxamacker/cbor/v2"

	"github.com/htsp-go/htsp/herrors"
)

// Fixture is an ordered capture of complete, already length-prefixed
// wire frames (spec.md §4.B) from a real or simulated HTSP session.
type Fixture struct {
	Frames [][]byte
}

// SaveFixture CBOR-encodes f to path.
func SaveFixture(path string, f Fixture) error {
	data, err := cbor.Marshal(f)
	if err != nil {
		return herrors.WrapInvalid(err, "htsptest", "SaveFixture", "cbor encode failed")
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return herrors.WrapInvalid(err, "htsptest", "SaveFixture", "write failed")
	}
	return nil
}

// LoadFixture reads and CBOR-decodes a Fixture from path.
func LoadFixture(path string) (Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Fixture{}, herrors.WrapInvalid(err, "htsptest", "LoadFixture", "read failed")
	}
	var f Fixture
	if err := cbor.Unmarshal(data, &f); err != nil {
		return Fixture{}, herrors.WrapInvalid(err, "htsptest", "LoadFixture", "cbor decode failed")
	}
	return f, nil
}

// NewScriptedConn returns one end of a net.Pipe() whose peer end feeds
// f.Frames to whatever reads from the returned conn, then blocks
// (simulating an idle server) until the peer end is closed. Handing
// the returned conn to connection.New via WithDialer lets a test drive
// the real engine/dispatcher/subscriber stack against a captured
// session.
func NewScriptedConn(f Fixture) net.Conn {
	client, server := net.Pipe()
	go func() {
		for _, frame := range f.Frames {
			if _, err := server.Write(frame); err != nil {
				return
			}
		}
		<-serverClosed(server)
	}()
	return client
}

// serverClosed returns a channel closed once server's peer (the
// returned client conn) is closed, detected by a read on server
// erroring out; this lets the feeder goroutine above exit instead of
// leaking once the test tears the connection down.
func serverClosed(server net.Conn) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		buf := make([]byte, 1)
		for {
			if _, err := server.Read(buf); err != nil {
				return
			}
		}
	}()
	return done
}
