/*
Package auth implements the hello/authenticate handshake of spec.md
§4.G: driven as a connection-state listener, it sends hello on
CONNECTED, computes the SHA1(password ∥ challenge) digest, sends
authenticate, and exposes the resulting AUTHENTICATED/FAILED state to
its own listeners using the same posted-or-inline rule as every other
registry in this module.
*/
package auth

import (
	"context"
	"crypto/sha1"
	"log/slog"
	"sync"
	"time"

	"github.com/htsp-go/htsp/connection"
	"github.com/htsp-go/htsp/listener"
	"github.com/htsp-go/htsp/message"
	"github.com/htsp-go/htsp/registry"
)

// State is the authenticator's lifecycle state (spec.md §3).
type State int

const (
	Idle State = iota
	Authenticating
	Authenticated
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Authenticating:
		return "AUTHENTICATING"
	case Authenticated:
		return "AUTHENTICATED"
	case Failed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// StateChange is delivered to auth-state listeners on every transition.
type StateChange struct {
	Old State
	New State
}

// Requester is the dispatcher capability the authenticator needs:
// a synchronous request/reply call.
type Requester interface {
	SendAwaitReply(ctx context.Context, msg message.Message, timeout time.Duration) (message.Message, error)
}

// Credentials configure the handshake.
type Credentials struct {
	Username      string
	Password      string
	ClientName    string
	ClientVersion string
	HtspVersion   int
	ReplyTimeout  time.Duration
}

// Authenticator drives the hello/authenticate exchange over a
// Requester whenever the underlying connection reaches Connected.
type Authenticator struct {
	req    Requester
	creds  Credentials
	logger *slog.Logger

	stateListeners *registry.Registry[StateChange]

	mu    sync.Mutex
	state State
}

func New(req Requester, creds Credentials, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	if creds.ReplyTimeout == 0 {
		creds.ReplyTimeout = 5 * time.Second
	}
	a := &Authenticator{
		req:    req,
		creds:  creds,
		logger: logger,
		state:  Idle,
	}
	a.stateListeners = registry.New[StateChange]("auth-state", logger)
	return a
}

// AddAuthStateListener registers fn under id; duplicate ids are a
// no-op (logged).
func (a *Authenticator) AddAuthStateListener(id any, fn func(StateChange), executor listener.Executor) {
	a.stateListeners.Add(id, fn, executor)
}

// RemoveAuthStateListener unregisters id; missing ids are a no-op
// (logged).
func (a *Authenticator) RemoveAuthStateListener(id any) {
	a.stateListeners.Remove(id)
}

// State returns the current auth state.
func (a *Authenticator) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Authenticator) setState(s State) {
	a.mu.Lock()
	old := a.state
	a.state = s
	a.mu.Unlock()
	if old != s {
		a.logger.Info("auth state changed", "component", "auth", "old", old.String(), "new", s.String())
		a.stateListeners.Notify(StateChange{Old: old, New: s})
	}
}

// OnConnectionStateChanged is the connection-state listener callback:
// on Connected it runs the handshake; on Closed/Failed it resets to
// Idle (spec.md §4.G).
func (a *Authenticator) OnConnectionStateChanged(sc connection.StateChange) {
	switch sc.New {
	case connection.Connected:
		go a.authenticate()
	case connection.Closed, connection.Failed:
		a.setState(Idle)
	}
}

func (a *Authenticator) authenticate() {
	a.setState(Authenticating)
	ctx := context.Background()

	hello := message.New()
	hello.SetString("method", "hello")
	hello.SetS64("htspversion", int64(a.creds.HtspVersion))
	hello.SetString("clientname", a.creds.ClientName)
	hello.SetString("clientversion", a.creds.ClientVersion)

	helloReply, err := a.req.SendAwaitReply(ctx, hello, a.creds.ReplyTimeout)
	if err != nil {
		a.logger.Error("hello failed", "component", "auth", "error", err)
		a.setState(Failed)
		return
	}

	challenge := helloReply.Bytes("challenge", nil)
	digest := Digest(a.creds.Password, challenge)

	authReq := message.New()
	authReq.SetString("method", "authenticate")
	authReq.SetString("username", a.creds.Username)
	authReq.SetBytes("digest", digest)

	authReply, err := a.req.SendAwaitReply(ctx, authReq, a.creds.ReplyTimeout)
	if err != nil {
		a.logger.Error("authenticate failed", "component", "auth", "error", err)
		a.setState(Failed)
		return
	}

	if authReply.Integer("noaccess", 0) != 0 {
		a.logger.Warn("authentication rejected", "component", "auth", "username", a.creds.Username)
		a.setState(Failed)
		return
	}

	a.setState(Authenticated)
}

// Digest computes SHA1(password ∥ challenge), the exact byte sequence
// the authenticate request's digest field must carry (spec.md §8
// scenario 2).
func Digest(password string, challenge []byte) []byte {
	h := sha1.New()
	h.Write([]byte(password))
	h.Write(challenge)
	return h.Sum(nil)
}

