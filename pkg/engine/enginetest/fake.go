// Package enginetest provides a scripted engine for tests. Unlike the
// loopback driver, the fake never advances on its own: tests emit each
// lifecycle event explicitly, so ordering-sensitive paths can be pinned
// down step by step.
package enginetest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/wagate/wagate/pkg/credstore"
	"github.com/wagate/wagate/pkg/engine"
)

// Fake is a test double for engine.Engine.
type Fake struct {
	mu         sync.Mutex
	state      engine.ConnState
	events     chan engine.Event
	connectErr error
	sendErr    error
	logoutErr  error

	// Resumption records the bundle passed to Connect, if any.
	Resumption *credstore.Bundle

	// Sends records every accepted Send call.
	Sends []SendCall

	// LogoutCalls counts Logout invocations.
	LogoutCalls int
}

// SendCall records one accepted Send.
type SendCall struct {
	Target  string
	Content engine.Content
}

// New creates a disconnected fake engine.
func New() *Fake {
	return &Fake{state: engine.StateDisconnected}
}

// FailConnect makes the next Connect return err.
func (f *Fake) FailConnect(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectErr = err
}

// FailSend makes subsequent Send calls return err.
func (f *Fake) FailSend(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendErr = err
}

// FailLogout makes Logout return err.
func (f *Fake) FailLogout(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logoutErr = err
}

// Connect opens the scripted event stream.
func (f *Fake) Connect(_ context.Context, resumption *credstore.Bundle) (<-chan engine.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.connectErr != nil {
		return nil, f.connectErr
	}
	if f.events != nil {
		return nil, errors.New("fake engine already connected")
	}

	f.Resumption = resumption
	f.events = make(chan engine.Event, 16)
	f.state = engine.StateConnecting
	return f.events, nil
}

// Emit delivers one event on the stream, updating the reported state to
// match. Terminal events close the stream. The send happens outside the
// lock so a consumer blocked behind a full buffer can still call back
// into the fake (Send, State) without deadlocking the emitter.
func (f *Fake) Emit(ev engine.Event) {
	f.mu.Lock()
	if f.events == nil {
		f.mu.Unlock()
		panic("enginetest: Emit before Connect")
	}
	ch := f.events

	terminal := ev.Kind == engine.EventAuthFailed || ev.Kind == engine.EventDisconnected
	switch ev.Kind {
	case engine.EventReady:
		f.state = engine.StateConnected
	case engine.EventAuthFailed, engine.EventDisconnected:
		f.state = engine.StateDisconnected
	}
	if terminal {
		f.events = nil
	}
	f.mu.Unlock()

	ch <- ev
	if terminal {
		close(ch)
	}
}

// State returns the current connection state.
func (f *Fake) State() engine.ConnState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Send records the call and acknowledges it.
func (f *Fake) Send(_ context.Context, target string, content engine.Content) (engine.Ack, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.sendErr != nil {
		return engine.Ack{}, f.sendErr
	}
	f.Sends = append(f.Sends, SendCall{Target: target, Content: content})
	return engine.Ack{ID: fmt.Sprintf("ack-%d", len(f.Sends))}, nil
}

// Logout records the call.
func (f *Fake) Logout(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.LogoutCalls++
	if f.logoutErr != nil {
		return f.logoutErr
	}
	f.state = engine.StateDisconnected
	return nil
}

// Close releases the stream without remote teardown.
func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.state = engine.StateDisconnected
	if f.events != nil {
		close(f.events)
		f.events = nil
	}
	return nil
}

// Verify interface compliance.
var _ engine.Engine = (*Fake)(nil)
