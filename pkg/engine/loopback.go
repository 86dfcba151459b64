package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wagate/wagate/pkg/credstore"
)

// LoopbackName is the driver name of the built-in loopback engine.
const LoopbackName = "loopback"

func init() {
	Register(LoopbackName, NewLoopback)
}

// eventBuffer is sized for the longest scripted handshake sequence.
const eventBuffer = 8

// Loopback is an in-process engine used for development and tests. A
// connection with a resumption bundle reports ready immediately; one
// without walks the full challenge flow and issues a synthetic bundle.
// Sends are acknowledged locally without touching any network.
type Loopback struct {
	sessionID string

	mu     sync.Mutex
	state  ConnState
	events chan Event
}

// NewLoopback creates a loopback engine connection.
func NewLoopback(opts Options) (Engine, error) {
	if opts.SessionID == "" {
		return nil, fmt.Errorf("loopback engine requires a session id")
	}
	return &Loopback{
		sessionID: opts.SessionID,
		state:     StateDisconnected,
	}, nil
}

// Connect opens the simulated session and emits the handshake events.
func (l *Loopback) Connect(_ context.Context, resumption *credstore.Bundle) (<-chan Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.events != nil {
		return nil, fmt.Errorf("loopback session %q already connected", l.sessionID)
	}

	events := make(chan Event, eventBuffer)
	l.events = events
	l.state = StateConnecting

	if resumption != nil {
		bundle := *resumption
		bundle.UpdatedAt = time.Now().UTC()
		events <- Event{Kind: EventReady, Issued: &bundle}
	} else {
		events <- Event{Kind: EventChallenge, Code: uuid.NewString()}
		events <- Event{Kind: EventAuthenticated}
		events <- Event{Kind: EventReady, Issued: l.issueBundle()}
	}
	l.state = StateConnected

	return events, nil
}

// State returns the current connection state.
func (l *Loopback) State() ConnState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Send acknowledges the content locally.
func (l *Loopback) Send(_ context.Context, target string, content Content) (Ack, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != StateConnected {
		return Ack{}, fmt.Errorf("loopback session %q not connected: %w", l.sessionID, ErrSendFailed)
	}
	if target == "" || (content.Text == "" && content.Media == nil) {
		return Ack{}, fmt.Errorf("loopback session %q empty send: %w", l.sessionID, ErrSendFailed)
	}
	return Ack{ID: uuid.NewString()}, nil
}

// Logout tears down the simulated session.
func (l *Loopback) Logout(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.disconnectLocked("logout")
	return nil
}

// Close releases the connection.
func (l *Loopback) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.disconnectLocked("closed")
	return nil
}

func (l *Loopback) disconnectLocked(reason string) {
	if l.state == StateDisconnected {
		return
	}
	l.state = StateDisconnected
	if l.events != nil {
		l.events <- Event{Kind: EventDisconnected, Reason: reason}
		close(l.events)
		l.events = nil
	}
}

func (l *Loopback) issueBundle() *credstore.Bundle {
	return &credstore.Bundle{
		ClientID:    l.sessionID + "-" + uuid.NewString(),
		ServerToken: uuid.NewString(),
		ClientToken: uuid.NewString(),
		EncKey:      uuid.NewString(),
		MacKey:      uuid.NewString(),
		Platform:    "loopback",
		UpdatedAt:   time.Now().UTC(),
	}
}

// Verify interface compliance.
var _ Engine = (*Loopback)(nil)
