// Package session owns the in-memory registry of messaging sessions
// and the lifecycle state machine each one moves through. The Manager
// consumes engine events per session, strictly in emission order, and
// keeps registry membership consistent with connection state: the
// registry is the single source of truth for which sessions exist and
// which are usable right now.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/wagate/wagate/pkg/auth"
	"github.com/wagate/wagate/pkg/engine"
)

// ErrNotFound indicates an unknown session identifier.
var ErrNotFound = errors.New("session not found")

// ErrConflict indicates a creation request for an identifier that
// already has a live session. The existing session is never replaced:
// two concurrent connections for one identity corrupt the remote
// protocol session and the stored credentials.
var ErrConflict = errors.New("session already exists")

// ErrNotReady indicates an operation that requires a Ready session was
// attempted while the session is in another state.
var ErrNotReady = errors.New("session not ready")

// ErrConnectFailed indicates the engine connection could not be
// opened for a new session.
var ErrConnectFailed = errors.New("engine connect failed")

// State is a session's position in the lifecycle state machine.
type State int

// Lifecycle states.
const (
	StateCreated State = iota
	StateAwaitingCredential
	StateAuthenticating
	StateReady
	StateDisconnected
	StateFailed
)

var stateNames = map[State]string{
	StateCreated:            "created",
	StateAwaitingCredential: "awaiting_credential",
	StateAuthenticating:     "authenticating",
	StateReady:              "ready",
	StateDisconnected:       "disconnected",
	StateFailed:             "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Terminal reports whether no further transitions can occur.
func (s State) Terminal() bool {
	return s == StateDisconnected || s == StateFailed
}

// allowedTransitions encodes the lifecycle state machine. A ready event
// can follow created directly: resumption skips both the challenge and
// the separate authenticated notification.
var allowedTransitions = map[State][]State{
	StateCreated:            {StateAwaitingCredential, StateAuthenticating, StateReady, StateFailed, StateDisconnected},
	StateAwaitingCredential: {StateAuthenticating, StateFailed, StateDisconnected},
	StateAuthenticating:     {StateReady, StateFailed, StateDisconnected},
	StateReady:              {StateDisconnected},
}

// Handle is one live session: its identifier, lifecycle state, engine
// connection and bound credential strategy. Handles are created and
// destroyed by the Manager; other components only read them.
type Handle struct {
	id       string
	strategy *auth.Strategy

	mu          sync.RWMutex
	state       State
	eng         engine.Engine
	challenge   string
	lastSaveErr error
	createdAt   time.Time
	readyAt     time.Time
}

func newHandle(id string, strategy *auth.Strategy) *Handle {
	return &Handle{
		id:        id,
		strategy:  strategy,
		state:     StateCreated,
		createdAt: time.Now(),
	}
}

// ID returns the session identifier.
func (h *Handle) ID() string {
	return h.id
}

// State returns the current lifecycle state.
func (h *Handle) State() State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

// Challenge returns the most recent challenge material, if the session
// is waiting for interactive authentication.
func (h *Handle) Challenge() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.challenge
}

// LastSaveErr returns the error from the most recent credential save,
// if it failed. A failed save does not demote a Ready session.
func (h *Handle) LastSaveErr() error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastSaveErr
}

// ReadyEngine returns the engine connection if and only if the session
// is Ready. The state check and the engine read happen under one lock
// so a caller can never obtain a connection mid-handshake.
func (h *Handle) ReadyEngine() (engine.Engine, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.state != StateReady || h.eng == nil {
		return nil, false
	}
	return h.eng, true
}

func (h *Handle) setEngine(eng engine.Engine) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.eng = eng
}

func (h *Handle) engineRef() engine.Engine {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.eng
}

// transition moves the handle to the target state if the state machine
// allows it, reporting whether the move happened.
func (h *Handle) transition(to State) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, next := range allowedTransitions[h.state] {
		if next == to {
			h.state = to
			if to == StateReady {
				h.readyAt = time.Now()
			}
			return true
		}
	}
	return false
}

func (h *Handle) setChallenge(code string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.challenge = code
}

func (h *Handle) setSaveErr(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastSaveErr = err
}
