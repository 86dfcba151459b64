package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/wagate/wagate/pkg/auth"
	"github.com/wagate/wagate/pkg/credstore"
	"github.com/wagate/wagate/pkg/engine"
)

// ChallengeSink receives interactive challenge material for a session.
// Challenges must reach an operator somehow, so a sink is always set;
// the default logs the code the way the original gateway printed its
// QR to the terminal.
type ChallengeSink func(sessionID, code string)

// MessageFunc receives inbound message events for a session.
type MessageFunc func(ctx context.Context, sessionID string, eng engine.Engine, ev engine.Event)

// Opener creates the engine connection for a session identifier.
type Opener func(sessionID string) (engine.Engine, error)

// Config configures a Manager.
type Config struct {
	// Store persists credential bundles across restarts.
	Store credstore.Store

	// Open creates one engine connection per session.
	Open Opener

	// Challenges receives challenge material. Defaults to logging.
	Challenges ChallengeSink

	// OnMessage receives inbound messages. Optional.
	OnMessage MessageFunc
}

// Manager coordinates session lifecycles: it creates handles, consumes
// each session's engine events on a dedicated goroutine (preserving the
// engine's emission order), drives state transitions, and keeps the
// Registry in step with them.
type Manager struct {
	registry   *Registry
	store      credstore.Store
	open       Opener
	challenges ChallengeSink
	onMessage  MessageFunc

	// baseCtx scopes the work the event loops start on their own
	// (credential saves, auto-reply sends); cancel releases any of it
	// still in flight when the manager shuts down.
	baseCtx context.Context
	cancel  context.CancelFunc

	wg sync.WaitGroup
}

// NewManager creates a Manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("session manager requires a credential store")
	}
	if cfg.Open == nil {
		return nil, fmt.Errorf("session manager requires an engine opener")
	}
	if cfg.Challenges == nil {
		cfg.Challenges = logChallenge
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		registry:   NewRegistry(),
		store:      cfg.Store,
		open:       cfg.Open,
		challenges: cfg.Challenges,
		onMessage:  cfg.OnMessage,
		baseCtx:    ctx,
		cancel:     cancel,
	}, nil
}

// Registry returns the session registry.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// Create establishes a new session for the identifier. The identifier
// is reserved in the registry before any I/O, so concurrent duplicate
// requests get ErrConflict instead of racing two engine connections for
// the same identity. Persisted credentials, when present and complete,
// are replayed for resumption; otherwise the engine starts the
// interactive challenge flow.
func (m *Manager) Create(ctx context.Context, id string) (*Handle, error) {
	if id == "" {
		return nil, fmt.Errorf("session id must not be empty")
	}

	strategy := auth.NewStrategy(id, m.store)
	h := newHandle(id, strategy)

	if err := m.registry.add(h); err != nil {
		return nil, err
	}

	resumption, err := strategy.PreConnect(ctx)
	if err != nil {
		m.registry.remove(h)
		return nil, err
	}

	eng, err := m.open(id)
	if err != nil {
		m.registry.remove(h)
		return nil, fmt.Errorf("opening engine for %q: %w", id, errors.Join(ErrConnectFailed, err))
	}
	h.setEngine(eng)

	events, err := eng.Connect(ctx, resumption)
	if err != nil {
		m.registry.remove(h)
		_ = eng.Close()
		return nil, fmt.Errorf("connecting session %q: %w", id, errors.Join(ErrConnectFailed, err))
	}

	slog.Info("session connecting", "session_id", id, "resuming", resumption != nil)

	m.wg.Add(1)
	go m.eventLoop(h, events)

	return h, nil
}

// Logout deletes the session's stored credentials, tears down its
// remote session and removes it from the registry. Store cleanup
// happens first: a failed engine teardown still leaves no orphaned
// credentials behind.
func (m *Manager) Logout(ctx context.Context, id string) error {
	h, ok := m.registry.Get(id)
	if !ok {
		return ErrNotFound
	}

	eng := h.engineRef()
	if err := h.strategy.Logout(ctx, eng); err != nil {
		if errors.Is(err, credstore.ErrUnavailable) {
			// Credential deletion failed, so nothing was torn down; the
			// session stays intact and the caller can retry.
			return err
		}
		// Deletion succeeded and only the remote teardown failed. The
		// session is discarded either way; the store is already clean.
		slog.Warn("engine teardown failed during logout", "session_id", id, "error", err)
	}

	m.registry.remove(h)
	if eng != nil {
		_ = eng.Close()
	}
	slog.Info("session logged out", "session_id", id)
	return nil
}

// Bootstrap re-establishes every session the store knows about. Each
// identifier is isolated: one stale or corrupt bundle skips only that
// session, and partial success is the expected steady state.
func (m *Manager) Bootstrap(ctx context.Context) error {
	ids, err := m.store.List(ctx)
	if err != nil {
		return fmt.Errorf("listing persisted sessions: %w", err)
	}

	slog.Info("bootstrapping persisted sessions", "count", len(ids))

	for _, id := range ids {
		if _, ok := m.registry.Get(id); ok {
			continue
		}
		if _, err := m.Create(ctx, id); err != nil {
			slog.Error("bootstrap skipping session", "session_id", id, "error", err)
		}
	}
	return nil
}

// Close cancels in-flight event-loop work, tears down every live
// session's connection and waits for the event loops to drain.
func (m *Manager) Close() error {
	m.cancel()
	for _, h := range m.registry.List() {
		if eng := h.engineRef(); eng != nil {
			_ = eng.Close()
		}
	}
	m.wg.Wait()
	return nil
}

// eventLoop consumes one session's events strictly in order. Running
// on a single goroutine per session is what guarantees ready is never
// processed before authenticated for the same identifier.
func (m *Manager) eventLoop(h *Handle, events <-chan engine.Event) {
	defer m.wg.Done()

	for ev := range events {
		m.handleEvent(h, ev)
	}

	// The stream ended without a terminal event (engine crash). The
	// registry must not keep a handle whose connection is gone.
	if !h.State().Terminal() {
		slog.Warn("event stream ended unexpectedly", "session_id", h.id, "state", h.State().String())
		h.transition(StateDisconnected)
		m.registry.remove(h)
	}
}

func (m *Manager) handleEvent(h *Handle, ev engine.Event) {
	ctx := m.baseCtx

	switch ev.Kind {
	case engine.EventChallenge:
		if h.transition(StateAwaitingCredential) {
			h.setChallenge(ev.Code)
			m.challenges(h.id, ev.Code)
		}

	case engine.EventAuthenticated:
		if h.transition(StateAuthenticating) {
			slog.Info("session authenticated", "session_id", h.id)
		}

	case engine.EventReady:
		if !h.transition(StateReady) {
			slog.Warn("ignoring ready event in invalid state", "session_id", h.id, "state", h.State().String())
			return
		}
		h.setChallenge("")
		slog.Info("session ready", "session_id", h.id)

		// ready, not authenticated, is the authoritative event for
		// persisting credentials. A failed save is recoverable: the
		// session stays usable and the error is kept observable.
		if err := h.strategy.PostAuthenticate(ctx, ev.Issued); err != nil {
			slog.Error("persisting credentials failed", "session_id", h.id, "error", err)
			h.setSaveErr(err)
		} else {
			h.setSaveErr(nil)
		}

	case engine.EventAuthFailed:
		slog.Error("session authentication failed", "session_id", h.id, "reason", ev.Reason)
		h.transition(StateFailed)
		m.registry.remove(h)
		if eng := h.engineRef(); eng != nil {
			_ = eng.Close()
		}

	case engine.EventDisconnected:
		slog.Info("session disconnected", "session_id", h.id, "reason", ev.Reason)
		h.transition(StateDisconnected)
		m.registry.remove(h)
		if eng := h.engineRef(); eng != nil {
			_ = eng.Close()
		}

	case engine.EventMessage:
		if m.onMessage != nil {
			if eng := h.engineRef(); eng != nil {
				m.onMessage(ctx, h.id, eng, ev)
			}
		}
	}
}

func logChallenge(sessionID, code string) {
	slog.Info("session challenge issued, scan to authenticate", "session_id", sessionID, "code", code)
}
