// Package auth binds one session identifier to a credential store and
// implements the hooks the connection handshake consumes: resumption
// material is loaded before connect, the issued bundle is persisted
// once the engine reports ready, and logout removes stored credentials
// before the remote teardown is awaited.
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/wagate/wagate/pkg/credstore"
	"github.com/wagate/wagate/pkg/engine"
)

// Strategy binds a session identifier to a credential store. The hooks
// are called from different goroutines: PostAuthenticate runs on the
// session's event loop while Logout runs on the HTTP request path, so
// the shared identity state is mutex-guarded.
type Strategy struct {
	sessionID string
	store     credstore.Store

	// mu guards lastKnown, which keeps identity fields (push name,
	// platform) from the most recently seen bundle so a save can merge
	// them when the engine issues fresh tokens without them.
	mu        sync.Mutex
	lastKnown *credstore.Bundle
}

// NewStrategy creates a strategy for one session.
func NewStrategy(sessionID string, store credstore.Store) *Strategy {
	return &Strategy{sessionID: sessionID, store: store}
}

// SessionID returns the bound session identifier.
func (s *Strategy) SessionID() string {
	return s.sessionID
}

// PreConnect loads resumption material for the connection handshake.
// It returns nil when no bundle exists or when the stored bundle is
// incomplete; an incomplete bundle offered for resumption hangs the
// engine instead of falling back to the interactive flow, so it is
// never passed through.
func (s *Strategy) PreConnect(ctx context.Context) (*credstore.Bundle, error) {
	b, err := s.store.Load(ctx, s.sessionID)
	if err != nil {
		return nil, fmt.Errorf("loading credentials for %q: %w", s.sessionID, err)
	}
	if b == nil {
		return nil, nil //nolint:nilnil // absent bundle means fresh interactive auth
	}
	if !b.Complete() {
		slog.Warn("ignoring incomplete credential bundle",
			"session_id", s.sessionID, "updated_at", b.UpdatedAt)
		return nil, nil //nolint:nilnil // incomplete bundles never resume
	}

	s.setLastKnown(b)
	return b, nil
}

// PostAuthenticate persists the bundle the engine issued on handshake
// completion, merging identity fields known from a previous bundle when
// the fresh one omits them.
func (s *Strategy) PostAuthenticate(ctx context.Context, issued *credstore.Bundle) error {
	if issued == nil {
		return fmt.Errorf("saving credentials for %q: %w", s.sessionID, credstore.ErrIncompleteBundle)
	}

	merged := *issued
	if prev := s.getLastKnown(); prev != nil {
		if merged.PushName == "" {
			merged.PushName = prev.PushName
		}
		if merged.Platform == "" {
			merged.Platform = prev.Platform
		}
	}
	merged.UpdatedAt = time.Now().UTC()

	if err := s.store.Save(ctx, s.sessionID, &merged); err != nil {
		return fmt.Errorf("saving credentials for %q: %w", s.sessionID, err)
	}

	s.setLastKnown(&merged)
	return nil
}

// Logout deletes stored credentials, then tears down the remote
// session. Deletion comes first so a crash or failure mid-teardown
// never leaves orphaned credentials behind.
func (s *Strategy) Logout(ctx context.Context, eng engine.Engine) error {
	if err := s.store.Delete(ctx, s.sessionID); err != nil {
		return fmt.Errorf("deleting credentials for %q: %w", s.sessionID, err)
	}
	s.setLastKnown(nil)

	if eng == nil {
		return nil
	}
	if err := eng.Logout(ctx); err != nil {
		return fmt.Errorf("engine logout for %q: %w", s.sessionID, err)
	}
	return nil
}

func (s *Strategy) getLastKnown() *credstore.Bundle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastKnown
}

func (s *Strategy) setLastKnown(b *credstore.Bundle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastKnown = b
}
