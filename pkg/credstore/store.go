// Package credstore provides persistence for session credential bundles.
// It defines the Store interface and the Bundle type the automation
// engine issues once a handshake completes. Two backends implement the
// interface: a filesystem store (one file per session) and a PostgreSQL
// store (see the postgres sub-package).
package credstore

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable indicates the backing store could not be reached.
// It is distinct from a bundle simply not existing, which Load reports
// as nil, nil.
var ErrUnavailable = errors.New("credential store unavailable")

// ErrIncompleteBundle is returned by Save when a bundle is missing
// required resumption fields. Partial bundles are never persisted.
var ErrIncompleteBundle = errors.New("incomplete credential bundle")

// Bundle holds the identity and secret material issued by the
// automation engine after a successful handshake. It is persisted
// verbatim and replayed verbatim on reconnect; the gateway never
// interprets the token values.
type Bundle struct {
	// ClientID is the browser/device identity the engine registered.
	ClientID string `json:"client_id"`

	// ServerToken and ClientToken are the paired resumption tokens.
	ServerToken string `json:"server_token"`
	ClientToken string `json:"client_token"`

	// EncKey and MacKey are the base64-encoded secret material.
	EncKey string `json:"enc_key"`
	MacKey string `json:"mac_key"`

	// PushName is the display name bound to the account, if known.
	PushName string `json:"push_name,omitempty"`

	// Platform is the remote platform identifier, if known.
	Platform string `json:"platform,omitempty"`

	// UpdatedAt is when the bundle was last written.
	UpdatedAt time.Time `json:"updated_at"`
}

// Complete reports whether the bundle carries every field required for
// resumption. An incomplete bundle must never be offered to the engine:
// it hangs the handshake instead of falling back to interactive auth.
func (b *Bundle) Complete() bool {
	if b == nil {
		return false
	}
	return b.ClientID != "" && b.ServerToken != "" && b.ClientToken != "" &&
		b.EncKey != "" && b.MacKey != ""
}

// Store defines credential bundle persistence keyed by session ID.
type Store interface {
	// Load retrieves the bundle for a session. Returns nil, nil when no
	// bundle exists (first connection); I/O failures wrap ErrUnavailable.
	Load(ctx context.Context, sessionID string) (*Bundle, error)

	// Save upserts the bundle for a session. It rejects bundles that
	// fail Complete with ErrIncompleteBundle; calling it twice with the
	// same bundle leaves the store in the same observable state.
	Save(ctx context.Context, sessionID string, b *Bundle) error

	// Delete removes the bundle for a session. Deleting a nonexistent
	// session succeeds.
	Delete(ctx context.Context, sessionID string) error

	// List returns all session IDs with a persisted bundle.
	List(ctx context.Context) ([]string, error)

	// Close releases backend resources.
	Close() error
}
