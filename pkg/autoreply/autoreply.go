// Package autoreply holds the keyword-triggered default responses and
// replies to inbound messages through the originating session.
package autoreply

import (
	"context"
	"log/slog"
	"maps"
	"strings"
	"sync"

	"github.com/wagate/wagate/pkg/engine"
)

// DefaultResponses seeds a new table.
var DefaultResponses = map[string]string{
	"hola":    "¡Hola! ¿En qué puedo ayudarte?",
	"adios":   "¡Hasta luego!",
	"gracias": "De nada, estoy aquí para ayudarte",
}

// Table is the concurrency-safe keyword table. Triggers are matched
// case-insensitively against the whole message body.
type Table struct {
	mu        sync.RWMutex
	responses map[string]string
}

// NewTable creates a table seeded with the default responses.
func NewTable() *Table {
	t := &Table{responses: make(map[string]string, len(DefaultResponses))}
	maps.Copy(t.responses, DefaultResponses)
	return t
}

// Set registers or replaces a trigger's response.
func (t *Table) Set(trigger, response string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.responses[strings.ToLower(strings.TrimSpace(trigger))] = response
}

// Get returns the response for a trigger, if registered.
func (t *Table) Get(trigger string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	resp, ok := t.responses[strings.ToLower(strings.TrimSpace(trigger))]
	return resp, ok
}

// Snapshot returns a copy of the table contents.
func (t *Table) Snapshot() map[string]string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]string, len(t.responses))
	maps.Copy(out, t.responses)
	return out
}

// Config configures a Responder.
type Config struct {
	Table *Table

	// Fallback is sent when no trigger matches. Empty disables the
	// fallback, so unmatched messages get no reply.
	Fallback string

	// ReplyToKnown also replies to senders that are saved contacts.
	// The default replies only to unknown numbers.
	ReplyToKnown bool
}

// Responder consumes inbound message events and replies through the
// session's engine connection. Reply failures are logged, never fatal:
// an auto-reply is best-effort.
type Responder struct {
	table        *Table
	fallback     string
	replyToKnown bool
}

// NewResponder creates a responder.
func NewResponder(cfg Config) *Responder {
	if cfg.Table == nil {
		cfg.Table = NewTable()
	}
	return &Responder{
		table:        cfg.Table,
		fallback:     cfg.Fallback,
		replyToKnown: cfg.ReplyToKnown,
	}
}

// Table returns the responder's keyword table.
func (r *Responder) Table() *Table {
	return r.table
}

// HandleMessage replies to an inbound message when policy allows and a
// response is configured. It matches session.MessageFunc.
func (r *Responder) HandleMessage(ctx context.Context, sessionID string, eng engine.Engine, ev engine.Event) {
	if ev.Kind != engine.EventMessage || ev.From == "" {
		return
	}
	if ev.KnownContact && !r.replyToKnown {
		slog.Debug("skipping auto-reply to known contact", "session_id", sessionID, "from", ev.From)
		return
	}

	response, ok := r.table.Get(ev.Body)
	if !ok {
		response = r.fallback
	}
	if response == "" {
		return
	}

	if _, err := eng.Send(ctx, ev.From, engine.Content{Text: response}); err != nil {
		slog.Warn("auto-reply send failed", "session_id", sessionID, "from", ev.From, "error", err)
	}
}
