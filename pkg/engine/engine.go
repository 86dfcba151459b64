// Package engine defines the boundary to the messaging-automation
// engine that drives the remote protocol session. The gateway treats
// the engine as opaque: it consumes the lifecycle events a connection
// emits and forwards outbound content through it, but never touches the
// wire protocol itself. Concrete engines register as named drivers.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/wagate/wagate/pkg/credstore"
)

// ErrAuthFailed indicates the engine rejected the session's credentials.
var ErrAuthFailed = errors.New("engine authentication failed")

// ErrSendFailed indicates a transport-level send failure.
var ErrSendFailed = errors.New("engine send failed")

// ConnState is the engine connection state as the engine reports it.
type ConnState string

// Connection states.
const (
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateDisconnected ConnState = "disconnected"
)

// EventKind identifies a lifecycle event emitted by a connection.
type EventKind string

// Event kinds, emitted asynchronously and in-order per connection.
const (
	// EventChallenge carries interactive challenge material (a scannable
	// code) when no usable resumption bundle was supplied.
	EventChallenge EventKind = "challenge"

	// EventAuthenticated reports the remote side accepted the identity.
	EventAuthenticated EventKind = "authenticated"

	// EventReady reports the session is fully operational. It carries
	// the bundle the engine issued for future resumption.
	EventReady EventKind = "ready"

	// EventAuthFailed reports a terminal authentication failure.
	EventAuthFailed EventKind = "auth_failed"

	// EventDisconnected reports remote-side disconnection.
	EventDisconnected EventKind = "disconnected"

	// EventMessage carries an inbound message for auto-reply handling.
	EventMessage EventKind = "message"
)

// Event is one lifecycle event from a connection's stream.
type Event struct {
	Kind EventKind

	// Code is the challenge material for EventChallenge.
	Code string

	// Issued is the credential bundle for EventReady.
	Issued *credstore.Bundle

	// Reason describes EventAuthFailed and EventDisconnected.
	Reason string

	// Message fields for EventMessage.
	From         string
	Body         string
	KnownContact bool
}

// Ack acknowledges an accepted outbound send.
type Ack struct {
	ID string `json:"id"`
}

// Media is an outbound media attachment, already fetched and decoded.
type Media struct {
	MIME     string
	Filename string
	Data     []byte
}

// Content is the resolved outbound payload in the engine's expected form.
type Content struct {
	Text  string
	Media *Media
}

// Engine is one connection to the remote messaging network. Instances
// are not safe for concurrent Connect calls; the session manager owns
// each instance exclusively.
type Engine interface {
	// Connect opens the remote session. A complete resumption bundle
	// skips interactive authentication; nil forces the challenge flow.
	// The returned channel delivers events in emission order and is
	// closed after a terminal event.
	Connect(ctx context.Context, resumption *credstore.Bundle) (<-chan Event, error)

	// State returns the current connection state.
	State() ConnState

	// Send forwards content to a target address through the connection.
	Send(ctx context.Context, target string, content Content) (Ack, error)

	// Logout tears down the remote session and invalidates its
	// credentials on the remote side.
	Logout(ctx context.Context) error

	// Close releases the connection without remote-side teardown.
	Close() error
}

// Options configures a new engine connection.
type Options struct {
	// SessionID is the stable identifier of the session the connection
	// will serve.
	SessionID string

	// Settings carries driver-specific configuration.
	Settings map[string]any
}

// Factory creates one engine connection instance.
type Factory func(opts Options) (Engine, error)

var (
	driversMu sync.RWMutex
	drivers   = make(map[string]Factory)
)

// Register makes an engine driver available under the given name.
// It panics on duplicate registration, mirroring database/sql.
func Register(name string, factory Factory) {
	driversMu.Lock()
	defer driversMu.Unlock()

	if factory == nil {
		panic("engine: Register factory is nil")
	}
	if _, dup := drivers[name]; dup {
		panic("engine: Register called twice for driver " + name)
	}
	drivers[name] = factory
}

// Open creates a connection using the named driver.
func Open(name string, opts Options) (Engine, error) {
	driversMu.RLock()
	factory, ok := drivers[name]
	driversMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown engine driver %q (registered: %v)", name, Drivers())
	}
	return factory(opts)
}

// Drivers returns the names of the registered drivers, sorted.
func Drivers() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()

	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
