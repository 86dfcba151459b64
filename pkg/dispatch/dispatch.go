// Package dispatch resolves outbound payloads into the engine's wire
// form and forwards them through Ready sessions. Payloads carry plain
// text, a remote media URL, or an inline base64 blob; each failure mode
// surfaces as a distinct error kind so callers can tell a bad request
// from a transient transport problem.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/wagate/wagate/pkg/engine"
	"github.com/wagate/wagate/pkg/session"
)

// ErrUnsupportedPayload indicates a payload with no content, an unknown
// media kind, or undecodable inline media.
var ErrUnsupportedPayload = errors.New("unsupported payload")

// ErrFetchFailed indicates remote media could not be fetched.
var ErrFetchFailed = errors.New("media fetch failed")

// ErrSendFailed indicates the engine rejected or failed the send.
var ErrSendFailed = errors.New("dispatch send failed")

// ErrInvalidTarget indicates the target address could not be normalized.
var ErrInvalidTarget = errors.New("invalid target")

const (
	// defaultMaxFetchBytes caps remote media downloads at 16 MiB.
	defaultMaxFetchBytes = 16 << 20

	defaultFetchTimeout = 30 * time.Second

	// targetSuffix is the engine's address form for individual chats.
	targetSuffix = "@c.us"
)

// MediaKind identifies how a media reference is resolved.
type MediaKind string

// Media reference kinds.
const (
	MediaURL    MediaKind = "url"
	MediaBase64 MediaKind = "base64"
)

// MediaRef references media to attach: either a remote URL fetched at
// dispatch time or an inline base64 data URI.
type MediaRef struct {
	Kind     MediaKind `json:"kind"`
	Content  string    `json:"content"`
	Filename string    `json:"filename,omitempty"`
}

// Payload is an outbound message: text, media, or both. When media is
// present the text becomes its caption.
type Payload struct {
	Text  string    `json:"text,omitempty"`
	Media *MediaRef `json:"media,omitempty"`
}

// Config configures a Service.
type Config struct {
	Registry *session.Registry

	// HTTPClient fetches remote media. Defaults to a client with a
	// 30-second timeout.
	HTTPClient *http.Client

	// MaxFetchBytes caps remote media size. Defaults to 16 MiB.
	MaxFetchBytes int64
}

// Service dispatches payloads through Ready sessions.
type Service struct {
	registry      *session.Registry
	client        *http.Client
	maxFetchBytes int64
}

// NewService creates a dispatch service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("dispatch service requires a session registry")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: defaultFetchTimeout}
	}
	if cfg.MaxFetchBytes <= 0 {
		cfg.MaxFetchBytes = defaultMaxFetchBytes
	}
	return &Service{
		registry:      cfg.Registry,
		client:        cfg.HTTPClient,
		maxFetchBytes: cfg.MaxFetchBytes,
	}, nil
}

// Send resolves the payload and forwards it to the target through the
// session's engine connection. The session must be Ready: forwarding
// through an unauthenticated connection is undefined, so any other
// state is rejected before a transport call is attempted. No retry is
// performed on failure.
func (s *Service) Send(ctx context.Context, sessionID, target string, p Payload) (engine.Ack, error) {
	h, ok := s.registry.Get(sessionID)
	if !ok {
		return engine.Ack{}, fmt.Errorf("session %q: %w", sessionID, session.ErrNotFound)
	}

	eng, ready := h.ReadyEngine()
	if !ready {
		return engine.Ack{}, fmt.Errorf("session %q is %s: %w", sessionID, h.State(), session.ErrNotReady)
	}

	addr, err := normalizeTarget(target)
	if err != nil {
		return engine.Ack{}, err
	}

	content, err := s.resolve(ctx, p)
	if err != nil {
		return engine.Ack{}, err
	}

	ack, err := eng.Send(ctx, addr, content)
	if err != nil {
		return engine.Ack{}, fmt.Errorf("sending via %q: %w", sessionID, errors.Join(ErrSendFailed, err))
	}
	return ack, nil
}

// resolve converts a payload into engine content.
func (s *Service) resolve(ctx context.Context, p Payload) (engine.Content, error) {
	if p.Text == "" && p.Media == nil {
		return engine.Content{}, fmt.Errorf("payload needs text or media: %w", ErrUnsupportedPayload)
	}

	content := engine.Content{Text: p.Text}
	if p.Media == nil {
		return content, nil
	}

	media, err := s.resolveMedia(ctx, p.Media)
	if err != nil {
		return engine.Content{}, err
	}
	content.Media = media
	return content, nil
}

// normalizeTarget converts a phone number into the engine's address
// form, tolerating the usual formatting characters.
func normalizeTarget(target string) (string, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')', '+', '.':
			return -1
		}
		return r
	}, target)

	if cleaned == "" {
		return "", fmt.Errorf("target %q: %w", target, ErrInvalidTarget)
	}
	for _, r := range cleaned {
		if r < '0' || r > '9' {
			return "", fmt.Errorf("target %q: %w", target, ErrInvalidTarget)
		}
	}
	return cleaned + targetSuffix, nil
}
