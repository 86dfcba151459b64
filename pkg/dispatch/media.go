package dispatch

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/wagate/wagate/pkg/engine"
)

const fallbackMIME = "application/octet-stream"

// resolveMedia turns a media reference into fetched, decoded bytes.
func (s *Service) resolveMedia(ctx context.Context, ref *MediaRef) (*engine.Media, error) {
	switch ref.Kind {
	case MediaURL:
		return s.fetchURL(ctx, ref)
	case MediaBase64:
		return decodeDataURI(ref)
	default:
		return nil, fmt.Errorf("media kind %q: %w", ref.Kind, ErrUnsupportedPayload)
	}
}

// fetchURL downloads remote media synchronously, taking the content
// type from the response.
func (s *Service) fetchURL(ctx context.Context, ref *MediaRef) (*engine.Media, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref.Content, nil)
	if err != nil {
		return nil, fmt.Errorf("media url %q: %w", ref.Content, ErrUnsupportedPayload)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %q: %w", ref.Content, errors.Join(ErrFetchFailed, err))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetching %q: status %d: %w", ref.Content, resp.StatusCode, ErrFetchFailed)
	}

	// Read one byte past the cap to detect oversized bodies.
	data, err := io.ReadAll(io.LimitReader(resp.Body, s.maxFetchBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading %q: %w", ref.Content, errors.Join(ErrFetchFailed, err))
	}
	if int64(len(data)) > s.maxFetchBytes {
		return nil, fmt.Errorf("media at %q exceeds %d bytes: %w", ref.Content, s.maxFetchBytes, ErrFetchFailed)
	}

	return &engine.Media{
		MIME:     responseMIME(resp),
		Filename: mediaFilename(ref),
		Data:     data,
	}, nil
}

// decodeDataURI parses an inline blob of the form
// data:<mime>;base64,<payload>. The embedded declaration is the only
// accepted content-type source for inline media.
func decodeDataURI(ref *MediaRef) (*engine.Media, error) {
	const scheme = "data:"

	raw := ref.Content
	if !strings.HasPrefix(raw, scheme) {
		return nil, fmt.Errorf("inline media must be a data URI: %w", ErrUnsupportedPayload)
	}

	meta, payload, ok := strings.Cut(raw[len(scheme):], ",")
	if !ok || !strings.HasSuffix(meta, ";base64") {
		return nil, fmt.Errorf("inline media must be base64-encoded: %w", ErrUnsupportedPayload)
	}

	mimeType := strings.TrimSuffix(meta, ";base64")
	if mimeType == "" {
		mimeType = fallbackMIME
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("decoding inline media: %w", errors.Join(ErrUnsupportedPayload, err))
	}

	return &engine.Media{
		MIME:     mimeType,
		Filename: ref.Filename,
		Data:     data,
	}, nil
}

func responseMIME(resp *http.Response) string {
	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		return fallbackMIME
	}
	mimeType, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return fallbackMIME
	}
	return mimeType
}

func mediaFilename(ref *MediaRef) string {
	if ref.Filename != "" {
		return ref.Filename
	}
	if u, err := url.Parse(ref.Content); err == nil {
		if base := path.Base(u.Path); base != "." && base != "/" {
			return base
		}
	}
	return ""
}
