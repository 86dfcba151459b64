package dispatch

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wagate/wagate/pkg/session"
)

func mediaService(t *testing.T, maxBytes int64) *Service {
	t.Helper()
	svc, err := NewService(Config{Registry: session.NewRegistry(), MaxFetchBytes: maxBytes})
	require.NoError(t, err)
	return svc
}

func TestFetchURL(t *testing.T) {
	payload := []byte("fake-jpeg-bytes")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg; charset=binary")
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	svc := mediaService(t, 0)

	media, err := svc.resolveMedia(context.Background(), &MediaRef{
		Kind:    MediaURL,
		Content: srv.URL + "/photos/cat.jpg",
	})
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", media.MIME, "parameters stripped from the content type")
	assert.Equal(t, "cat.jpg", media.Filename, "filename falls back to the URL path")
	assert.Equal(t, payload, media.Data)
}

func TestFetchURLExplicitFilenameWins(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("x"))
	}))
	defer srv.Close()

	svc := mediaService(t, 0)

	media, err := svc.resolveMedia(context.Background(), &MediaRef{
		Kind:     MediaURL,
		Content:  srv.URL + "/blob",
		Filename: "invoice.pdf",
	})
	require.NoError(t, err)
	assert.Equal(t, "invoice.pdf", media.Filename)
}

func TestFetchURLMissingContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header()["Content-Type"] = nil
		_, _ = w.Write([]byte("x"))
	}))
	defer srv.Close()

	svc := mediaService(t, 0)

	media, err := svc.resolveMedia(context.Background(), &MediaRef{Kind: MediaURL, Content: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, fallbackMIME, media.MIME)
}

func TestFetchURLNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	svc := mediaService(t, 0)

	_, err := svc.resolveMedia(context.Background(), &MediaRef{Kind: MediaURL, Content: srv.URL})
	require.ErrorIs(t, err, ErrFetchFailed)
	assert.Contains(t, err.Error(), "404")
}

func TestFetchURLOversizedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("a", 100)))
	}))
	defer srv.Close()

	svc := mediaService(t, 64)

	_, err := svc.resolveMedia(context.Background(), &MediaRef{Kind: MediaURL, Content: srv.URL})
	require.ErrorIs(t, err, ErrFetchFailed)
	assert.Contains(t, err.Error(), "exceeds")
}

func TestFetchURLBodyAtCapSucceeds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("a", 64)))
	}))
	defer srv.Close()

	svc := mediaService(t, 64)

	media, err := svc.resolveMedia(context.Background(), &MediaRef{Kind: MediaURL, Content: srv.URL})
	require.NoError(t, err)
	assert.Len(t, media.Data, 64)
}

func TestFetchURLUnreachable(t *testing.T) {
	svc := mediaService(t, 0)

	_, err := svc.resolveMedia(context.Background(), &MediaRef{
		Kind:    MediaURL,
		Content: "http://127.0.0.1:1/nope",
	})
	require.ErrorIs(t, err, ErrFetchFailed)
}

func TestDecodeDataURI(t *testing.T) {
	raw := []byte("inline bytes")
	uri := "data:image/png;base64," + base64.StdEncoding.EncodeToString(raw)

	media, err := decodeDataURI(&MediaRef{Kind: MediaBase64, Content: uri, Filename: "pic.png"})
	require.NoError(t, err)
	assert.Equal(t, "image/png", media.MIME)
	assert.Equal(t, "pic.png", media.Filename)
	assert.Equal(t, raw, media.Data)
}

func TestDecodeDataURIDefaultsMIME(t *testing.T) {
	uri := "data:;base64," + base64.StdEncoding.EncodeToString([]byte("x"))

	media, err := decodeDataURI(&MediaRef{Kind: MediaBase64, Content: uri})
	require.NoError(t, err)
	assert.Equal(t, fallbackMIME, media.MIME)
}

func TestDecodeDataURIRejectsMalformed(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "not a data uri", content: "https://example.com/pic.png"},
		{name: "missing base64 marker", content: "data:image/png,rawbytes"},
		{name: "bad base64 payload", content: "data:image/png;base64,!!not-base64!!"},
		{name: "no comma", content: "data:image/png;base64"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := decodeDataURI(&MediaRef{Kind: MediaBase64, Content: tc.content})
			require.ErrorIs(t, err, ErrUnsupportedPayload)
		})
	}
}

func TestResolveMediaUnknownKind(t *testing.T) {
	svc := mediaService(t, 0)

	_, err := svc.resolveMedia(context.Background(), &MediaRef{Kind: "carrier-pigeon", Content: "x"})
	require.ErrorIs(t, err, ErrUnsupportedPayload)
}
