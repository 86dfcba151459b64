package credstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const (
	// filePrefix is the per-session file name prefix, kept compatible
	// with the layout older deployments used on disk.
	filePrefix = "session-"
	fileSuffix = ".json"

	dirPerm  = 0o700
	filePerm = 0o600
)

// FileStore implements Store with one JSON file per session under a
// base directory.
type FileStore struct {
	dir string
}

// NewFileStore creates a FileStore rooted at dir, creating the
// directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, fmt.Errorf("creating sessions dir: %w", errors.Join(ErrUnavailable, err))
	}
	return &FileStore{dir: dir}, nil
}

// Load retrieves the bundle for a session. Returns nil, nil when the
// session file does not exist.
func (s *FileStore) Load(_ context.Context, sessionID string) (*Bundle, error) {
	path, err := s.path(sessionID)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path) // #nosec G304 -- path is derived from a sanitized session ID
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil //nolint:nilnil // Store interface specifies nil,nil for not-found
	}
	if err != nil {
		return nil, fmt.Errorf("reading bundle %q: %w", sessionID, errors.Join(ErrUnavailable, err))
	}

	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("decoding bundle %q: %w", sessionID, err)
	}
	return &b, nil
}

// Save upserts the bundle for a session. The write goes through a temp
// file and rename so a crash never leaves a truncated bundle behind.
func (s *FileStore) Save(_ context.Context, sessionID string, b *Bundle) error {
	if !b.Complete() {
		return fmt.Errorf("saving bundle %q: %w", sessionID, ErrIncompleteBundle)
	}

	path, err := s.path(sessionID)
	if err != nil {
		return err
	}

	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("encoding bundle %q: %w", sessionID, err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, filePerm); err != nil {
		return fmt.Errorf("writing bundle %q: %w", sessionID, errors.Join(ErrUnavailable, err))
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("committing bundle %q: %w", sessionID, errors.Join(ErrUnavailable, err))
	}
	return nil
}

// Delete removes the bundle for a session. Missing files are not an error.
func (s *FileStore) Delete(_ context.Context, sessionID string) error {
	path, err := s.path(sessionID)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("deleting bundle %q: %w", sessionID, errors.Join(ErrUnavailable, err))
	}
	return nil
}

// List returns all session IDs with a persisted bundle.
func (s *FileStore) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("listing sessions dir: %w", errors.Join(ErrUnavailable, err))
	}

	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix))
	}
	return ids, nil
}

// Close is a no-op for the filesystem store.
func (*FileStore) Close() error {
	return nil
}

// path maps a session ID to its file path, rejecting IDs that would
// escape the base directory.
func (s *FileStore) path(sessionID string) (string, error) {
	if sessionID == "" || strings.ContainsAny(sessionID, "/\\") || strings.Contains(sessionID, "..") {
		return "", fmt.Errorf("invalid session id %q", sessionID)
	}
	return filepath.Join(s.dir, filePrefix+sessionID+fileSuffix), nil
}

// Verify interface compliance.
var _ Store = (*FileStore)(nil)
