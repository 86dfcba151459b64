// Package postgres provides PostgreSQL storage for credential bundles.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/wagate/wagate/pkg/credstore"
)

// psq is the PostgreSQL statement builder with dollar placeholders.
var psq = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

const table = "wa_credentials"

// Store implements credstore.Store using PostgreSQL. One row per
// session ID holds the serialized bundle and a last-updated timestamp.
type Store struct {
	db *sql.DB
}

// New creates a new PostgreSQL credential store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Load retrieves the bundle for a session. Returns nil, nil when no row
// exists.
func (s *Store) Load(ctx context.Context, sessionID string) (*credstore.Bundle, error) {
	query, args, err := psq.
		Select("bundle").
		From(table).
		Where(sq.Eq{"session_id": sessionID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building load query: %w", err)
	}

	var data []byte
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // Store interface specifies nil,nil for not-found
	}
	if err != nil {
		return nil, fmt.Errorf("loading bundle %q: %w", sessionID, errors.Join(credstore.ErrUnavailable, err))
	}

	var b credstore.Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("decoding bundle %q: %w", sessionID, err)
	}
	return &b, nil
}

// Save upserts the bundle for a session, refreshing updated_at on every
// write.
func (s *Store) Save(ctx context.Context, sessionID string, b *credstore.Bundle) error {
	if !b.Complete() {
		return fmt.Errorf("saving bundle %q: %w", sessionID, credstore.ErrIncompleteBundle)
	}

	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("encoding bundle %q: %w", sessionID, err)
	}

	now := time.Now().UTC()
	query, args, err := psq.
		Insert(table).
		Columns("session_id", "bundle", "updated_at").
		Values(sessionID, data, now).
		Suffix("ON CONFLICT (session_id) DO UPDATE SET bundle = EXCLUDED.bundle, updated_at = EXCLUDED.updated_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("building save query: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("saving bundle %q: %w", sessionID, errors.Join(credstore.ErrUnavailable, err))
	}
	return nil
}

// Delete removes the bundle for a session. Deleting a nonexistent
// session succeeds.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	query, args, err := psq.
		Delete(table).
		Where(sq.Eq{"session_id": sessionID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building delete query: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("deleting bundle %q: %w", sessionID, errors.Join(credstore.ErrUnavailable, err))
	}
	return nil
}

// List returns all session IDs with a persisted bundle.
func (s *Store) List(ctx context.Context) ([]string, error) {
	query, args, err := psq.
		Select("session_id").
		From(table).
		OrderBy("session_id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building list query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", errors.Join(credstore.ErrUnavailable, err))
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning session id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating session rows: %w", errors.Join(credstore.ErrUnavailable, err))
	}
	return ids, nil
}

// Close is a no-op; the caller owns the *sql.DB.
func (*Store) Close() error {
	return nil
}

// Verify interface compliance.
var _ credstore.Store = (*Store)(nil)
