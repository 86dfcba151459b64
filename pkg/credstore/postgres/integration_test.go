//go:build integration

package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	pgcontainer "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/wagate/wagate/pkg/credstore"
	"github.com/wagate/wagate/pkg/database/migrate"
)

func TestStoreAgainstPostgres(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	ctx := context.Background()

	container, err := pgcontainer.Run(ctx, "postgres:15",
		pgcontainer.WithDatabase("testdb"),
		pgcontainer.WithUsername("testuser"),
		pgcontainer.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	defer func() { _ = container.Terminate(ctx) }()

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("postgres", connStr)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	require.NoError(t, migrate.Run(db))
	store := New(db)

	bundle := &credstore.Bundle{
		ClientID:    "client-1",
		ServerToken: "srv-tok",
		ClientToken: "cli-tok",
		EncKey:      "enc",
		MacKey:      "mac",
		PushName:    "Ana",
		UpdatedAt:   time.Now().UTC().Truncate(time.Second),
	}

	t.Run("round trip", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, "s1", bundle))

		got, err := store.Load(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, bundle, got)
	})

	t.Run("upsert replaces", func(t *testing.T) {
		updated := *bundle
		updated.PushName = "Bea"
		require.NoError(t, store.Save(ctx, "s1", &updated))

		got, err := store.Load(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, "Bea", got.PushName)
	})

	t.Run("list", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, "s2", bundle))

		ids, err := store.List(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"s1", "s2"}, ids)
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		require.NoError(t, store.Delete(ctx, "s2"))
		require.NoError(t, store.Delete(ctx, "s2"))

		got, err := store.Load(ctx, "s2")
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}
