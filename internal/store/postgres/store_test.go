package postgres_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/klio/internal/domain"
	"github.com/alanyoungcy/klio/internal/store/postgres"
	"github.com/alanyoungcy/klio/internal/store/storetest"
)

func TestDSN(t *testing.T) {
	got := postgres.DSN(postgres.ClientConfig{
		Host: "db", Database: "klio", User: "u", Password: "p",
	})
	require.Equal(t, "postgres://u:p@db:5432/klio?sslmode=disable", got)

	require.Equal(t, "postgres://x", postgres.DSN(postgres.ClientConfig{DSN: "postgres://x", Host: "ignored"}))
}

// TestStore runs the shared suite against a live database named by
// KLIO_TEST_POSTGRES_DSN. Tables are truncated before every subtest.
func TestStore(t *testing.T) {
	dsn := os.Getenv("KLIO_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("KLIO_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	client, err := postgres.New(ctx, postgres.ClientConfig{DSN: dsn})
	require.NoError(t, err)
	t.Cleanup(client.Close)
	require.NoError(t, client.RunMigrations(ctx))

	storetest.Run(t, func(t *testing.T) domain.Store {
		_, err := client.Pool().Exec(ctx,
			`TRUNCATE trades, positions, audit_log, markets RESTART IDENTITY`)
		require.NoError(t, err)
		return postgres.NewStore(client.Pool())
	})
}
