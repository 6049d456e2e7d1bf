package report

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/shardprep/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/shardprep/pkg/postgres"
)

// skipIfNoPostgres skips the test when PostgreSQL is unavailable.
func skipIfNoPostgres(t *testing.T) *postgres.Client {
	t.Helper()
	port, err := strconv.Atoi(envOrDefault("TEST_POSTGRES_PORT", "5432"))
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	db, err := postgres.Open(ctx, config.PostgresConfig{
		Host:            envOrDefault("TEST_POSTGRES_HOST", "localhost"),
		Port:            port,
		Database:        envOrDefault("TEST_POSTGRES_DB", "shardprep_test"),
		User:            envOrDefault("TEST_POSTGRES_USER", "shardprep"),
		Password:        envOrDefault("TEST_POSTGRES_PASSWORD", "localdev"),
		SSLMode:         "disable",
		MaxOpenConns:    2,
		MaxIdleConns:    1,
		ConnMaxLifetime: time.Minute,
	})
	if err != nil {
		t.Skipf("skipping: postgres unavailable: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func TestPostgresStoreRoundTrip(t *testing.T) {
	db := skipIfNoPostgres(t)
	ctx := context.Background()
	store := NewPostgresStore(db)
	require.NoError(t, store.EnsureSchema(ctx))

	run := sampleRun()
	run.ID = uuid.NewString()
	t.Cleanup(func() { db.DB.Exec(`DELETE FROM shardprep_runs WHERE run_id = $1`, run.ID) })

	require.NoError(t, store.Emit(ctx, run))
	run.Status = StatusFailed
	require.NoError(t, store.Emit(ctx, run))

	got, err := store.Get(ctx, run.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, StatusFailed, got.Status)
	assert.EqualValues(t, 40, got.Total)
	assert.Len(t, got.Shards, 3)

	finals, err := store.ShardFinals(ctx, run.ID)
	require.NoError(t, err)
	assert.Len(t, finals, 3)

	missing, err := store.Get(ctx, uuid.NewString())
	require.NoError(t, err)
	assert.Nil(t, missing)
}
