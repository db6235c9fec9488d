//go:build integration

package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/your-org/attendance/internal/models"
)

func setupPostgres(t *testing.T) *PostgresStore {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "pgvector/pgvector:pg16",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("docker not available, skipping integration test: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port())
	store, err := NewPostgresStoreDSN(ctx, dsn, 5)
	require.NoError(t, err)
	t.Cleanup(store.Close)

	require.NoError(t, store.Migrate(ctx))
	require.NoError(t, store.Migrate(ctx), "migrations are idempotent")
	return store
}

func TestPostgresStore(t *testing.T) {
	store := setupPostgres(t)
	ctx := context.Background()

	t.Run("identities", func(t *testing.T) {
		for _, id := range []string{"E2", "E1"} {
			require.NoError(t, store.InsertIdentity(ctx, models.Identity{
				IdentityID:    id,
				DisplayName:   "Name " + id,
				ContactEmail:  id + "@example.com",
				Department:    "Ops",
				FeatureVector: []float32{0.1, 0.2, 0.3},
			}))
		}
		err := store.InsertIdentity(ctx, models.Identity{IdentityID: "E1", FeatureVector: []float32{1, 1, 1}})
		assert.ErrorIs(t, err, ErrDuplicateKey)

		list, err := store.ListIdentities(ctx)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "E2", list[0].IdentityID)
		assert.Equal(t, []float32{0.1, 0.2, 0.3}, list[0].FeatureVector)

		got, err := store.GetIdentity(ctx, "nobody")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("attendance", func(t *testing.T) {
		d := time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)
		in := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)
		rec := models.AttendanceRecord{IdentityID: "E1", Day: d, CheckInTime: &in}

		require.NoError(t, store.InsertAttendance(ctx, rec))
		assert.ErrorIs(t, store.InsertAttendance(ctx, rec), ErrDuplicateKey)
		ghost := models.AttendanceRecord{IdentityID: "ghost", Day: d, CheckInTime: &in}
		assert.ErrorIs(t, store.InsertAttendance(ctx, ghost), ErrMissingReference)

		ok, err := store.UpdateCheckout(ctx, "E1", d, in.Add(8*time.Hour))
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = store.UpdateCheckout(ctx, "E1", d, in.Add(9*time.Hour))
		require.NoError(t, err)
		assert.False(t, ok)

		got, err := store.FindAttendance(ctx, "E1", d)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, d, got.Day)
		require.NotNil(t, got.CheckOutTime)
		assert.True(t, got.CheckOutTime.Equal(in.Add(8*time.Hour)))

		recs, err := store.ListAttendanceSince(ctx, d.AddDate(0, 0, -1))
		require.NoError(t, err)
		assert.Len(t, recs, 1)
	})

	t.Run("cascade", func(t *testing.T) {
		n, err := store.DeleteIdentity(ctx, "E1")
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		recs, err := store.ListAttendanceSince(ctx, time.Time{})
		require.NoError(t, err)
		assert.Empty(t, recs)

		count, err := store.CountIdentities(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})
}
