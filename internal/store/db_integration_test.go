//go:build integration
// +build integration

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test")
	}
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("violations"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Skipf("Skipping integration test: failed to start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := Connect(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(db.Close)

	require.NoError(t, db.Migrate())
	// second run is a no-op
	require.NoError(t, db.Migrate())
	return db
}

func TestDBRoundTrip_Integration(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	base := time.Date(2024, 9, 1, 8, 0, 0, 0, time.UTC)
	image := []byte{0xFF, 0xD8, 0x01, 0x02, 0xFF, 0xD9}

	var inserted []Violation
	for i := 0; i < 7; i++ {
		v, err := db.Insert(ctx, NewViolation{
			OccurredAt: base.Add(time.Duration(i) * time.Second),
			Class:      "NO-Safety Vest",
			Image:      image,
		})
		require.NoError(t, err)
		inserted = append(inserted, v)
	}
	for i := 1; i < len(inserted); i++ {
		assert.Greater(t, inserted[i].UID, inserted[i-1].UID)
	}

	recent, err := db.Recent(ctx, 5)
	require.NoError(t, err)
	require.Len(t, recent, 5)
	assert.Equal(t, inserted[6].UID, recent[0].UID)
	assert.Equal(t, DefaultWorkshop, recent[0].Workshop)

	all, err := db.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 7)

	n, err := db.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	got, err := db.Get(ctx, inserted[2].UID)
	require.NoError(t, err)
	assert.Equal(t, image, got.Image)
	assert.True(t, got.OccurredAt.Equal(inserted[2].OccurredAt))
	assert.Equal(t, "NO-Safety Vest", got.Class)

	_, err = db.Get(ctx, 9999)
	assert.ErrorIs(t, err, ErrNotFound)
}
