package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seed(t *testing.T, m *Memory, n int) []Violation {
	t.Helper()
	base := time.Date(2024, 9, 1, 8, 0, 0, 0, time.UTC)
	out := make([]Violation, 0, n)
	for i := 0; i < n; i++ {
		v, err := m.Insert(context.Background(), NewViolation{
			OccurredAt: base.Add(time.Duration(i) * time.Minute),
			Class:      "NO-Hardhat",
			Image:      []byte(fmt.Sprintf("jpeg-%d", i)),
		})
		require.NoError(t, err)
		out = append(out, v)
	}
	return out
}

func TestMemoryInsertAssignsIncreasingUIDs(t *testing.T) {
	m := NewMemory()
	recs := seed(t, m, 3)

	assert.Equal(t, int64(1), recs[0].UID)
	assert.Equal(t, int64(2), recs[1].UID)
	assert.Equal(t, int64(3), recs[2].UID)
	assert.Equal(t, DefaultWorkshop, recs[0].Workshop)
}

func TestMemoryRecentOrderAndLimit(t *testing.T) {
	m := NewMemory()
	seed(t, m, 7)

	recent, err := m.Recent(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, recent, 5)
	for i := 1; i < len(recent); i++ {
		assert.True(t, recent[i-1].OccurredAt.After(recent[i].OccurredAt))
	}
	assert.Equal(t, int64(7), recent[0].UID)
	assert.Nil(t, recent[0].Image)

	all, err := m.All(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 7)

	n, err := m.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, n)
}

func TestMemoryTiesBreakOnUID(t *testing.T) {
	m := NewMemory()
	ts := time.Now()
	for i := 0; i < 2; i++ {
		_, err := m.Insert(context.Background(), NewViolation{OccurredAt: ts, Class: "NO-Mask"})
		require.NoError(t, err)
	}
	recent, err := m.Recent(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, int64(2), recent[0].UID)
	assert.Equal(t, int64(1), recent[1].UID)
}

func TestMemoryGet(t *testing.T) {
	m := NewMemory()
	recs := seed(t, m, 4)

	got, err := m.Get(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, recs[2].OccurredAt, got.OccurredAt)
	assert.Equal(t, []byte("jpeg-2"), got.Image)

	// callers cannot mutate the stored image
	got.Image[0] = 'X'
	again, err := m.Get(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg-2"), again.Image)

	_, err = m.Get(context.Background(), 42)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryRejectsEmptyClass(t *testing.T) {
	m := NewMemory()
	_, err := m.Insert(context.Background(), NewViolation{OccurredAt: time.Now()})
	assert.Error(t, err)
}
