package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"qc-vision/internal/domain/entity"
)

func event(i int) entity.InspectionEvent {
	return entity.NewInspectionEvent(
		entity.Decision{Verdict: entity.VerdictOK, Label: "cup"},
		time.Date(2024, 1, 1, 8, 0, i, 0, time.UTC),
		entity.RunningStats{Total: uint64(i), OK: uint64(i)},
	)
}

func TestMemoryEventRepository_RecentNewestFirst(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryEventRepository(10)

	for i := 1; i <= 3; i++ {
		require.NoError(t, repo.Append(ctx, event(i)))
	}

	got, err := repo.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, uint64(3), got[0].Stats.Total)
	require.Equal(t, uint64(2), got[1].Stats.Total)
}

func TestMemoryEventRepository_EvictsOldest(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryEventRepository(3)

	for i := 1; i <= 5; i++ {
		require.NoError(t, repo.Append(ctx, event(i)))
	}

	got, err := repo.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Equal(t, uint64(5), got[0].Stats.Total)
	require.Equal(t, uint64(3), got[2].Stats.Total)
	require.Equal(t, 5, repo.Len())
}

func TestMemoryEventRepository_Empty(t *testing.T) {
	repo := NewMemoryEventRepository(3)

	got, err := repo.Recent(context.Background(), 5)
	require.NoError(t, err)
	require.Empty(t, got)
	require.Zero(t, repo.Len())
}

func TestMemoryEventRepository_CancelledContext(t *testing.T) {
	repo := NewMemoryEventRepository(3)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := repo.Recent(ctx, 1)
	require.ErrorIs(t, err, context.Canceled)
}
