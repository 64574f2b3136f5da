package settings

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skytower/alignments/internal/repository/memrepo"
)

func TestGetNumberFallsBackToDefault(t *testing.T) {
	repo := memrepo.New()
	store := New(repo, DefaultTTL)

	v := store.GetNumber(context.Background(), KeyAzimuthTolerance, 99)
	assert.Equal(t, 2.0, v)
}

func TestUpsertInvalidatesCache(t *testing.T) {
	repo := memrepo.New()
	store := New(repo, DefaultTTL)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, Setting{Key: KeyAzimuthTolerance, ValueType: TypeNumber, NumberValue: 5.0}))

	v := store.GetNumber(ctx, KeyAzimuthTolerance, 99)
	assert.Equal(t, 5.0, v)
}

func TestStaleCacheRefreshesAfterTTL(t *testing.T) {
	repo := memrepo.New()
	store := New(repo, time.Millisecond)
	ctx := context.Background()

	require.NoError(t, repo.UpsertSetting(ctx, Setting{Key: KeyWorkerConcurrency, ValueType: TypeNumber, NumberValue: 7}))
	time.Sleep(2 * time.Millisecond)

	v := store.GetNumber(ctx, KeyWorkerConcurrency, 1)
	assert.Equal(t, 7.0, v)
}

func TestSeedDefaultsPopulatesRepository(t *testing.T) {
	repo := memrepo.New()
	store := New(repo, DefaultTTL)
	ctx := context.Background()

	require.NoError(t, store.SeedDefaults(ctx))

	all, err := repo.ListSettings(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, all)
}
