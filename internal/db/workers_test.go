package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/kimhsiao/tipsync/backend/internal/errors"
	"github.com/kimhsiao/tipsync/backend/internal/models"
)

func TestWorkerCache_PutGet(t *testing.T) {
	cache := NewWorkerCache(openTestDB(t).DB)
	ctx := context.Background()

	expires := time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC)
	require.NoError(t, cache.PutWorker(ctx, &models.Worker{
		ID: "W1", Name: "Achieng", Occupation: "barista", Plan: models.PlanLite, PlanExpiresAt: &expires, TotalTips: 1200,
	}))

	got, err := cache.GetWorker(ctx, "W1")
	require.NoError(t, err)
	assert.Equal(t, "Achieng", got.Name)
	assert.Equal(t, models.PlanLite, got.Plan)
	require.NotNil(t, got.PlanExpiresAt)
	assert.True(t, expires.Equal(*got.PlanExpiresAt))
	assert.False(t, got.CachedAt.IsZero())
}

func TestWorkerCache_Upsert(t *testing.T) {
	cache := NewWorkerCache(openTestDB(t).DB)
	ctx := context.Background()

	require.NoError(t, cache.PutWorker(ctx, &models.Worker{ID: "W1", Name: "A", Plan: models.PlanLite}))
	require.NoError(t, cache.PutWorker(ctx, &models.Worker{ID: "W1", Name: "A", Plan: models.PlanPremium}))

	got, err := cache.GetWorker(ctx, "W1")
	require.NoError(t, err)
	assert.Equal(t, models.PlanPremium, got.Plan)
	assert.Nil(t, got.PlanExpiresAt)
}

func TestWorkerCache_Missing(t *testing.T) {
	cache := NewWorkerCache(openTestDB(t).DB)

	_, err := cache.GetWorker(context.Background(), "missing")
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
}
