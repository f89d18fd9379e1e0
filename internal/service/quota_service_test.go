package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/instructor-dispatch-api/internal/models"
)

func TestQuotaServiceResetsPerDay(t *testing.T) {
	counter := &fakeUsageCounter{}
	now := time.Date(2026, 4, 1, 23, 59, 0, 0, time.UTC)
	svc, err := NewQuotaService(counter, 2, "UTC", NewMetricsService())
	require.NoError(t, err)
	svc.WithClock(func() time.Time { return now })

	for i := 0; i < 2; i++ {
		ok, err := svc.Acquire(context.Background())
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := svc.Acquire(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)

	usage, err := svc.DailyUsage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &models.DailyUsage{Day: "2026-04-01", Count: 2, Limit: 2, Remaining: 0}, usage)

	now = now.Add(2 * time.Minute)
	ok, err = svc.Acquire(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	usage, err = svc.DailyUsage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2026-04-02", usage.Day)
	assert.Equal(t, int64(1), usage.Remaining)
}

func TestQuotaServiceUsesConfiguredTimezone(t *testing.T) {
	svc, err := NewQuotaService(&fakeUsageCounter{}, 10, "Asia/Tokyo", nil)
	require.NoError(t, err)
	svc.WithClock(func() time.Time { return time.Date(2026, 4, 1, 16, 0, 0, 0, time.UTC) })
	assert.Equal(t, "2026-04-02", svc.Day())

	_, err = NewQuotaService(&fakeUsageCounter{}, 10, "Mars/Olympus", nil)
	assert.Error(t, err)
	_, err = NewQuotaService(&fakeUsageCounter{}, -1, "", nil)
	assert.Error(t, err)
}

func TestQuotaServiceZeroLimitNeverGrants(t *testing.T) {
	svc, err := NewQuotaService(&fakeUsageCounter{}, 0, "", nil)
	require.NoError(t, err)
	ok, err := svc.Acquire(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}
