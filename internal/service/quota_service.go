package service

import (
	"context"
	"fmt"
	"time"

	"github.com/noah-isme/instructor-dispatch-api/internal/models"
	appErrors "github.com/noah-isme/instructor-dispatch-api/pkg/errors"
)

// UsageCounter is an atomic per-day test-and-increment counter.
type UsageCounter interface {
	TryIncrement(ctx context.Context, day string, limit int64) (int64, bool, error)
	Count(ctx context.Context, day string) (int64, error)
}

// QuotaService scopes routing quota to calendar days in a configured timezone.
type QuotaService struct {
	counter UsageCounter
	limit   int64
	loc     *time.Location
	now     func() time.Time
	metrics *MetricsService
}

// NewQuotaService builds the quota service. An empty timezone means UTC.
func NewQuotaService(counter UsageCounter, limit int, timezone string, metrics *MetricsService) (*QuotaService, error) {
	if limit < 0 {
		return nil, fmt.Errorf("daily quota must not be negative")
	}
	loc := time.UTC
	if timezone != "" {
		var err error
		if loc, err = time.LoadLocation(timezone); err != nil {
			return nil, fmt.Errorf("load quota timezone: %w", err)
		}
	}
	return &QuotaService{counter: counter, limit: int64(limit), loc: loc, now: time.Now, metrics: metrics}, nil
}

// WithClock replaces the clock, for tests.
func (s *QuotaService) WithClock(now func() time.Time) *QuotaService {
	s.now = now
	return s
}

// Day returns the current quota day key.
func (s *QuotaService) Day() string {
	return s.now().In(s.loc).Format(models.DateLayout)
}

// Acquire takes one routing call from today's budget. It returns false once exhausted.
func (s *QuotaService) Acquire(ctx context.Context) (bool, error) {
	count, ok, err := s.counter.TryIncrement(ctx, s.Day(), s.limit)
	if err != nil {
		return false, appErrors.Internal(err, "failed to update routing quota")
	}
	s.metrics.SetQuotaUsed(count)
	return ok, nil
}

// DailyUsage reports today's consumption.
func (s *QuotaService) DailyUsage(ctx context.Context) (*models.DailyUsage, error) {
	day := s.Day()
	count, err := s.counter.Count(ctx, day)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to read routing quota")
	}
	remaining := s.limit - count
	if remaining < 0 {
		remaining = 0
	}
	return &models.DailyUsage{Day: day, Count: count, Limit: s.limit, Remaining: remaining}, nil
}
