package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/instructor-dispatch-api/internal/dto"
	"github.com/noah-isme/instructor-dispatch-api/internal/models"
	appErrors "github.com/noah-isme/instructor-dispatch-api/pkg/errors"
	"github.com/noah-isme/instructor-dispatch-api/pkg/routing"
)

type distanceStore interface {
	Get(ctx context.Context, instructorID, unitID string) (*models.DistanceRecord, error)
	UnitsWithin(ctx context.Context, instructorID string, minMeters, maxMeters int) ([]string, error)
	InstructorsWithin(ctx context.Context, unitID string, minMeters, maxMeters int) ([]string, error)
	ExistingPairs(ctx context.Context, pairs []models.DistancePair) (map[string]bool, error)
	Upsert(ctx context.Context, exec sqlx.ExtContext, record *models.DistanceRecord) error
}

type unitLister interface {
	ListByIDs(ctx context.Context, exec sqlx.ExtContext, ids []string) ([]models.Unit, error)
}

type instructorLister interface {
	ListByIDs(ctx context.Context, exec sqlx.ExtContext, ids []string) ([]models.Instructor, error)
}

type quotaAcquirer interface {
	Acquire(ctx context.Context) (bool, error)
}

type candidatePairSource interface {
	CandidatePairs(ctx context.Context, start, end string) ([]models.DistancePair, error)
}

// DistanceServiceConfig wires the distance service.
type DistanceServiceConfig struct {
	Store         distanceStore
	Units         unitLister
	Instructors   instructorLister
	Quota         quotaAcquirer
	Router        routing.Client
	Pairs         candidatePairSource
	Cache         *CacheService
	CacheTTL      time.Duration
	LookupTimeout time.Duration
	Metrics       *MetricsService
	Logger        *zap.Logger
}

// DistanceService serves cached distances and backfills missing ones through
// the quota-limited routing provider. Reads never reach the provider.
type DistanceService struct {
	store         distanceStore
	units         unitLister
	instructors   instructorLister
	quota         quotaAcquirer
	router        routing.Client
	pairs         candidatePairSource
	cache         *CacheService
	cacheTTL      time.Duration
	lookupTimeout time.Duration
	metrics       *MetricsService
	logger        *zap.Logger
}

// NewDistanceService constructs the service.
func NewDistanceService(cfg DistanceServiceConfig) *DistanceService {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = 5 * time.Second
	}
	return &DistanceService{
		store:         cfg.Store,
		units:         cfg.Units,
		instructors:   cfg.Instructors,
		quota:         cfg.Quota,
		router:        cfg.Router,
		pairs:         cfg.Pairs,
		cache:         cfg.Cache,
		cacheTTL:      cfg.CacheTTL,
		lookupTimeout: cfg.LookupTimeout,
		metrics:       cfg.Metrics,
		logger:        cfg.Logger,
	}
}

func distanceCacheKey(instructorID, unitID string) string {
	return "distance:" + instructorID + "|" + unitID
}

// Get returns the cached distance for the pair.
func (s *DistanceService) Get(ctx context.Context, instructorID, unitID string) (*models.DistanceRecord, error) {
	if instructorID == "" || unitID == "" {
		return nil, appErrors.Clone(appErrors.ErrInvalidArgument, "instructorId and unitId are required")
	}
	key := distanceCacheKey(instructorID, unitID)
	var cached models.DistanceRecord
	if s.cache.Get(ctx, key, &cached) {
		return &cached, nil
	}

	record, err := s.store.Get(ctx, instructorID, unitID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "distance not cached for pair")
		}
		return nil, appErrors.Internal(err, "failed to load distance")
	}
	s.cache.Set(ctx, key, record, s.cacheTTL)
	return record, nil
}

// maxRangeKm bounds range queries so the meter conversion stays inside int32.
const maxRangeKm = 100000

// kmRangeToMeters clamps maxKm to maxRangeKm; a minKm beyond it is rejected.
func kmRangeToMeters(minKm, maxKm float64) (int, int, error) {
	if math.IsNaN(minKm) || math.IsNaN(maxKm) || minKm < 0 || maxKm < 0 || minKm > maxKm {
		return 0, 0, appErrors.Clone(appErrors.ErrInvalidRange, "distance range must be non-negative with min <= max")
	}
	if minKm > maxRangeKm {
		return 0, 0, appErrors.Clone(appErrors.ErrInvalidRange, fmt.Sprintf("minKm must not exceed %d", maxRangeKm))
	}
	maxKm = math.Min(maxKm, maxRangeKm)
	return int(math.Ceil(minKm * 1000)), int(math.Floor(maxKm * 1000)), nil
}

// WithinForInstructor lists units whose cached distance to the instructor lies in the range.
func (s *DistanceService) WithinForInstructor(ctx context.Context, instructorID string, minKm, maxKm float64) ([]string, error) {
	minM, maxM, err := kmRangeToMeters(minKm, maxKm)
	if err != nil {
		return nil, err
	}
	if instructorID == "" {
		return nil, appErrors.Clone(appErrors.ErrInvalidArgument, "instructorId is required")
	}
	ids, err := s.store.UnitsWithin(ctx, instructorID, minM, maxM)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to filter distances")
	}
	return ids, nil
}

// WithinForUnit lists instructors whose cached distance to the unit lies in the range.
func (s *DistanceService) WithinForUnit(ctx context.Context, unitID string, minKm, maxKm float64) ([]string, error) {
	minM, maxM, err := kmRangeToMeters(minKm, maxKm)
	if err != nil {
		return nil, err
	}
	if unitID == "" {
		return nil, appErrors.Clone(appErrors.ErrInvalidArgument, "unitId is required")
	}
	ids, err := s.store.InstructorsWithin(ctx, unitID, minM, maxM)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to filter distances")
	}
	return ids, nil
}

// BackfillRange derives the pairs of the open candidates in the range and backfills them.
func (s *DistanceService) BackfillRange(ctx context.Context, start, end string, limit int) (*dto.BackfillResult, error) {
	if limit <= 0 {
		return nil, appErrors.Clone(appErrors.ErrInvalidArgument, "limit must be positive")
	}
	if s.pairs == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "candidate source not configured")
	}
	pairs, err := s.pairs.CandidatePairs(ctx, start, end)
	if err != nil {
		return nil, err
	}
	return s.Backfill(ctx, pairs, limit)
}

// Backfill computes up to limit missing pairs. Each routing call spends one unit of
// daily quota. Once the quota is exhausted the rest is reported as unresolved. A
// failed or timed out lookup leaves the pair unknown and is not retried.
func (s *DistanceService) Backfill(ctx context.Context, pairs []models.DistancePair, limit int) (*dto.BackfillResult, error) {
	if limit <= 0 {
		return nil, appErrors.Clone(appErrors.ErrInvalidArgument, "limit must be positive")
	}
	unique := make([]models.DistancePair, 0, len(pairs))
	seen := make(map[string]struct{}, len(pairs))
	for _, p := range pairs {
		if p.InstructorID == "" || p.UnitID == "" {
			return nil, appErrors.Clone(appErrors.ErrInvalidArgument, "every pair needs instructorId and unitId")
		}
		if _, ok := seen[p.Key()]; ok {
			continue
		}
		seen[p.Key()] = struct{}{}
		unique = append(unique, p)
	}

	result := &dto.BackfillResult{Requested: len(unique)}
	if len(unique) == 0 {
		return result, nil
	}

	existing, err := s.store.ExistingPairs(ctx, unique)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to check cached distances")
	}
	missing := make([]models.DistancePair, 0, len(unique))
	for _, p := range unique {
		if existing[p.Key()] {
			result.AlreadyCached++
			continue
		}
		missing = append(missing, p)
	}
	if len(missing) > limit {
		result.Unresolved = append(result.Unresolved, missing[limit:]...)
		missing = missing[:limit]
	}
	if len(missing) == 0 {
		return result, nil
	}

	units, instructors, err := s.loadLocations(ctx, missing)
	if err != nil {
		return nil, err
	}

	for i, pair := range missing {
		if ctx.Err() != nil {
			result.Unresolved = append(result.Unresolved, missing[i:]...)
			break
		}
		origin, dest, err := endpoints(pair, units, instructors)
		if err != nil {
			s.logger.Warn("distance pair has no location", zap.String("instructor_id", pair.InstructorID),
				zap.String("unit_id", pair.UnitID), zap.Error(err))
			result.Unknown = append(result.Unknown, pair)
			continue
		}
		ok, err := s.quota.Acquire(ctx)
		if err != nil {
			result.Unresolved = append(result.Unresolved, missing[i:]...)
			return result, err
		}
		if !ok {
			result.QuotaExhausted = true
			result.Unresolved = append(result.Unresolved, missing[i:]...)
			s.logger.Info("routing quota exhausted during backfill", zap.Int("unresolved", len(missing)-i))
			break
		}

		record, lookupErr := s.lookup(ctx, pair, origin, dest)
		if lookupErr != nil {
			s.metrics.RecordRoutingLookup("failed")
			s.logger.Warn(appErrors.ErrExternalLookupFailed.Message,
				zap.String("instructor_id", pair.InstructorID), zap.String("unit_id", pair.UnitID), zap.Error(lookupErr))
			result.Unknown = append(result.Unknown, pair)
			continue
		}
		if err := s.store.Upsert(ctx, nil, record); err != nil {
			return result, appErrors.Internal(err, "failed to store distance")
		}
		s.metrics.RecordRoutingLookup("ok")
		s.cache.Invalidate(ctx, distanceCacheKey(pair.InstructorID, pair.UnitID))
		result.Computed++
	}
	return result, nil
}

func (s *DistanceService) loadLocations(ctx context.Context, pairs []models.DistancePair) (map[string]models.Unit, map[string]models.Instructor, error) {
	unitIDs := make([]string, 0, len(pairs))
	instructorIDs := make([]string, 0, len(pairs))
	for _, p := range pairs {
		unitIDs = append(unitIDs, p.UnitID)
		instructorIDs = append(instructorIDs, p.InstructorID)
	}
	unitList, err := s.units.ListByIDs(ctx, nil, dedupe(unitIDs))
	if err != nil {
		return nil, nil, appErrors.Internal(err, "failed to load units")
	}
	instructorList, err := s.instructors.ListByIDs(ctx, nil, dedupe(instructorIDs))
	if err != nil {
		return nil, nil, appErrors.Internal(err, "failed to load instructors")
	}
	units := make(map[string]models.Unit, len(unitList))
	for _, u := range unitList {
		units[u.ID] = u
	}
	instructors := make(map[string]models.Instructor, len(instructorList))
	for _, i := range instructorList {
		instructors[i.ID] = i
	}
	return units, instructors, nil
}

func endpoints(pair models.DistancePair, units map[string]models.Unit, instructors map[string]models.Instructor) (routing.Location, routing.Location, error) {
	unit, ok := units[pair.UnitID]
	if !ok {
		return routing.Location{}, routing.Location{}, errors.New("unit not found")
	}
	instructor, ok := instructors[pair.InstructorID]
	if !ok {
		return routing.Location{}, routing.Location{}, errors.New("instructor not found")
	}
	origin := routing.Location{Latitude: instructor.Latitude, Longitude: instructor.Longitude, Address: instructor.Address}
	dest := routing.Location{Latitude: unit.Latitude, Longitude: unit.Longitude, Address: unit.Address}
	if origin.IsZero() || dest.IsZero() {
		return routing.Location{}, routing.Location{}, errors.New("missing coordinates and address")
	}
	return origin, dest, nil
}

func (s *DistanceService) lookup(ctx context.Context, pair models.DistancePair, origin, dest routing.Location) (*models.DistanceRecord, error) {
	lookupCtx, cancel := context.WithTimeout(ctx, s.lookupTimeout)
	defer cancel()
	route, err := s.router.Lookup(lookupCtx, origin, dest)
	if err != nil {
		return nil, err
	}
	return &models.DistanceRecord{
		InstructorID:    pair.InstructorID,
		UnitID:          pair.UnitID,
		DistanceMeters:  route.DistanceMeters,
		DurationSeconds: route.DurationSeconds,
		UpdatedAt:       time.Now().UTC(),
	}, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
