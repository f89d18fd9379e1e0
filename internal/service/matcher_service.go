package service

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/instructor-dispatch-api/internal/dto"
	"github.com/noah-isme/instructor-dispatch-api/internal/models"
	"github.com/noah-isme/instructor-dispatch-api/pkg/database"
	appErrors "github.com/noah-isme/instructor-dispatch-api/pkg/errors"
)

// LockFunc takes transaction scoped locks for the given keys.
type LockFunc func(ctx context.Context, exec sqlx.ExtContext, keys ...string) error

type assignmentInserter interface {
	Insert(ctx context.Context, exec sqlx.ExtContext, assignment *models.Assignment) (bool, error)
	CountLive(ctx context.Context, exec sqlx.ExtContext, slotID string) (int, error)
}

type assignmentNotifier interface {
	EnqueueAssignments(ctx context.Context, assignments []models.Assignment)
}

// MatcherConfig wires the auto-assignment matcher.
type MatcherConfig struct {
	DB          database.TxBeginner
	Candidates  *CandidateService
	Assignments assignmentInserter
	Lock        LockFunc
	Notifier    assignmentNotifier
	Timeout     time.Duration
	Metrics     *MetricsService
	Logger      *zap.Logger
}

// MatcherService greedily fills open slots with the nearest eligible instructors.
type MatcherService struct {
	db          database.TxBeginner
	candidates  *CandidateService
	assignments assignmentInserter
	lock        LockFunc
	notifier    assignmentNotifier
	timeout     time.Duration
	metrics     *MetricsService
	logger      *zap.Logger
}

// NewMatcherService constructs the matcher.
func NewMatcherService(cfg MatcherConfig) *MatcherService {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Lock == nil {
		cfg.Lock = func(context.Context, sqlx.ExtContext, ...string) error { return nil }
	}
	return &MatcherService{
		db:          cfg.DB,
		candidates:  cfg.Candidates,
		assignments: cfg.Assignments,
		lock:        cfg.Lock,
		notifier:    cfg.Notifier,
		timeout:     cfg.Timeout,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
	}
}

// ProposeAssignments runs one matching pass over the range inside a single
// serializable transaction. Canceling ctx stops further slots; fills already
// made in the run are committed.
func (s *MatcherService) ProposeAssignments(ctx context.Context, start, end string) (*dto.ProposeResult, error) {
	if err := validateRange(start, end); err != nil {
		return nil, err
	}

	runCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	txCtx := context.WithoutCancel(ctx)
	began := time.Now()

	var result *dto.ProposeResult
	err := database.WithTx(txCtx, s.db, database.Serializable, 1, func(tx *sqlx.Tx) error {
		var runErr error
		result, runErr = s.run(runCtx, txCtx, tx, start, end)
		return runErr
	})
	if err != nil {
		s.metrics.ObserveMatcherRun("error", 0, 0, time.Since(began))
		if database.IsRetryable(err) {
			return nil, appErrors.Wrap(err, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, "concurrent dispatch changes detected, retry the run")
		}
		return nil, appErrors.FromError(err)
	}

	outcome := "completed"
	if result.Interrupted {
		outcome = "interrupted"
	}
	s.metrics.ObserveMatcherRun(outcome, result.Created, result.Skipped, time.Since(began))
	for _, w := range result.Warnings {
		s.metrics.RecordQuotaShortfall(string(w.Category))
	}
	s.logger.Info("matcher run finished",
		zap.String("start", start), zap.String("end", end),
		zap.Int("created", result.Created), zap.Int("skipped", result.Skipped),
		zap.Int("warnings", len(result.Warnings)), zap.Bool("interrupted", result.Interrupted))

	if s.notifier != nil && len(result.Assignments) > 0 {
		s.notifier.EnqueueAssignments(txCtx, result.Assignments)
	}
	return result, nil
}

func (s *MatcherService) run(runCtx, txCtx context.Context, tx sqlx.ExtContext, start, end string) (*dto.ProposeResult, error) {
	snap, err := s.candidates.resolve(txCtx, tx, start, end)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(snap.slots))
	for _, slot := range snap.slots {
		keys = append(keys, slotLockKey(slot.ID))
	}
	if err := s.lock(txCtx, tx, keys...); err != nil {
		return nil, appErrors.Internal(err, "failed to lock slots")
	}

	categories := make(map[string]models.InstructorCategory, len(snap.instructors))
	for _, ins := range snap.instructors {
		categories[ins.ID] = ins.Category
	}
	filledBySlot := map[string]map[models.InstructorCategory]int{}
	for _, a := range snap.held {
		if !a.IsLive() {
			continue
		}
		if cat, ok := categories[a.InstructorID]; ok {
			if filledBySlot[a.SlotID] == nil {
				filledBySlot[a.SlotID] = map[models.InstructorCategory]int{}
			}
			filledBySlot[a.SlotID][cat]++
		}
	}

	policy := s.candidates.Policy()
	usedOnDate := map[string]map[string]struct{}{}
	result := &dto.ProposeResult{Assignments: []models.Assignment{}}

	for _, slot := range snap.slots {
		if runCtx.Err() != nil {
			result.Interrupted = true
			break
		}
		unit, ok := snap.units[slot.UnitID]
		if !ok {
			s.logger.Warn("slot references unknown unit", zap.String("slot_id", slot.ID), zap.String("unit_id", slot.UnitID))
			result.Skipped++
			continue
		}

		live, err := s.assignments.CountLive(txCtx, tx, slot.ID)
		if err != nil {
			return nil, appErrors.Internal(err, "failed to count slot assignments")
		}
		remaining := slot.RequiredCount - live
		if remaining <= 0 {
			continue
		}

		quotas, err := unit.Quotas()
		if err != nil {
			s.logger.Warn("ignoring malformed category quotas", zap.String("unit_id", unit.ID), zap.Error(err))
			quotas = models.CategoryQuotas{}
		}

		eligible := FilterCandidates(slot, unit, snap.instructors, snap.distances, snap.bookings, policy)
		eligible = withoutUsed(eligible, usedOnDate[slot.Date])
		picks, shortfalls := pickCandidates(eligible, remaining, quotas, filledBySlot[slot.ID])
		for _, sf := range shortfalls {
			result.Warnings = append(result.Warnings, dto.QuotaWarning{
				SlotID: slot.ID, UnitID: slot.UnitID, Date: slot.Date,
				Category: sf.category, Required: sf.required, Filled: sf.filled,
			})
		}

		fills := 0
		for _, pick := range picks {
			assignment := models.Assignment{
				SlotID:       slot.ID,
				InstructorID: pick.Instructor.ID,
				UnitID:       slot.UnitID,
				Date:         slot.Date,
				CreatedBy:    models.CreatedByMatcher,
			}
			inserted, err := s.assignments.Insert(txCtx, tx, &assignment)
			if err != nil {
				return nil, appErrors.Internal(err, "failed to create assignment")
			}
			if !inserted {
				continue
			}
			fills++
			result.Assignments = append(result.Assignments, assignment)
			snap.bookings.add(slot.ID, pick.Instructor.ID, slot.UnitID, slot.Date)
			if usedOnDate[slot.Date] == nil {
				usedOnDate[slot.Date] = map[string]struct{}{}
			}
			usedOnDate[slot.Date][pick.Instructor.ID] = struct{}{}
		}
		if fills == 0 {
			result.Skipped++
		}
		result.Created += fills
	}
	return result, nil
}

func withoutUsed(candidates []dto.Candidate, used map[string]struct{}) []dto.Candidate {
	if len(used) == 0 {
		return candidates
	}
	out := candidates[:0:0]
	for _, c := range candidates {
		if _, ok := used[c.Instructor.ID]; !ok {
			out = append(out, c)
		}
	}
	return out
}

type quotaShortfall struct {
	category models.InstructorCategory
	required int
	filled   int
}

// pickCandidates serves advisory category quotas first, in category priority,
// then fills the rest nearest first. candidates must already be ordered.
func pickCandidates(candidates []dto.Candidate, remaining int, quotas models.CategoryQuotas, filled map[models.InstructorCategory]int) ([]dto.Candidate, []quotaShortfall) {
	picks := make([]dto.Candidate, 0, remaining)
	taken := make([]bool, len(candidates))
	var shortfalls []quotaShortfall

	for _, cat := range models.CategoryPriority {
		need := quotas[cat] - filled[cat]
		if need <= 0 {
			continue
		}
		got := 0
		for i, c := range candidates {
			if got == need || len(picks) == remaining {
				break
			}
			if taken[i] || c.Instructor.Category != cat {
				continue
			}
			taken[i] = true
			picks = append(picks, c)
			got++
		}
		if got < need {
			shortfalls = append(shortfalls, quotaShortfall{category: cat, required: quotas[cat], filled: filled[cat] + got})
		}
	}

	for i, c := range candidates {
		if len(picks) >= remaining {
			break
		}
		if !taken[i] {
			taken[i] = true
			picks = append(picks, c)
		}
	}
	return picks, shortfalls
}

func slotLockKey(slotID string) string { return "slot:" + slotID }

func unitLockKey(unitID string) string { return "unit:" + unitID }
