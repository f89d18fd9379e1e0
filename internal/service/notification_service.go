package service

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/instructor-dispatch-api/internal/models"
	"github.com/noah-isme/instructor-dispatch-api/pkg/jobs"
	"github.com/noah-isme/instructor-dispatch-api/pkg/notify"
)

// Notification events.
const (
	EventProposed  = "proposed"
	EventConfirmed = "confirmed"
	EventCanceled  = "canceled"
)

const notificationJobType = "assignment.notify"

// deliveryRecorder marks an assignment's notice as delivered.
type deliveryRecorder interface {
	SetMessageSent(ctx context.Context, exec sqlx.ExtContext, id string, sent bool) error
}

// NotificationService hands assignments to the notification collaborator
// through a bounded retrying worker pool. Enqueueing never blocks the caller.
type NotificationService struct {
	queue    *jobs.Queue
	recorder deliveryRecorder
	metrics  *MetricsService
	logger   *zap.Logger
}

// NewNotificationService builds the worker pool around sender.
func NewNotificationService(sender notify.Sender, cfg jobs.QueueConfig, metrics *MetricsService, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &NotificationService{metrics: metrics, logger: logger}
	cfg.Logger = logger
	cfg.OnExhausted = func(job jobs.Job, err error) {
		s.metrics.RecordNotification("exhausted")
	}
	s.queue = jobs.NewQueue("notifications", func(ctx context.Context, job jobs.Job) error {
		msg, ok := job.Payload.(notify.Message)
		if !ok {
			return fmt.Errorf("unexpected notification payload %T", job.Payload)
		}
		if err := sender.Send(ctx, msg); err != nil {
			return err
		}
		s.metrics.RecordNotification("sent")
		s.recordDelivery(ctx, msg)
		return nil
	}, cfg)
	return s
}

// WithDeliveryRecorder makes acknowledged proposal notices set messageSent on
// their assignment. Call it before Start.
func (s *NotificationService) WithDeliveryRecorder(r deliveryRecorder) *NotificationService {
	if s != nil {
		s.recorder = r
	}
	return s
}

// recordDelivery never fails the job: the notice already went out, so a retry
// would only send it twice.
func (s *NotificationService) recordDelivery(ctx context.Context, msg notify.Message) {
	if s.recorder == nil || msg.Event != EventProposed {
		return
	}
	if err := s.recorder.SetMessageSent(ctx, nil, msg.AssignmentID, true); err != nil {
		s.logger.Warn("failed to record notice delivery", zap.String("assignment_id", msg.AssignmentID), zap.Error(err))
	}
}

// Start launches the workers.
func (s *NotificationService) Start(ctx context.Context) {
	if s == nil {
		return
	}
	s.queue.Start(ctx)
}

// Stop drains the workers.
func (s *NotificationService) Stop() {
	if s == nil {
		return
	}
	s.queue.Stop()
}

// Stats exposes queue counters.
func (s *NotificationService) Stats() jobs.Stats {
	if s == nil {
		return jobs.Stats{}
	}
	return s.queue.Stats()
}

// EnqueueAssignments queues a proposed notice for each assignment.
func (s *NotificationService) EnqueueAssignments(ctx context.Context, assignments []models.Assignment) {
	for _, a := range assignments {
		s.Enqueue(ctx, a, EventProposed)
	}
}

// Enqueue queues one notice. A full or stopped queue drops the notice with a warning.
func (s *NotificationService) Enqueue(_ context.Context, a models.Assignment, event string) {
	if s == nil {
		return
	}
	msg := notify.Message{
		AssignmentID:   a.ID,
		SlotID:         a.SlotID,
		InstructorID:   a.InstructorID,
		Classification: string(a.Classification),
		State:          string(a.State),
		Event:          event,
	}
	if err := s.queue.Enqueue(jobs.Job{ID: a.ID, Type: notificationJobType, Payload: msg}); err != nil {
		s.metrics.RecordNotification("dropped")
		s.logger.Warn("notification dropped", zap.String("assignment_id", a.ID), zap.String("event", event), zap.Error(err))
		return
	}
	s.metrics.RecordNotification("queued")
}
