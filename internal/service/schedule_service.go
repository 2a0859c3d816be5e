package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/campus-care/counseling-service/internal/domain"
	"github.com/campus-care/counseling-service/internal/events"
	"github.com/campus-care/counseling-service/internal/lock"
	"github.com/campus-care/counseling-service/internal/repository"
	apperrors "github.com/campus-care/counseling-service/pkg/util/errorutil"
)

// Conflict modes for the booking guard.
const (
	ConflictExact   = "exact"
	ConflictOverlap = "overlap"
)

const (
	defaultDurationMinutes = 60
	maxDurationMinutes     = 24 * 60
)

// ScheduleService books counseling sessions. Bookings for one counselor
// are checked and inserted under a lock so two requests can never hold the
// same start instant.
type ScheduleService struct {
	schedules       repository.ScheduleRepository
	tickets         repository.TicketRepository
	users           repository.UserRepository
	locker          lock.Locker
	dispatcher      events.Dispatcher
	logger          *zap.Logger
	conflictMode    string
	defaultDuration int
	now             func() time.Time
}

// ScheduleDependencies bundles collaborators for the schedule service.
type ScheduleDependencies struct {
	ScheduleRepo    repository.ScheduleRepository
	TicketRepo      repository.TicketRepository
	UserRepo        repository.UserRepository
	Locker          lock.Locker
	Dispatcher      events.Dispatcher
	Logger          *zap.Logger
	ConflictMode    string
	DefaultDuration int
	Clock           func() time.Time
}

// BookingInput describes a booking request.
type BookingInput struct {
	CounselorID string
	// StudentID lets an administrator book on a student's behalf. Ignored
	// for students, who always book for themselves.
	StudentID       string
	ScheduledAt     time.Time
	DurationMinutes int
	TicketID        *string
	MeetingType     string
	MeetingLink     *string
	Notes           *string
}

// NewScheduleService constructs the service.
func NewScheduleService(deps ScheduleDependencies) *ScheduleService {
	svc := &ScheduleService{
		schedules:       deps.ScheduleRepo,
		tickets:         deps.TicketRepo,
		users:           deps.UserRepo,
		locker:          deps.Locker,
		dispatcher:      deps.Dispatcher,
		logger:          deps.Logger,
		conflictMode:    deps.ConflictMode,
		defaultDuration: deps.DefaultDuration,
		now:             deps.Clock,
	}
	if svc.locker == nil {
		svc.locker = lock.NewKeyedMutex()
	}
	if svc.logger == nil {
		svc.logger = zap.NewNop()
	}
	if svc.conflictMode != ConflictOverlap {
		svc.conflictMode = ConflictExact
	}
	if svc.defaultDuration <= 0 {
		svc.defaultDuration = defaultDurationMinutes
	}
	if svc.now == nil {
		svc.now = func() time.Time { return time.Now().UTC() }
	}
	return svc
}

// Book reserves a counselor's time. A competing booking for the same slot
// fails with SlotTaken.
func (s *ScheduleService) Book(ctx context.Context, actor domain.Actor, input BookingInput) (*domain.Schedule, error) {
	studentID := actor.UserID
	switch {
	case actor.IsAdmin():
		if strings.TrimSpace(input.StudentID) == "" {
			return nil, apperrors.NewValidationError("student_id is required when booking on behalf of a student", nil)
		}
		studentID = input.StudentID
	case actor.Role != domain.RoleStudent:
		return nil, apperrors.NewForbidden("only students can book sessions")
	}

	booking, err := s.prepare(ctx, actor, studentID, input)
	if err != nil {
		return nil, err
	}

	key := slotLockKey(booking.CounselorID, booking.ScheduledAt)
	if s.conflictMode == ConflictOverlap {
		key = counselorLockKey(booking.CounselorID)
	}
	unlock, err := acquire(ctx, s.locker, key)
	if err != nil {
		return nil, err
	}
	err = s.insertIfFree(ctx, booking)
	unlock()
	if err != nil {
		if errors.Is(err, apperrors.ErrSlotTaken) {
			s.logger.Debug("booking lost",
				zap.String("counselor_id", booking.CounselorID),
				zap.Time("scheduled_at", booking.ScheduledAt),
				zap.String("student_id", studentID))
		}
		return nil, err
	}

	s.logger.Info("session booked",
		zap.String("schedule_id", booking.ID),
		zap.String("counselor_id", booking.CounselorID),
		zap.Time("scheduled_at", booking.ScheduledAt))
	publishEvent(ctx, s.dispatcher, s.logger, events.New(events.EventScheduleBooked, derefString(booking.TicketID), actor,
		events.ScheduleBookedPayload{
			ScheduleID:      booking.ID,
			StudentID:       booking.StudentID,
			CounselorID:     booking.CounselorID,
			ScheduledAt:     booking.ScheduledAt,
			DurationMinutes: booking.DurationMinutes,
		}))
	return booking, nil
}

func (s *ScheduleService) prepare(ctx context.Context, actor domain.Actor, studentID string, input BookingInput) (*domain.Schedule, error) {
	details := map[string]any{}
	if strings.TrimSpace(input.CounselorID) == "" {
		details["counselor_id"] = "required"
	}
	if input.ScheduledAt.IsZero() {
		details["scheduled_at"] = "required"
	}
	duration := input.DurationMinutes
	if duration == 0 {
		duration = s.defaultDuration
	}
	if duration < 0 || duration > maxDurationMinutes {
		details["duration_minutes"] = "must be between 1 and 1440"
	}
	if len(details) > 0 {
		return nil, apperrors.NewValidationError("invalid booking", details)
	}

	counselor, err := s.users.GetByID(ctx, input.CounselorID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	if !counselor.Role.IsCounselor() || !counselor.IsActive {
		return nil, apperrors.NewValidationError("user is not an active counselor", map[string]any{"counselor_id": input.CounselorID})
	}

	if input.TicketID != nil {
		ticket, err := s.tickets.GetByID(ctx, *input.TicketID)
		if err != nil {
			return nil, apperrors.MapError(err)
		}
		if ticket.RequesterID != studentID && !actor.IsAdmin() {
			return nil, apperrors.NewForbidden("ticket belongs to another student")
		}
	}

	meetingType := strings.TrimSpace(input.MeetingType)
	if meetingType == "" {
		meetingType = domain.DefaultMeetingType
	}
	return &domain.Schedule{
		StudentID:       studentID,
		CounselorID:     input.CounselorID,
		TicketID:        input.TicketID,
		ScheduledAt:     input.ScheduledAt.UTC(),
		DurationMinutes: duration,
		MeetingType:     meetingType,
		MeetingLink:     input.MeetingLink,
		Notes:           input.Notes,
		Status:          domain.ScheduleStatusScheduled,
	}, nil
}

// insertIfFree must run under the slot lock.
func (s *ScheduleService) insertIfFree(ctx context.Context, booking *domain.Schedule) error {
	from, to := booking.ScheduledAt, booking.ScheduledAt
	if s.conflictMode == ConflictOverlap {
		from = booking.ScheduledAt.Add(-maxDurationMinutes * time.Minute)
		to = booking.EndsAt()
	}
	existing, err := s.schedules.ListByCounselor(ctx, booking.CounselorID, from, to)
	if err != nil {
		return apperrors.MapError(err)
	}
	for i := range existing {
		if s.conflicts(&existing[i], booking) {
			return apperrors.NewSlotTaken(booking.CounselorID, booking.ScheduledAt)
		}
	}

	err = s.schedules.Create(ctx, booking)
	if errors.Is(err, repository.ErrDuplicate) {
		return apperrors.NewSlotTaken(booking.CounselorID, booking.ScheduledAt)
	}
	return apperrors.MapError(err)
}

func (s *ScheduleService) conflicts(existing, candidate *domain.Schedule) bool {
	if !existing.HoldsSlot() {
		return false
	}
	if existing.ScheduledAt.Equal(candidate.ScheduledAt) {
		return true
	}
	if s.conflictMode == ConflictOverlap {
		return existing.Overlaps(candidate.ScheduledAt, time.Duration(candidate.DurationMinutes)*time.Minute)
	}
	return false
}

// Cancel releases the booking's slot.
func (s *ScheduleService) Cancel(ctx context.Context, actor domain.Actor, scheduleID string) (*domain.Schedule, error) {
	return s.transition(ctx, actor, scheduleID, domain.ScheduleStatusCancelled)
}

// Complete marks the session as held.
func (s *ScheduleService) Complete(ctx context.Context, actor domain.Actor, scheduleID string) (*domain.Schedule, error) {
	return s.transition(ctx, actor, scheduleID, domain.ScheduleStatusCompleted)
}

// Confirm acknowledges a scheduled session.
func (s *ScheduleService) Confirm(ctx context.Context, actor domain.Actor, scheduleID string) (*domain.Schedule, error) {
	return s.transition(ctx, actor, scheduleID, domain.ScheduleStatusConfirmed)
}

func (s *ScheduleService) transition(ctx context.Context, actor domain.Actor, scheduleID string, next domain.ScheduleStatus) (*domain.Schedule, error) {
	unlock, err := acquire(ctx, s.locker, scheduleIDLockKey(scheduleID))
	if err != nil {
		return nil, err
	}
	booking, old, err := s.transitionLocked(ctx, actor, scheduleID, next)
	unlock()
	if err != nil {
		return nil, err
	}

	publishEvent(ctx, s.dispatcher, s.logger, events.New(events.EventScheduleStatusChanged, derefString(booking.TicketID), actor,
		events.ScheduleStatusChangedPayload{
			ScheduleID:  booking.ID,
			StudentID:   booking.StudentID,
			CounselorID: booking.CounselorID,
			ScheduledAt: booking.ScheduledAt,
			OldStatus:   old,
			NewStatus:   next,
		}))
	return booking, nil
}

func (s *ScheduleService) transitionLocked(ctx context.Context, actor domain.Actor, scheduleID string, next domain.ScheduleStatus) (*domain.Schedule, domain.ScheduleStatus, error) {
	booking, err := s.schedules.GetByID(ctx, scheduleID)
	if err != nil {
		return nil, "", apperrors.MapError(err)
	}
	if !actor.IsAdmin() && !booking.InvolvesUser(actor.UserID) {
		return nil, "", apperrors.NewForbidden("not a participant of this booking")
	}
	old := booking.Status
	if !old.CanTransitionTo(next) {
		return nil, "", apperrors.NewInvalidTransition(string(old), string(next))
	}
	booking.Status = next
	if err := s.schedules.Update(ctx, booking); err != nil {
		return nil, "", apperrors.MapError(err)
	}
	return booking, old, nil
}

// Get returns a booking visible to actor.
func (s *ScheduleService) Get(ctx context.Context, actor domain.Actor, scheduleID string) (*domain.Schedule, error) {
	booking, err := s.schedules.GetByID(ctx, scheduleID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	if !actor.IsAdmin() && !booking.InvolvesUser(actor.UserID) {
		return nil, apperrors.NewForbidden("not a participant of this booking")
	}
	return booking, nil
}

// ListForActor returns the actor's bookings. With upcomingOnly it returns
// future scheduled or confirmed sessions, soonest first; otherwise all of
// them, latest first.
func (s *ScheduleService) ListForActor(ctx context.Context, actor domain.Actor, upcomingOnly bool) ([]domain.Schedule, error) {
	filter := repository.ScheduleFilter{Descending: !upcomingOnly}
	switch {
	case actor.IsAdmin():
	case actor.Role.IsCounselor():
		filter.CounselorID = strPtr(actor.UserID)
	default:
		filter.StudentID = strPtr(actor.UserID)
	}
	if upcomingOnly {
		filter.From = timePtr(s.now())
		filter.ActiveOnly = true
	}
	bookings, err := s.schedules.List(ctx, filter)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return bookings, nil
}

// AvailableCounselors lists active users who can hold bookings, by name,
// so students can pick a counselor before booking.
func (s *ScheduleService) AvailableCounselors(ctx context.Context) ([]domain.User, error) {
	var counselors []domain.User
	for _, role := range domain.CounselorRoles {
		users, err := s.users.ListByRole(ctx, role, true)
		if err != nil {
			return nil, apperrors.MapError(err)
		}
		counselors = append(counselors, users...)
	}
	sort.SliceStable(counselors, func(i, j int) bool {
		if counselors[i].FullName == counselors[j].FullName {
			return counselors[i].ID < counselors[j].ID
		}
		return counselors[i].FullName < counselors[j].FullName
	})
	return counselors, nil
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
