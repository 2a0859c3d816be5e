package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/campus-care/counseling-service/internal/domain"
	"github.com/campus-care/counseling-service/internal/events"
	"github.com/campus-care/counseling-service/internal/lock"
	"github.com/campus-care/counseling-service/internal/repository"
	apperrors "github.com/campus-care/counseling-service/pkg/util/errorutil"
)

const maxTicketNumberAttempts = 20

// TicketService owns the ticket lifecycle: creation, claim, reassignment,
// status moves and crisis escalation. Every mutation runs under the
// ticket's lock, appends history and publishes an event once unlocked.
type TicketService struct {
	tickets    repository.TicketRepository
	users      repository.UserRepository
	history    repository.TicketHistoryRepository
	locker     lock.Locker
	dispatcher events.Dispatcher
	logger     *zap.Logger
	now        func() time.Time
	numbers    func(time.Time) string
}

// TicketDependencies bundles collaborators for the ticket service.
type TicketDependencies struct {
	TicketRepo  repository.TicketRepository
	UserRepo    repository.UserRepository
	HistoryRepo repository.TicketHistoryRepository
	Locker      lock.Locker
	Dispatcher  events.Dispatcher
	Logger      *zap.Logger
	// Clock and NumberSource default to wall time and random numbers.
	Clock        func() time.Time
	NumberSource func(time.Time) string
}

// TicketCreateInput describes intake.
type TicketCreateInput struct {
	Category       string
	InitialMessage string
	CrisisLevel    domain.CrisisLevel
	Priority       int
}

// TicketUpdateInput is a partial update. Nil fields are left alone.
type TicketUpdateInput struct {
	Status      *domain.TicketStatus
	CounselorID *string
	CrisisLevel *domain.CrisisLevel
}

// NewTicketService constructs the service.
func NewTicketService(deps TicketDependencies) *TicketService {
	svc := &TicketService{
		tickets:    deps.TicketRepo,
		users:      deps.UserRepo,
		history:    deps.HistoryRepo,
		locker:     deps.Locker,
		dispatcher: deps.Dispatcher,
		logger:     deps.Logger,
		now:        deps.Clock,
		numbers:    deps.NumberSource,
	}
	if svc.locker == nil {
		svc.locker = lock.NewKeyedMutex()
	}
	if svc.logger == nil {
		svc.logger = zap.NewNop()
	}
	if svc.now == nil {
		svc.now = func() time.Time { return time.Now().UTC() }
	}
	if svc.numbers == nil {
		svc.numbers = GenerateTicketNumber
	}
	return svc
}

// GenerateTicketNumber returns TKT-YYYYMMDD-NNNNNN for the given day.
func GenerateTicketNumber(at time.Time) string {
	return fmt.Sprintf("TKT-%s-%06d", at.UTC().Format("20060102"), rand.IntN(1_000_000))
}

// CreateTicket opens a ticket for the requesting student.
// Other roles, admins included, are rejected: the requester of a ticket is
// always the student asking for help.
func (s *TicketService) CreateTicket(ctx context.Context, actor domain.Actor, input TicketCreateInput) (*domain.Ticket, error) {
	if actor.Role != domain.RoleStudent {
		return nil, apperrors.NewForbidden("only students can open tickets")
	}
	category := strings.TrimSpace(input.Category)
	message := strings.TrimSpace(input.InitialMessage)
	details := map[string]any{}
	if category == "" {
		details["category"] = "required"
	}
	if message == "" {
		details["initial_message"] = "required"
	}
	if input.CrisisLevel == "" {
		input.CrisisLevel = domain.CrisisLevelNone
	}
	if _, ok := domain.ParseCrisisLevel(string(input.CrisisLevel)); !ok {
		details["crisis_level"] = "unknown level"
	}
	if len(details) > 0 {
		return nil, apperrors.NewValidationError("invalid ticket", details)
	}

	ticket := &domain.Ticket{
		RequesterID:    actor.UserID,
		Category:       category,
		InitialMessage: message,
		Status:         domain.TicketStatusNew,
		CrisisLevel:    input.CrisisLevel,
		Priority:       input.Priority,
	}
	if err := s.insertWithUniqueNumber(ctx, ticket); err != nil {
		return nil, err
	}

	s.logger.Info("ticket created",
		zap.String("ticket_id", ticket.ID),
		zap.String("ticket_number", ticket.TicketNumber),
		zap.String("crisis_level", string(ticket.CrisisLevel)))
	publishEvent(ctx, s.dispatcher, s.logger, events.New(events.EventTicketCreated, ticket.ID, actor,
		events.TicketCreatedPayload{
			TicketNumber: ticket.TicketNumber,
			RequesterID:  ticket.RequesterID,
			Category:     ticket.Category,
			CrisisLevel:  ticket.CrisisLevel,
			Priority:     ticket.Priority,
		}))
	return ticket, nil
}

// insertWithUniqueNumber serializes number generation so the existence
// check and the insert cannot interleave with another creator.
func (s *TicketService) insertWithUniqueNumber(ctx context.Context, ticket *domain.Ticket) error {
	unlock, err := acquire(ctx, s.locker, ticketNumberLockKey)
	if err != nil {
		return err
	}
	defer unlock()

	for attempt := 1; attempt <= maxTicketNumberAttempts; attempt++ {
		candidate := s.numbers(s.now())
		exists, err := s.tickets.ExistsByNumber(ctx, candidate)
		if err != nil {
			return apperrors.MapError(err)
		}
		if exists {
			s.logger.Debug("ticket number collision", zap.String("ticket_number", candidate), zap.Int("attempt", attempt))
			continue
		}
		ticket.TicketNumber = candidate
		err = s.tickets.Create(ctx, ticket)
		if errors.Is(err, repository.ErrDuplicate) {
			continue
		}
		if err != nil {
			return apperrors.MapError(err)
		}
		return nil
	}
	return apperrors.NewInternalError(fmt.Errorf("no free ticket number after %d attempts", maxTicketNumberAttempts))
}

// Claim binds the calling counselor to an unassigned ticket and moves it
// straight to ACTIVE. Exactly one of several concurrent claims wins; the
// others get AlreadyAssigned.
func (s *TicketService) Claim(ctx context.Context, actor domain.Actor, ticketID string) (*domain.Ticket, error) {
	if !actor.Role.IsCounselor() {
		return nil, apperrors.NewForbidden("only counselors can claim tickets")
	}
	return s.mutate(ctx, actor, ticketID, func(ticket *domain.Ticket, rec *recorder) error {
		if ticket.CounselorID != nil {
			return apperrors.NewAlreadyAssigned(ticket.ID)
		}
		if ticket.Status.StampsClosedAt() {
			return apperrors.NewInvalidTransition(string(ticket.Status), string(domain.TicketStatusActive))
		}
		s.bind(ticket, actor.UserID, rec, true)
		s.setStatus(ticket, domain.TicketStatusActive, rec)
		return nil
	})
}

// Reassign is the administrative override that rebinds a ticket to any
// counselor. A NEW ticket moves to ASSIGNED.
func (s *TicketService) Reassign(ctx context.Context, actor domain.Actor, ticketID, counselorID string) (*domain.Ticket, error) {
	if !actor.IsAdmin() {
		return nil, apperrors.NewForbidden("only administrators can reassign tickets")
	}
	if err := s.ensureCounselor(ctx, counselorID); err != nil {
		return nil, err
	}
	return s.mutate(ctx, actor, ticketID, func(ticket *domain.Ticket, rec *recorder) error {
		return s.applyReassign(ticket, counselorID, rec)
	})
}

// UpdateStatus moves the ticket one step along the transition table.
func (s *TicketService) UpdateStatus(ctx context.Context, actor domain.Actor, ticketID string, next domain.TicketStatus) (*domain.Ticket, error) {
	if _, ok := domain.ParseTicketStatus(string(next)); !ok {
		return nil, apperrors.NewValidationError("invalid status", map[string]any{"status": next})
	}
	return s.mutate(ctx, actor, ticketID, func(ticket *domain.Ticket, rec *recorder) error {
		if err := canManage(actor, ticket); err != nil {
			return err
		}
		return s.applyStatus(ticket, next, rec)
	})
}

// SetCrisisLevel changes the severity signal regardless of status.
func (s *TicketService) SetCrisisLevel(ctx context.Context, actor domain.Actor, ticketID string, level domain.CrisisLevel) (*domain.Ticket, error) {
	if _, ok := domain.ParseCrisisLevel(string(level)); !ok {
		return nil, apperrors.NewValidationError("invalid crisis level", map[string]any{"crisis_level": level})
	}
	return s.mutate(ctx, actor, ticketID, func(ticket *domain.Ticket, rec *recorder) error {
		if err := canManage(actor, ticket); err != nil {
			return err
		}
		s.applyCrisis(ticket, level, rec)
		return nil
	})
}

// Update applies a partial update in a fixed order (crisis, counselor,
// status) under a single lock. Any failing part leaves the ticket untouched.
func (s *TicketService) Update(ctx context.Context, actor domain.Actor, ticketID string, input TicketUpdateInput) (*domain.Ticket, error) {
	if input.Status == nil && input.CounselorID == nil && input.CrisisLevel == nil {
		return nil, apperrors.NewValidationError("nothing to update", nil)
	}
	if input.Status != nil {
		if _, ok := domain.ParseTicketStatus(string(*input.Status)); !ok {
			return nil, apperrors.NewValidationError("invalid status", map[string]any{"status": *input.Status})
		}
	}
	if input.CrisisLevel != nil {
		if _, ok := domain.ParseCrisisLevel(string(*input.CrisisLevel)); !ok {
			return nil, apperrors.NewValidationError("invalid crisis level", map[string]any{"crisis_level": *input.CrisisLevel})
		}
	}
	if input.CounselorID != nil {
		if !actor.IsAdmin() {
			return nil, apperrors.NewForbidden("only administrators can reassign tickets")
		}
		if err := s.ensureCounselor(ctx, *input.CounselorID); err != nil {
			return nil, err
		}
	}

	return s.mutate(ctx, actor, ticketID, func(ticket *domain.Ticket, rec *recorder) error {
		if err := canManage(actor, ticket); err != nil {
			return err
		}
		if input.CrisisLevel != nil {
			s.applyCrisis(ticket, *input.CrisisLevel, rec)
		}
		if input.CounselorID != nil {
			if err := s.applyReassign(ticket, *input.CounselorID, rec); err != nil {
				return err
			}
		}
		// Repeating the current status is a no-op unless the ticket is closed.
		if input.Status != nil && (*input.Status != ticket.Status || ticket.Status.IsFinal()) {
			if err := s.applyStatus(ticket, *input.Status, rec); err != nil {
				return err
			}
		}
		return nil
	})
}

// Get returns a ticket visible to actor.
func (s *TicketService) Get(ctx context.Context, actor domain.Actor, ticketID string) (*domain.Ticket, error) {
	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	if !ticket.VisibleTo(actor) {
		return nil, apperrors.NewForbidden("ticket not accessible")
	}
	return ticket, nil
}

// ListForActor returns the actor's own tickets: requested ones for
// students, assigned ones for counselors and everything for admins.
func (s *TicketService) ListForActor(ctx context.Context, actor domain.Actor, limit, offset int) ([]domain.Ticket, error) {
	filter := repository.TicketFilter{Limit: limit, Offset: offset}
	switch {
	case actor.IsAdmin():
	case actor.Role.IsCounselor():
		filter.CounselorID = strPtr(actor.UserID)
	default:
		filter.RequesterID = strPtr(actor.UserID)
	}
	tickets, err := s.tickets.List(ctx, filter)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return tickets, nil
}

// ListAvailable returns NEW and ASSIGNED tickets the actor may see.
func (s *TicketService) ListAvailable(ctx context.Context, actor domain.Actor, limit, offset int) ([]domain.Ticket, error) {
	if !actor.IsAdmin() && !actor.Role.IsCounselor() {
		return nil, apperrors.NewForbidden("counselor role required")
	}
	filter := repository.TicketFilter{
		Statuses: []domain.TicketStatus{domain.TicketStatusNew, domain.TicketStatusAssigned},
		Limit:    limit,
		Offset:   offset,
	}
	if !actor.IsAdmin() {
		filter.UnassignedOr = strPtr(actor.UserID)
	}
	tickets, err := s.tickets.List(ctx, filter)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return tickets, nil
}

// History returns audit entries, newest first.
func (s *TicketService) History(ctx context.Context, actor domain.Actor, ticketID string, limit, offset int) ([]domain.TicketHistory, error) {
	ticket, err := s.Get(ctx, actor, ticketID)
	if err != nil {
		return nil, err
	}
	if s.history == nil {
		return nil, nil
	}
	entries, err := s.history.ListByTicket(ctx, ticket.ID, limit, offset)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return entries, nil
}

// recorder collects the history entries and events produced by one mutation.
type recorder struct {
	actor   domain.Actor
	entries []domain.TicketHistory
	events  []events.Event
}

func (r *recorder) add(ticket *domain.Ticket, change domain.TicketChangeType, oldValue, newValue map[string]any, event events.Event) {
	r.entries = append(r.entries, domain.TicketHistory{
		TicketID:    ticket.ID,
		ChangedByID: strPtr(r.actor.UserID),
		ChangeType:  change,
		OldValue:    oldValue,
		NewValue:    newValue,
	})
	r.events = append(r.events, event)
}

// mutate loads the ticket under its lock, lets apply change it and persists
// the result. Events are published after the lock is released.
func (s *TicketService) mutate(ctx context.Context, actor domain.Actor, ticketID string, apply func(*domain.Ticket, *recorder) error) (*domain.Ticket, error) {
	unlock, err := acquire(ctx, s.locker, ticketLockKey(ticketID))
	if err != nil {
		return nil, err
	}
	rec := &recorder{actor: actor}
	ticket, err := s.mutateLocked(ctx, ticketID, rec, apply)
	unlock()
	if err != nil {
		if errors.Is(err, apperrors.ErrAlreadyAssigned) {
			s.logger.Debug("claim lost", zap.String("ticket_id", ticketID), zap.String("counselor_id", actor.UserID))
		}
		return nil, err
	}

	for _, event := range rec.events {
		publishEvent(ctx, s.dispatcher, s.logger, event)
	}
	return ticket, nil
}

func (s *TicketService) mutateLocked(ctx context.Context, ticketID string, rec *recorder, apply func(*domain.Ticket, *recorder) error) (*domain.Ticket, error) {
	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	if err := apply(ticket, rec); err != nil {
		return nil, err
	}
	if len(rec.entries) == 0 {
		return ticket, nil
	}
	if err := s.tickets.Update(ctx, ticket); err != nil {
		return nil, apperrors.MapError(err)
	}
	if s.history != nil {
		for i := range rec.entries {
			if err := s.history.Create(ctx, &rec.entries[i]); err != nil {
				s.logger.Error("record ticket history",
					zap.String("ticket_id", ticket.ID),
					zap.String("change_type", string(rec.entries[i].ChangeType)),
					zap.Error(err))
			}
		}
	}
	return ticket, nil
}

func (s *TicketService) bind(ticket *domain.Ticket, counselorID string, rec *recorder, selfClaimed bool) {
	old := ticket.CounselorID
	ticket.CounselorID = strPtr(counselorID)
	ticket.AssignedAt = timePtr(s.now())

	oldValue := map[string]any{"counselor_id": nil}
	if old != nil {
		oldValue["counselor_id"] = *old
	}
	rec.add(ticket, domain.ChangeTypeAssignee, oldValue, map[string]any{"counselor_id": counselorID},
		events.New(events.EventTicketAssigned, ticket.ID, rec.actor, events.TicketAssignedPayload{
			TicketNumber: ticket.TicketNumber,
			RequesterID:  ticket.RequesterID,
			OldCounselor: old,
			CounselorID:  counselorID,
			SelfClaimed:  selfClaimed,
		}))
}

func (s *TicketService) setStatus(ticket *domain.Ticket, next domain.TicketStatus, rec *recorder) {
	old := ticket.Status
	ticket.Status = next
	if next.StampsClosedAt() && ticket.ClosedAt == nil {
		ticket.ClosedAt = timePtr(s.now())
	}
	rec.add(ticket, domain.ChangeTypeStatus, map[string]any{"status": old}, map[string]any{"status": next},
		events.New(events.EventTicketStatusChanged, ticket.ID, rec.actor, events.TicketStatusChangedPayload{
			TicketNumber: ticket.TicketNumber,
			RequesterID:  ticket.RequesterID,
			CounselorID:  ticket.CounselorID,
			OldStatus:    old,
			NewStatus:    next,
		}))
}

func (s *TicketService) applyStatus(ticket *domain.Ticket, next domain.TicketStatus, rec *recorder) error {
	if !ticket.Status.CanTransitionTo(next) {
		return apperrors.NewInvalidTransition(string(ticket.Status), string(next))
	}
	if next.RequiresCounselor() && ticket.CounselorID == nil {
		return apperrors.NewDomainError(apperrors.CodeInvalidTransition,
			fmt.Sprintf("cannot move to %s without an assigned counselor", next), http.StatusConflict,
			map[string]any{"from": ticket.Status, "to": next})
	}
	s.setStatus(ticket, next, rec)
	return nil
}

func (s *TicketService) applyReassign(ticket *domain.Ticket, counselorID string, rec *recorder) error {
	if ticket.Status.IsFinal() {
		return apperrors.NewInvalidTransition(string(ticket.Status), string(domain.TicketStatusAssigned))
	}
	s.bind(ticket, counselorID, rec, false)
	if ticket.Status == domain.TicketStatusNew {
		s.setStatus(ticket, domain.TicketStatusAssigned, rec)
	}
	return nil
}

func (s *TicketService) applyCrisis(ticket *domain.Ticket, level domain.CrisisLevel, rec *recorder) {
	old := ticket.CrisisLevel
	if old == level {
		return
	}
	ticket.CrisisLevel = level
	rec.add(ticket, domain.ChangeTypeCrisis, map[string]any{"crisis_level": old}, map[string]any{"crisis_level": level},
		events.New(events.EventTicketCrisisChanged, ticket.ID, rec.actor, events.TicketCrisisChangedPayload{
			TicketNumber: ticket.TicketNumber,
			RequesterID:  ticket.RequesterID,
			CounselorID:  ticket.CounselorID,
			OldLevel:     old,
			NewLevel:     level,
		}))
}

func (s *TicketService) ensureCounselor(ctx context.Context, counselorID string) error {
	if strings.TrimSpace(counselorID) == "" {
		return apperrors.NewValidationError("counselor_id is required", nil)
	}
	user, err := s.users.GetByID(ctx, counselorID)
	if err != nil {
		return apperrors.MapError(err)
	}
	if !user.Role.IsCounselor() || !user.IsActive {
		return apperrors.NewValidationError("user is not an active counselor", map[string]any{"counselor_id": counselorID})
	}
	return nil
}

// canManage allows admins, the bound counselor and, for unassigned
// tickets, any counselor.
func canManage(actor domain.Actor, ticket *domain.Ticket) error {
	if actor.IsAdmin() || (actor.Role.IsCounselor() && ticket.VisibleTo(actor)) {
		return nil
	}
	return apperrors.NewForbidden("not allowed to manage this ticket")
}
