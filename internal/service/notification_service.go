package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/campus-care/counseling-service/internal/domain"
	"github.com/campus-care/counseling-service/internal/events"
	"github.com/campus-care/counseling-service/internal/observability"
	"github.com/campus-care/counseling-service/internal/realtime"
	"github.com/campus-care/counseling-service/internal/repository"
	apperrors "github.com/campus-care/counseling-service/pkg/util/errorutil"
)

// Notification frame types.
const (
	NotificationNewTicket       = "new_ticket"
	NotificationUrgentTicket    = "urgent_ticket"
	NotificationTicketAssigned  = "ticket_assigned"
	NotificationTicketStatus    = "ticket_status"
	NotificationCrisisEscalated = "crisis_escalated"
	NotificationNewMessage      = "new_message"
	NotificationSchedule        = "schedule"
	NotificationAnnouncement    = "announcement"
)

// NotificationService turns domain events into alerts on the notification
// channel and serves role-wide announcements.
type NotificationService struct {
	dispatcher events.Dispatcher
	registry   Broadcaster
	users      repository.UserRepository
	metrics    *observability.Metrics
	logger     *zap.Logger
	now        func() time.Time
}

// NotificationDependencies bundles collaborators for the notification service.
type NotificationDependencies struct {
	Dispatcher events.Dispatcher
	Registry   Broadcaster
	UserRepo   repository.UserRepository
	Metrics    *observability.Metrics
	Logger     *zap.Logger
}

// AnnouncementInput is an administrator broadcast.
type AnnouncementInput struct {
	Role    domain.Role
	Title   string
	Message string
}

// NewNotificationService creates the service.
func NewNotificationService(deps NotificationDependencies) *NotificationService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{
		dispatcher: deps.Dispatcher,
		registry:   deps.Registry,
		users:      deps.UserRepo,
		metrics:    deps.Metrics,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.Subscribe(events.EventTicketCreated, n.handleTicketCreated)
	n.dispatcher.Subscribe(events.EventTicketAssigned, n.handleTicketAssigned)
	n.dispatcher.Subscribe(events.EventTicketStatusChanged, n.handleTicketStatusChanged)
	n.dispatcher.Subscribe(events.EventTicketCrisisChanged, n.handleTicketCrisisChanged)
	n.dispatcher.Subscribe(events.EventChatMessageSent, n.handleChatMessageSent)
	n.dispatcher.Subscribe(events.EventScheduleBooked, n.handleScheduleBooked)
	n.dispatcher.Subscribe(events.EventScheduleStatusChanged, n.handleScheduleStatusChanged)
}

// BroadcastToRole pushes an announcement to every active user holding role
// and returns the number of connections reached.
func (n *NotificationService) BroadcastToRole(ctx context.Context, actor domain.Actor, input AnnouncementInput) (int, error) {
	if !actor.IsAdmin() {
		return 0, apperrors.NewForbidden("only administrators can broadcast")
	}
	if !input.Role.Valid() {
		return 0, apperrors.NewValidationError("invalid role", map[string]any{"role": input.Role})
	}
	message := strings.TrimSpace(input.Message)
	if message == "" {
		return 0, apperrors.NewValidationError("message must not be empty", nil)
	}
	delivered, err := n.pushToRoles(ctx, []domain.Role{input.Role}, realtime.NotificationFrame{
		Type:    NotificationAnnouncement,
		Title:   strings.TrimSpace(input.Title),
		Message: message,
		Data:    map[string]any{"role": input.Role, "sent_by": actor.UserID},
	})
	if err != nil {
		return 0, err
	}
	n.logger.Info("announcement broadcast", zap.String("role", string(input.Role)), zap.Int("delivered", delivered))
	return delivered, nil
}

// NotifyUsers pushes a frame to the given identities.
func (n *NotificationService) NotifyUsers(userIDs []string, frame realtime.NotificationFrame) int {
	if n.registry == nil || len(userIDs) == 0 {
		return 0
	}
	if frame.CreatedAt.IsZero() {
		frame.CreatedAt = n.now()
	}
	payload, err := realtime.Encode(frame)
	if err != nil {
		n.logger.Error("encode notification", zap.String("type", frame.Type), zap.Error(err))
		return 0
	}
	delivered := n.registry.SendMany(userIDs, payload)
	n.metrics.RecordDelivery("notifications", delivered)
	return delivered
}

func (n *NotificationService) pushToRoles(ctx context.Context, roles []domain.Role, frame realtime.NotificationFrame) (int, error) {
	var ids []string
	for _, role := range roles {
		users, err := n.users.ListByRole(ctx, role, true)
		if err != nil {
			return 0, apperrors.MapError(err)
		}
		for _, user := range users {
			ids = append(ids, user.ID)
		}
	}
	return n.NotifyUsers(ids, frame), nil
}

func (n *NotificationService) handleTicketCreated(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.TicketCreatedPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", event.Payload, event.Type)
	}
	frame := realtime.NotificationFrame{
		Type:     NotificationNewTicket,
		Title:    "New ticket",
		Message:  fmt.Sprintf("Ticket %s (%s) is waiting for a counselor", payload.TicketNumber, payload.Category),
		TicketID: event.TicketID,
		Data:     map[string]any{"crisis_level": payload.CrisisLevel, "priority": payload.Priority},
	}
	if payload.CrisisLevel.IsUrgent() {
		frame.Type = NotificationUrgentTicket
		frame.Title = "Urgent ticket"
	}
	_, err := n.pushToRoles(ctx, domain.CounselorRoles, frame)
	return err
}

func (n *NotificationService) handleTicketAssigned(_ context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.TicketAssignedPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", event.Payload, event.Type)
	}
	n.NotifyUsers([]string{payload.RequesterID}, realtime.NotificationFrame{
		Type:     NotificationTicketAssigned,
		Title:    "Counselor assigned",
		Message:  fmt.Sprintf("A counselor is now handling ticket %s", payload.TicketNumber),
		TicketID: event.TicketID,
		Data:     map[string]any{"counselor_id": payload.CounselorID},
	})
	if !payload.SelfClaimed {
		n.NotifyUsers([]string{payload.CounselorID}, realtime.NotificationFrame{
			Type:     NotificationTicketAssigned,
			Title:    "Ticket assigned to you",
			Message:  fmt.Sprintf("Ticket %s was assigned to you", payload.TicketNumber),
			TicketID: event.TicketID,
		})
	}
	return nil
}

func (n *NotificationService) handleTicketStatusChanged(_ context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.TicketStatusChangedPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", event.Payload, event.Type)
	}
	n.NotifyUsers(others(event.Actor.UserID, payload.RequesterID, payload.CounselorID), realtime.NotificationFrame{
		Type:     NotificationTicketStatus,
		Title:    "Ticket updated",
		Message:  fmt.Sprintf("Ticket %s moved from %s to %s", payload.TicketNumber, payload.OldStatus, payload.NewStatus),
		TicketID: event.TicketID,
		Data:     map[string]any{"old_status": payload.OldStatus, "new_status": payload.NewStatus},
	})
	return nil
}

func (n *NotificationService) handleTicketCrisisChanged(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.TicketCrisisChangedPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", event.Payload, event.Type)
	}
	if !payload.NewLevel.IsUrgent() {
		return nil
	}
	frame := realtime.NotificationFrame{
		Type:     NotificationCrisisEscalated,
		Title:    "Crisis escalated",
		Message:  fmt.Sprintf("Ticket %s escalated to %s", payload.TicketNumber, payload.NewLevel),
		TicketID: event.TicketID,
		Data:     map[string]any{"old_level": payload.OldLevel, "new_level": payload.NewLevel},
	}
	if payload.CounselorID != nil {
		n.NotifyUsers(others(event.Actor.UserID, *payload.CounselorID, nil), frame)
		return nil
	}
	_, err := n.pushToRoles(ctx, domain.CounselorRoles, frame)
	return err
}

func (n *NotificationService) handleChatMessageSent(_ context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.ChatMessageSentPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", event.Payload, event.Type)
	}
	var targets []string
	for _, id := range payload.Recipients {
		if id != payload.SenderID {
			targets = append(targets, id)
		}
	}
	n.NotifyUsers(targets, realtime.NotificationFrame{
		Type:     NotificationNewMessage,
		Title:    "New message",
		Message:  payload.BodyPreview,
		TicketID: event.TicketID,
		Data:     map[string]any{"message_id": payload.MessageID, "sender_id": payload.SenderID},
	})
	return nil
}

func (n *NotificationService) handleScheduleBooked(_ context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.ScheduleBookedPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", event.Payload, event.Type)
	}
	n.NotifyUsers(others(event.Actor.UserID, payload.CounselorID, &payload.StudentID), realtime.NotificationFrame{
		Type:     NotificationSchedule,
		Title:    "Session booked",
		Message:  fmt.Sprintf("Session booked for %s", payload.ScheduledAt.Format(time.RFC3339)),
		TicketID: event.TicketID,
		Data:     map[string]any{"schedule_id": payload.ScheduleID, "status": domain.ScheduleStatusScheduled},
	})
	return nil
}

func (n *NotificationService) handleScheduleStatusChanged(_ context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.ScheduleStatusChangedPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", event.Payload, event.Type)
	}
	n.NotifyUsers(others(event.Actor.UserID, payload.CounselorID, &payload.StudentID), realtime.NotificationFrame{
		Type:     NotificationSchedule,
		Title:    "Session " + string(payload.NewStatus),
		Message:  fmt.Sprintf("Session on %s is now %s", payload.ScheduledAt.Format(time.RFC3339), payload.NewStatus),
		TicketID: event.TicketID,
		Data:     map[string]any{"schedule_id": payload.ScheduleID, "status": payload.NewStatus},
	})
	return nil
}

// others returns the given parties minus the actor who caused the event.
func others(actorID, first string, second *string) []string {
	var ids []string
	if first != "" && first != actorID {
		ids = append(ids, first)
	}
	if second != nil && *second != "" && *second != actorID && *second != first {
		ids = append(ids, *second)
	}
	return ids
}
