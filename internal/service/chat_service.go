package service

import (
	"context"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/campus-care/counseling-service/internal/domain"
	"github.com/campus-care/counseling-service/internal/events"
	"github.com/campus-care/counseling-service/internal/lock"
	"github.com/campus-care/counseling-service/internal/observability"
	"github.com/campus-care/counseling-service/internal/realtime"
	"github.com/campus-care/counseling-service/internal/repository"
	apperrors "github.com/campus-care/counseling-service/pkg/util/errorutil"
)

const maxChatMessageLength = 4000

// Broadcaster pushes a payload to every live connection of the identities.
type Broadcaster interface {
	SendMany(identities []string, payload []byte) int
}

// ChatService persists ticket chat messages and fans them out to the
// ticket's requester and current counselor.
type ChatService struct {
	tickets    repository.TicketRepository
	messages   repository.ChatMessageRepository
	users      repository.UserRepository
	registry   Broadcaster
	locker     lock.Locker
	dispatcher events.Dispatcher
	metrics    *observability.Metrics
	logger     *zap.Logger
}

// ChatDependencies bundles collaborators for the chat service.
type ChatDependencies struct {
	TicketRepo  repository.TicketRepository
	MessageRepo repository.ChatMessageRepository
	UserRepo    repository.UserRepository
	Registry    Broadcaster
	// Locker orders sends per ticket. It must be process-local because the
	// live connections it orders are.
	Locker     lock.Locker
	Dispatcher events.Dispatcher
	Metrics    *observability.Metrics
	Logger     *zap.Logger
}

// NewChatService constructs the service.
func NewChatService(deps ChatDependencies) *ChatService {
	svc := &ChatService{
		tickets:    deps.TicketRepo,
		messages:   deps.MessageRepo,
		users:      deps.UserRepo,
		registry:   deps.Registry,
		locker:     deps.Locker,
		dispatcher: deps.Dispatcher,
		metrics:    deps.Metrics,
		logger:     deps.Logger,
	}
	if svc.locker == nil {
		svc.locker = lock.NewKeyedMutex()
	}
	if svc.logger == nil {
		svc.logger = zap.NewNop()
	}
	return svc
}

// SendMessage authorizes sender against the ticket's current binding,
// persists the message and delivers it live. Sends on one ticket are
// serialized so every recipient sees them in stored order. Delivery
// failures never fail the call.
func (s *ChatService) SendMessage(ctx context.Context, sender domain.Actor, ticketID, text string) (*domain.ChatMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, apperrors.NewValidationError("message must not be empty", nil)
	}
	if utf8.RuneCountInString(text) > maxChatMessageLength {
		return nil, apperrors.NewValidationError("message too long", map[string]any{"max_length": maxChatMessageLength})
	}

	unlock, err := acquire(ctx, s.locker, chatLockKey(ticketID))
	if err != nil {
		return nil, err
	}
	msg, recipients, delivered, err := s.sendLocked(ctx, sender, ticketID, text)
	unlock()
	if err != nil {
		return nil, err
	}

	publishEvent(ctx, s.dispatcher, s.logger, events.New(events.EventChatMessageSent, ticketID, sender,
		events.ChatMessageSentPayload{
			MessageID:   msg.ID,
			SenderID:    msg.SenderID,
			Recipients:  recipients,
			Delivered:   delivered,
			BodyPreview: stringPreview(msg.Message, 80),
		}))
	return msg, nil
}

func (s *ChatService) sendLocked(ctx context.Context, sender domain.Actor, ticketID, text string) (*domain.ChatMessage, []string, int, error) {
	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, nil, 0, apperrors.MapError(err)
	}
	if !ticket.AllowsChatFrom(sender) {
		s.logger.Debug("chat sender rejected", zap.String("ticket_id", ticketID), zap.String("sender_id", sender.UserID))
		return nil, nil, 0, apperrors.NewForbidden("not a participant of this ticket")
	}

	msg := &domain.ChatMessage{
		TicketID: ticket.ID,
		SenderID: sender.UserID,
		Message:  text,
	}
	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, nil, 0, apperrors.MapError(err)
	}

	recipients := ticket.Participants()
	delivered := s.deliver(ctx, sender, msg, recipients)
	return msg, recipients, delivered, nil
}

func (s *ChatService) deliver(ctx context.Context, sender domain.Actor, msg *domain.ChatMessage, recipients []string) int {
	if s.registry == nil {
		return 0
	}
	payload, err := realtime.Encode(realtime.ChatFrame{
		ID:        msg.ID,
		TicketID:  msg.TicketID,
		SenderID:  msg.SenderID,
		Message:   msg.Message,
		CreatedAt: msg.CreatedAt,
		Sender:    s.describe(ctx, sender),
	})
	if err != nil {
		s.logger.Error("encode chat frame", zap.String("message_id", msg.ID), zap.Error(err))
		return 0
	}
	delivered := s.registry.SendMany(recipients, payload)
	s.metrics.RecordDelivery("chat", delivered)
	return delivered
}

func (s *ChatService) describe(ctx context.Context, actor domain.Actor) realtime.FrameSender {
	sender := realtime.FrameSender{ID: actor.UserID, Name: actor.UserID, Role: string(actor.Role)}
	if s.users == nil {
		return sender
	}
	user, err := s.users.GetByID(ctx, actor.UserID)
	if err != nil {
		s.logger.Debug("sender lookup failed", zap.String("user_id", actor.UserID), zap.Error(err))
		return sender
	}
	switch {
	case user.FullName != "":
		sender.Name = user.FullName
	case user.Username != "":
		sender.Name = user.Username
	}
	return sender
}

// History returns stored messages in creation order, for clients that
// reconnect and need to catch up.
func (s *ChatService) History(ctx context.Context, actor domain.Actor, ticketID string, limit, offset int) ([]domain.ChatMessage, error) {
	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	if !ticket.AllowsChatFrom(actor) {
		return nil, apperrors.NewForbidden("not a participant of this ticket")
	}
	msgs, err := s.messages.ListByTicket(ctx, ticket.ID, limit, offset)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return msgs, nil
}

// Authorize checks that actor may join the ticket's chat channel.
func (s *ChatService) Authorize(ctx context.Context, actor domain.Actor, ticketID string) (*domain.Ticket, error) {
	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	if !ticket.AllowsChatFrom(actor) {
		return nil, apperrors.NewForbidden("not a participant of this ticket")
	}
	return ticket, nil
}
