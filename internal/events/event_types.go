package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/campus-care/counseling-service/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketCreated         EventType = "ticket_created"
	EventTicketAssigned        EventType = "ticket_assigned"
	EventTicketStatusChanged   EventType = "ticket_status_changed"
	EventTicketCrisisChanged   EventType = "ticket_crisis_changed"
	EventChatMessageSent       EventType = "chat_message_sent"
	EventScheduleBooked        EventType = "schedule_booked"
	EventScheduleStatusChanged EventType = "schedule_status_changed"
)

// AllEventTypes lists every type the services publish.
var AllEventTypes = []EventType{
	EventTicketCreated,
	EventTicketAssigned,
	EventTicketStatusChanged,
	EventTicketCrisisChanged,
	EventChatMessageSent,
	EventScheduleBooked,
	EventScheduleStatusChanged,
}

// Actor encapsulates actor metadata for an event.
type Actor struct {
	UserID string      `json:"user_id"`
	Role   domain.Role `json:"role"`
}

// ActorFrom converts a domain actor.
func ActorFrom(a domain.Actor) Actor {
	return Actor{UserID: a.UserID, Role: a.Role}
}

// Event represents a domain event emitted by services.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	TicketID  string    `json:"ticket_id,omitempty"`
	Actor     Actor     `json:"actor"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// New stamps an event with an id and the current time.
func New(eventType EventType, ticketID string, actor domain.Actor, payload any) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		TicketID:  ticketID,
		Actor:     ActorFrom(actor),
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// TicketCreatedPayload payload.
type TicketCreatedPayload struct {
	TicketNumber string             `json:"ticket_number"`
	RequesterID  string             `json:"requester_id"`
	Category     string             `json:"category"`
	CrisisLevel  domain.CrisisLevel `json:"crisis_level"`
	Priority     int                `json:"priority"`
}

// TicketAssignedPayload payload.
type TicketAssignedPayload struct {
	TicketNumber string  `json:"ticket_number"`
	RequesterID  string  `json:"requester_id"`
	OldCounselor *string `json:"old_counselor_id,omitempty"`
	CounselorID  string  `json:"counselor_id"`
	SelfClaimed  bool    `json:"self_claimed"`
}

// TicketStatusChangedPayload payload.
type TicketStatusChangedPayload struct {
	TicketNumber string              `json:"ticket_number"`
	RequesterID  string              `json:"requester_id"`
	CounselorID  *string             `json:"counselor_id,omitempty"`
	OldStatus    domain.TicketStatus `json:"old_status"`
	NewStatus    domain.TicketStatus `json:"new_status"`
}

// TicketCrisisChangedPayload payload.
type TicketCrisisChangedPayload struct {
	TicketNumber string             `json:"ticket_number"`
	RequesterID  string             `json:"requester_id"`
	CounselorID  *string            `json:"counselor_id,omitempty"`
	OldLevel     domain.CrisisLevel `json:"old_level"`
	NewLevel     domain.CrisisLevel `json:"new_level"`
}

// ChatMessageSentPayload payload.
type ChatMessageSentPayload struct {
	MessageID   string   `json:"message_id"`
	SenderID    string   `json:"sender_id"`
	Recipients  []string `json:"recipients"`
	Delivered   int      `json:"delivered"`
	BodyPreview string   `json:"body_preview"`
}

// ScheduleBookedPayload payload.
type ScheduleBookedPayload struct {
	ScheduleID      string    `json:"schedule_id"`
	StudentID       string    `json:"student_id"`
	CounselorID     string    `json:"counselor_id"`
	ScheduledAt     time.Time `json:"scheduled_at"`
	DurationMinutes int       `json:"duration_minutes"`
}

// ScheduleStatusChangedPayload payload.
type ScheduleStatusChangedPayload struct {
	ScheduleID  string                `json:"schedule_id"`
	StudentID   string                `json:"student_id"`
	CounselorID string                `json:"counselor_id"`
	ScheduledAt time.Time             `json:"scheduled_at"`
	OldStatus   domain.ScheduleStatus `json:"old_status"`
	NewStatus   domain.ScheduleStatus `json:"new_status"`
}
