package dto

import (
	"time"

	"github.com/campus-care/counseling-service/internal/domain"
)

// CreateTicketRequest payload.
type CreateTicketRequest struct {
	Category       string `json:"category"`
	InitialMessage string `json:"initial_message"`
	CrisisLevel    string `json:"crisis_level"`
	Priority       int    `json:"priority"`
}

// UpdateTicketRequest is a partial update; omitted fields are unchanged.
type UpdateTicketRequest struct {
	Status      *string `json:"status"`
	CounselorID *string `json:"counselor_id"`
	CrisisLevel *string `json:"crisis_level"`
}

// TicketResponse renders a ticket.
type TicketResponse struct {
	ID             string              `json:"id"`
	TicketNumber   string              `json:"ticket_number"`
	RequesterID    string              `json:"requester_id"`
	CounselorID    *string             `json:"counselor_id"`
	Category       string              `json:"category"`
	InitialMessage string              `json:"initial_message"`
	Status         domain.TicketStatus `json:"status"`
	CrisisLevel    domain.CrisisLevel  `json:"crisis_level"`
	Priority       int                 `json:"priority"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
	AssignedAt     *time.Time          `json:"assigned_at"`
	ClosedAt       *time.Time          `json:"closed_at"`
}

// ChatMessageResponse represents a stored chat message.
type ChatMessageResponse struct {
	ID        string    `json:"id"`
	TicketID  string    `json:"ticket_id"`
	SenderID  string    `json:"sender_id"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// TicketHistoryResponse represents an audit entry.
type TicketHistoryResponse struct {
	ID          string                  `json:"id"`
	ChangeType  domain.TicketChangeType `json:"change_type"`
	ChangedByID *string                 `json:"changed_by_id"`
	OldValue    map[string]any          `json:"old_value"`
	NewValue    map[string]any          `json:"new_value"`
	CreatedAt   time.Time               `json:"created_at"`
}

// NewTicketResponse maps the domain ticket.
func NewTicketResponse(ticket *domain.Ticket) TicketResponse {
	return TicketResponse{
		ID:             ticket.ID,
		TicketNumber:   ticket.TicketNumber,
		RequesterID:    ticket.RequesterID,
		CounselorID:    ticket.CounselorID,
		Category:       ticket.Category,
		InitialMessage: ticket.InitialMessage,
		Status:         ticket.Status,
		CrisisLevel:    ticket.CrisisLevel,
		Priority:       ticket.Priority,
		CreatedAt:      ticket.CreatedAt,
		UpdatedAt:      ticket.UpdatedAt,
		AssignedAt:     ticket.AssignedAt,
		ClosedAt:       ticket.ClosedAt,
	}
}

// NewTicketResponses maps a page of tickets.
func NewTicketResponses(tickets []domain.Ticket) []TicketResponse {
	items := make([]TicketResponse, 0, len(tickets))
	for i := range tickets {
		items = append(items, NewTicketResponse(&tickets[i]))
	}
	return items
}

// NewChatMessageResponses maps stored chat messages.
func NewChatMessageResponses(msgs []domain.ChatMessage) []ChatMessageResponse {
	items := make([]ChatMessageResponse, 0, len(msgs))
	for _, msg := range msgs {
		items = append(items, ChatMessageResponse{
			ID:        msg.ID,
			TicketID:  msg.TicketID,
			SenderID:  msg.SenderID,
			Message:   msg.Message,
			CreatedAt: msg.CreatedAt,
		})
	}
	return items
}

// NewTicketHistoryResponses maps audit entries.
func NewTicketHistoryResponses(entries []domain.TicketHistory) []TicketHistoryResponse {
	items := make([]TicketHistoryResponse, 0, len(entries))
	for _, entry := range entries {
		items = append(items, TicketHistoryResponse{
			ID:          entry.ID,
			ChangeType:  entry.ChangeType,
			ChangedByID: entry.ChangedByID,
			OldValue:    entry.OldValue,
			NewValue:    entry.NewValue,
			CreatedAt:   entry.CreatedAt,
		})
	}
	return items
}
