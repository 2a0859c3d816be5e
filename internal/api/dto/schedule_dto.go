package dto

import (
	"time"

	"github.com/campus-care/counseling-service/internal/domain"
)

// CreateScheduleRequest books a session. StudentID is only read for admins.
type CreateScheduleRequest struct {
	CounselorID     string    `json:"counselor_id"`
	StudentID       string    `json:"student_id"`
	TicketID        *string   `json:"ticket_id"`
	ScheduledAt     time.Time `json:"scheduled_at"`
	DurationMinutes int       `json:"duration_minutes"`
	MeetingType     string    `json:"meeting_type"`
	MeetingLink     *string   `json:"meeting_link"`
	Notes           *string   `json:"notes"`
}

// ScheduleResponse renders a booking.
type ScheduleResponse struct {
	ID              string                `json:"id"`
	StudentID       string                `json:"student_id"`
	CounselorID     string                `json:"counselor_id"`
	TicketID        *string               `json:"ticket_id"`
	ScheduledAt     time.Time             `json:"scheduled_at"`
	DurationMinutes int                   `json:"duration_minutes"`
	MeetingType     string                `json:"meeting_type"`
	MeetingLink     *string               `json:"meeting_link"`
	Notes           *string               `json:"notes"`
	Status          domain.ScheduleStatus `json:"status"`
	CreatedAt       time.Time             `json:"created_at"`
	UpdatedAt       time.Time             `json:"updated_at"`
}

// NewScheduleResponse maps the domain booking.
func NewScheduleResponse(s *domain.Schedule) ScheduleResponse {
	return ScheduleResponse{
		ID:              s.ID,
		StudentID:       s.StudentID,
		CounselorID:     s.CounselorID,
		TicketID:        s.TicketID,
		ScheduledAt:     s.ScheduledAt,
		DurationMinutes: s.DurationMinutes,
		MeetingType:     s.MeetingType,
		MeetingLink:     s.MeetingLink,
		Notes:           s.Notes,
		Status:          s.Status,
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
	}
}

// NewScheduleResponses maps a list of bookings.
func NewScheduleResponses(items []domain.Schedule) []ScheduleResponse {
	out := make([]ScheduleResponse, 0, len(items))
	for i := range items {
		out = append(out, NewScheduleResponse(&items[i]))
	}
	return out
}
