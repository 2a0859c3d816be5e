package domain

import "time"

// ScheduleStatus enumerates booking states.
type ScheduleStatus string

const (
	ScheduleStatusScheduled ScheduleStatus = "scheduled"
	ScheduleStatusConfirmed ScheduleStatus = "confirmed"
	ScheduleStatusCancelled ScheduleStatus = "cancelled"
	ScheduleStatusCompleted ScheduleStatus = "completed"
)

var scheduleTransitions = map[ScheduleStatus][]ScheduleStatus{
	ScheduleStatusScheduled: {ScheduleStatusConfirmed, ScheduleStatusCancelled, ScheduleStatusCompleted},
	ScheduleStatusConfirmed: {ScheduleStatusCancelled, ScheduleStatusCompleted},
	ScheduleStatusCancelled: {},
	ScheduleStatusCompleted: {},
}

// CanTransitionTo reports whether next is reachable from s.
func (s ScheduleStatus) CanTransitionTo(next ScheduleStatus) bool {
	for _, candidate := range scheduleTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// IsActive is true for bookings that can still change state.
func (s ScheduleStatus) IsActive() bool {
	return s == ScheduleStatusScheduled || s == ScheduleStatusConfirmed
}

// DefaultMeetingType is used when a booking does not name one.
const DefaultMeetingType = "in-person"

// Schedule is a booked session between a student and a counselor.
type Schedule struct {
	ID              string
	StudentID       string
	CounselorID     string
	TicketID        *string
	ScheduledAt     time.Time
	DurationMinutes int
	MeetingType     string
	MeetingLink     *string
	Notes           *string
	Status          ScheduleStatus
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// HoldsSlot is true while the booking still occupies the counselor's time.
func (s *Schedule) HoldsSlot() bool {
	return s.Status != ScheduleStatusCancelled
}

// EndsAt returns the end of the booked interval.
func (s *Schedule) EndsAt() time.Time {
	return s.ScheduledAt.Add(time.Duration(s.DurationMinutes) * time.Minute)
}

// Overlaps reports whether [start, start+d) intersects the booking.
func (s *Schedule) Overlaps(start time.Time, d time.Duration) bool {
	return start.Before(s.EndsAt()) && s.ScheduledAt.Before(start.Add(d))
}

// InvolvesUser reports whether userID is the student or counselor of the booking.
func (s *Schedule) InvolvesUser(userID string) bool {
	return s.StudentID == userID || s.CounselorID == userID
}
