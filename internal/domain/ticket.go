package domain

import "time"

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusNew      TicketStatus = "new"
	TicketStatusAssigned TicketStatus = "assigned"
	TicketStatusActive   TicketStatus = "active"
	TicketStatusFollowUp TicketStatus = "follow_up"
	TicketStatusResolved TicketStatus = "resolved"
	TicketStatusClosed   TicketStatus = "closed"
)

// ticketTransitions lists the forward moves of the lifecycle. Manual closure
// from any non-closed state is handled in CanTransitionTo.
var ticketTransitions = map[TicketStatus][]TicketStatus{
	TicketStatusNew:      {TicketStatusAssigned},
	TicketStatusAssigned: {TicketStatusActive},
	TicketStatusActive:   {TicketStatusFollowUp},
	TicketStatusFollowUp: {TicketStatusResolved},
	TicketStatusResolved: {TicketStatusClosed},
	TicketStatusClosed:   {},
}

// ParseTicketStatus validates a raw status value.
func ParseTicketStatus(raw string) (TicketStatus, bool) {
	status := TicketStatus(raw)
	_, ok := ticketTransitions[status]
	return status, ok
}

// CanTransitionTo reports whether next is reachable from s in one step.
func (s TicketStatus) CanTransitionTo(next TicketStatus) bool {
	if s == TicketStatusClosed {
		return false
	}
	if next == TicketStatusClosed {
		return true
	}
	for _, candidate := range ticketTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// IsFinal is true once nothing can move the ticket anymore.
func (s TicketStatus) IsFinal() bool {
	return s == TicketStatusClosed
}

// StampsClosedAt reports whether tickets in this status carry closed_at.
func (s TicketStatus) StampsClosedAt() bool {
	return s == TicketStatusResolved || s == TicketStatusClosed
}

// RequiresCounselor reports whether the status only makes sense with a bound counselor.
func (s TicketStatus) RequiresCounselor() bool {
	return s == TicketStatusAssigned || s == TicketStatusActive
}

// CrisisLevel is the severity signal attached to a ticket.
type CrisisLevel string

const (
	CrisisLevelNone     CrisisLevel = "none"
	CrisisLevelLow      CrisisLevel = "low"
	CrisisLevelMedium   CrisisLevel = "medium"
	CrisisLevelHigh     CrisisLevel = "high"
	CrisisLevelCritical CrisisLevel = "critical"
)

var crisisRank = map[CrisisLevel]int{
	CrisisLevelNone:     0,
	CrisisLevelLow:      1,
	CrisisLevelMedium:   2,
	CrisisLevelHigh:     3,
	CrisisLevelCritical: 4,
}

// ParseCrisisLevel validates a raw crisis level value.
func ParseCrisisLevel(raw string) (CrisisLevel, bool) {
	level := CrisisLevel(raw)
	_, ok := crisisRank[level]
	return level, ok
}

// IsUrgent is true for levels that page counselors immediately.
func (c CrisisLevel) IsUrgent() bool {
	return crisisRank[c] >= crisisRank[CrisisLevelHigh]
}

// Ticket is the aggregate for a student's help request.
type Ticket struct {
	ID             string
	TicketNumber   string
	RequesterID    string
	CounselorID    *string
	Category       string
	InitialMessage string
	Status         TicketStatus
	CrisisLevel    CrisisLevel
	Priority       int
	CreatedAt      time.Time
	UpdatedAt      time.Time
	AssignedAt     *time.Time
	ClosedAt       *time.Time
}

// IsAssignedTo reports whether userID is the currently bound counselor.
func (t *Ticket) IsAssignedTo(userID string) bool {
	return t.CounselorID != nil && *t.CounselorID == userID
}

// Participants returns the requester and, if bound, the counselor.
func (t *Ticket) Participants() []string {
	ids := []string{t.RequesterID}
	if t.CounselorID != nil && *t.CounselorID != t.RequesterID {
		ids = append(ids, *t.CounselorID)
	}
	return ids
}

// AllowsChatFrom reports whether actor may read or post in the ticket's chat.
func (t *Ticket) AllowsChatFrom(actor Actor) bool {
	if actor.IsAdmin() {
		return true
	}
	return actor.UserID == t.RequesterID || t.IsAssignedTo(actor.UserID)
}

// VisibleTo reports whether actor may read the ticket. Unassigned tickets
// are visible to every counselor so they can be claimed.
func (t *Ticket) VisibleTo(actor Actor) bool {
	switch {
	case actor.IsAdmin():
		return true
	case actor.Role.IsCounselor():
		return t.CounselorID == nil || t.IsAssignedTo(actor.UserID)
	default:
		return actor.UserID == t.RequesterID
	}
}
