package repository

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/campus-care/counseling-service/internal/domain"
	apperrors "github.com/campus-care/counseling-service/pkg/util/errorutil"
)

// MemoryStore keeps every aggregate in process memory behind one mutex. It
// mirrors the Postgres constraints (unique ticket numbers, one live booking
// per counselor instant) and is used when no DSN is configured and in tests.
// Records are copied on the way in and out so callers never share state.
type MemoryStore struct {
	mu        sync.RWMutex
	now       func() time.Time
	users     map[string]domain.User
	tickets   map[string]domain.Ticket
	numbers   map[string]string
	messages  map[string][]domain.ChatMessage
	schedules map[string]domain.Schedule
	history   map[string][]domain.TicketHistory
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:       func() time.Time { return time.Now().UTC() },
		users:     make(map[string]domain.User),
		tickets:   make(map[string]domain.Ticket),
		numbers:   make(map[string]string),
		messages:  make(map[string][]domain.ChatMessage),
		schedules: make(map[string]domain.Schedule),
		history:   make(map[string][]domain.TicketHistory),
	}
}

// PutUser inserts or replaces a user. Users are owned by the identity
// system; this is how deployments without Postgres and tests seed them.
func (s *MemoryStore) PutUser(user domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = s.now()
	}
	user.UpdatedAt = s.now()
	s.users[user.ID] = user
}

// Users exposes the store as a UserRepository.
func (s *MemoryStore) Users() UserRepository { return memoryUsers{s} }

// Tickets exposes the store as a TicketRepository.
func (s *MemoryStore) Tickets() TicketRepository { return memoryTickets{s} }

// Messages exposes the store as a ChatMessageRepository.
func (s *MemoryStore) Messages() ChatMessageRepository { return memoryMessages{s} }

// Schedules exposes the store as a ScheduleRepository.
func (s *MemoryStore) Schedules() ScheduleRepository { return memorySchedules{s} }

// History exposes the store as a TicketHistoryRepository.
func (s *MemoryStore) History() TicketHistoryRepository { return memoryHistory{s} }

type memoryUsers struct{ s *MemoryStore }

func (m memoryUsers) GetByID(_ context.Context, id string) (*domain.User, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	user, ok := m.s.users[id]
	if !ok {
		return nil, apperrors.NewNotFound("user", map[string]any{"id": id})
	}
	return &user, nil
}

func (m memoryUsers) ListByRole(_ context.Context, role domain.Role, activeOnly bool) ([]domain.User, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	var result []domain.User
	for _, user := range m.s.users {
		if user.Role != role || (activeOnly && !user.IsActive) {
			continue
		}
		result = append(result, user)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

type memoryTickets struct{ s *MemoryStore }

func (m memoryTickets) Create(_ context.Context, ticket *domain.Ticket) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if _, taken := m.s.numbers[ticket.TicketNumber]; taken {
		return ErrDuplicate
	}
	now := m.s.now()
	ticket.ID = uuid.NewString()
	ticket.CreatedAt = now
	ticket.UpdatedAt = now
	m.s.tickets[ticket.ID] = cloneTicket(*ticket)
	m.s.numbers[ticket.TicketNumber] = ticket.ID
	return nil
}

func (m memoryTickets) Update(_ context.Context, ticket *domain.Ticket) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	stored, ok := m.s.tickets[ticket.ID]
	if !ok {
		return apperrors.NewNotFound("ticket", map[string]any{"id": ticket.ID})
	}
	stored.CounselorID = cloneString(ticket.CounselorID)
	stored.Status = ticket.Status
	stored.CrisisLevel = ticket.CrisisLevel
	stored.Priority = ticket.Priority
	stored.AssignedAt = cloneTime(ticket.AssignedAt)
	stored.ClosedAt = cloneTime(ticket.ClosedAt)
	stored.UpdatedAt = m.s.now()
	m.s.tickets[ticket.ID] = stored
	ticket.UpdatedAt = stored.UpdatedAt
	return nil
}

func (m memoryTickets) GetByID(_ context.Context, id string) (*domain.Ticket, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	ticket, ok := m.s.tickets[id]
	if !ok {
		return nil, apperrors.NewNotFound("ticket", map[string]any{"id": id})
	}
	clone := cloneTicket(ticket)
	return &clone, nil
}

func (m memoryTickets) ExistsByNumber(_ context.Context, number string) (bool, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	_, ok := m.s.numbers[number]
	return ok, nil
}

func (m memoryTickets) List(_ context.Context, filter TicketFilter) ([]domain.Ticket, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()

	var result []domain.Ticket
	for _, ticket := range m.s.tickets {
		if filter.RequesterID != nil && ticket.RequesterID != *filter.RequesterID {
			continue
		}
		if filter.CounselorID != nil && !ticket.IsAssignedTo(*filter.CounselorID) {
			continue
		}
		if filter.UnassignedOr != nil && ticket.CounselorID != nil && !ticket.IsAssignedTo(*filter.UnassignedOr) {
			continue
		}
		if len(filter.Statuses) > 0 && !containsStatus(filter.Statuses, ticket.Status) {
			continue
		}
		result = append(result, cloneTicket(ticket))
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].TicketNumber > result[j].TicketNumber
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	limit, offset := clampPage(filter.Limit, filter.Offset)
	return page(result, limit, offset), nil
}

type memoryMessages struct{ s *MemoryStore }

func (m memoryMessages) Create(_ context.Context, msg *domain.ChatMessage) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if _, ok := m.s.tickets[msg.TicketID]; !ok {
		return apperrors.NewNotFound("ticket", map[string]any{"id": msg.TicketID})
	}
	msg.ID = uuid.NewString()
	msg.CreatedAt = m.s.now()
	m.s.messages[msg.TicketID] = append(m.s.messages[msg.TicketID], *msg)
	return nil
}

func (m memoryMessages) ListByTicket(_ context.Context, ticketID string, limit, offset int) ([]domain.ChatMessage, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	limit, offset = clampPage(limit, offset)
	return page(append([]domain.ChatMessage(nil), m.s.messages[ticketID]...), limit, offset), nil
}

type memorySchedules struct{ s *MemoryStore }

func (m memorySchedules) Create(_ context.Context, schedule *domain.Schedule) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	at := schedule.ScheduledAt.UTC()
	for _, existing := range m.s.schedules {
		if existing.CounselorID == schedule.CounselorID && existing.HoldsSlot() && existing.ScheduledAt.Equal(at) {
			return ErrDuplicate
		}
	}
	now := m.s.now()
	schedule.ID = uuid.NewString()
	schedule.ScheduledAt = at
	schedule.CreatedAt = now
	schedule.UpdatedAt = now
	m.s.schedules[schedule.ID] = cloneSchedule(*schedule)
	return nil
}

func (m memorySchedules) Update(_ context.Context, schedule *domain.Schedule) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	stored, ok := m.s.schedules[schedule.ID]
	if !ok {
		return apperrors.NewNotFound("schedule", map[string]any{"id": schedule.ID})
	}
	stored.Status = schedule.Status
	stored.MeetingLink = cloneString(schedule.MeetingLink)
	stored.Notes = cloneString(schedule.Notes)
	stored.UpdatedAt = m.s.now()
	m.s.schedules[schedule.ID] = stored
	schedule.UpdatedAt = stored.UpdatedAt
	return nil
}

func (m memorySchedules) GetByID(_ context.Context, id string) (*domain.Schedule, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	schedule, ok := m.s.schedules[id]
	if !ok {
		return nil, apperrors.NewNotFound("schedule", map[string]any{"id": id})
	}
	clone := cloneSchedule(schedule)
	return &clone, nil
}

func (m memorySchedules) ListByCounselor(_ context.Context, counselorID string, from, to time.Time) ([]domain.Schedule, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	var result []domain.Schedule
	for _, schedule := range m.s.schedules {
		if schedule.CounselorID != counselorID || !schedule.HoldsSlot() {
			continue
		}
		if schedule.ScheduledAt.Before(from) || schedule.ScheduledAt.After(to) {
			continue
		}
		result = append(result, cloneSchedule(schedule))
	}
	sortSchedules(result, false)
	return result, nil
}

func (m memorySchedules) List(_ context.Context, filter ScheduleFilter) ([]domain.Schedule, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	var result []domain.Schedule
	for _, schedule := range m.s.schedules {
		if filter.StudentID != nil && schedule.StudentID != *filter.StudentID {
			continue
		}
		if filter.CounselorID != nil && schedule.CounselorID != *filter.CounselorID {
			continue
		}
		if filter.From != nil && schedule.ScheduledAt.Before(*filter.From) {
			continue
		}
		if filter.ActiveOnly && !schedule.Status.IsActive() {
			continue
		}
		result = append(result, cloneSchedule(schedule))
	}
	sortSchedules(result, filter.Descending)
	return result, nil
}

type memoryHistory struct{ s *MemoryStore }

func (m memoryHistory) Create(_ context.Context, history *domain.TicketHistory) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	history.ID = uuid.NewString()
	history.CreatedAt = m.s.now()
	entry := *history
	entry.ChangedByID = cloneString(history.ChangedByID)
	entry.OldValue = maps.Clone(history.OldValue)
	entry.NewValue = maps.Clone(history.NewValue)
	m.s.history[history.TicketID] = append(m.s.history[history.TicketID], entry)
	return nil
}

func (m memoryHistory) ListByTicket(_ context.Context, ticketID string, limit, offset int) ([]domain.TicketHistory, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	entries := m.s.history[ticketID]
	result := make([]domain.TicketHistory, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		result = append(result, entries[i])
	}
	limit, offset = clampPage(limit, offset)
	return page(result, limit, offset), nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

func sortSchedules(items []domain.Schedule, descending bool) {
	sort.Slice(items, func(i, j int) bool {
		if descending {
			return items[i].ScheduledAt.After(items[j].ScheduledAt)
		}
		return items[i].ScheduledAt.Before(items[j].ScheduledAt)
	})
}

func containsStatus(statuses []domain.TicketStatus, status domain.TicketStatus) bool {
	for _, candidate := range statuses {
		if candidate == status {
			return true
		}
	}
	return false
}

func cloneTicket(t domain.Ticket) domain.Ticket {
	t.CounselorID = cloneString(t.CounselorID)
	t.AssignedAt = cloneTime(t.AssignedAt)
	t.ClosedAt = cloneTime(t.ClosedAt)
	return t
}

func cloneSchedule(s domain.Schedule) domain.Schedule {
	s.TicketID = cloneString(s.TicketID)
	s.MeetingLink = cloneString(s.MeetingLink)
	s.Notes = cloneString(s.Notes)
	return s
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
