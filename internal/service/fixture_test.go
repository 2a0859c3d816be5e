package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/campus-care/counseling-service/internal/domain"
	"github.com/campus-care/counseling-service/internal/events"
	"github.com/campus-care/counseling-service/internal/lock"
	"github.com/campus-care/counseling-service/internal/observability"
	"github.com/campus-care/counseling-service/internal/realtime"
	"github.com/campus-care/counseling-service/internal/repository"
)

var (
	student1   = domain.Actor{UserID: "student-1", Role: domain.RoleStudent}
	student2   = domain.Actor{UserID: "student-2", Role: domain.RoleStudent}
	counselor1 = domain.Actor{UserID: "counselor-1", Role: domain.RoleCounselor}
	counselor2 = domain.Actor{UserID: "counselor-2", Role: domain.RoleCounselor}
	peer1      = domain.Actor{UserID: "peer-1", Role: domain.RolePeerCounselor}
	admin1     = domain.Actor{UserID: "admin-1", Role: domain.RoleAdmin}
)

const inactiveCounselorID = "counselor-retired"

type fixture struct {
	store         *repository.MemoryStore
	dispatcher    events.Dispatcher
	chatRegistry  *realtime.Registry
	notifyReg     *realtime.Registry
	tickets       *TicketService
	schedules     *ScheduleService
	chat          *ChatService
	notifications *NotificationService
}

type fixtureOption func(*TicketDependencies, *ScheduleDependencies)

func withConflictMode(mode string) fixtureOption {
	return func(_ *TicketDependencies, s *ScheduleDependencies) { s.ConflictMode = mode }
}

func withNumberSource(fn func(time.Time) string) fixtureOption {
	return func(t *TicketDependencies, _ *ScheduleDependencies) { t.NumberSource = fn }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	store := repository.NewMemoryStore()
	seed := []domain.User{
		{ID: student1.UserID, Username: "sam", FullName: "Sam Student", Role: domain.RoleStudent, IsActive: true},
		{ID: student2.UserID, Username: "sky", Role: domain.RoleStudent, IsActive: true},
		{ID: counselor1.UserID, Username: "casey", FullName: "Casey Counselor", Role: domain.RoleCounselor, IsActive: true},
		{ID: counselor2.UserID, Username: "cory", Role: domain.RoleCounselor, IsActive: true},
		{ID: peer1.UserID, Username: "pat", Role: domain.RolePeerCounselor, IsActive: true},
		{ID: admin1.UserID, Username: "ari", Role: domain.RoleAdmin, IsActive: true},
		{ID: inactiveCounselorID, Username: "old", Role: domain.RoleCounselor, IsActive: false},
	}
	for _, user := range seed {
		store.PutUser(user)
	}

	logger := zap.NewNop()
	dispatcher := events.NewInMemoryDispatcher(logger)
	locker := lock.NewKeyedMutex()
	metrics := observability.NewMetrics()
	chatRegistry := realtime.NewRegistry(realtime.Options{Name: "chat", WriteTimeout: time.Second})
	notifyReg := realtime.NewRegistry(realtime.Options{Name: "notifications", WriteTimeout: time.Second})
	t.Cleanup(chatRegistry.Close)
	t.Cleanup(notifyReg.Close)

	ticketDeps := TicketDependencies{
		TicketRepo:  store.Tickets(),
		UserRepo:    store.Users(),
		HistoryRepo: store.History(),
		Locker:      locker,
		Dispatcher:  dispatcher,
		Logger:      logger,
	}
	scheduleDeps := ScheduleDependencies{
		ScheduleRepo: store.Schedules(),
		TicketRepo:   store.Tickets(),
		UserRepo:     store.Users(),
		Locker:       locker,
		Dispatcher:   dispatcher,
		Logger:       logger,
	}
	for _, opt := range opts {
		opt(&ticketDeps, &scheduleDeps)
	}

	notifications := NewNotificationService(NotificationDependencies{
		Dispatcher: dispatcher,
		Registry:   notifyReg,
		UserRepo:   store.Users(),
		Metrics:    metrics,
		Logger:     logger,
	})
	notifications.RegisterHandlers()

	return &fixture{
		store:        store,
		dispatcher:   dispatcher,
		chatRegistry: chatRegistry,
		notifyReg:    notifyReg,
		tickets:      NewTicketService(ticketDeps),
		schedules:    NewScheduleService(scheduleDeps),
		chat: NewChatService(ChatDependencies{
			TicketRepo:  store.Tickets(),
			MessageRepo: store.Messages(),
			UserRepo:    store.Users(),
			Registry:    chatRegistry,
			Dispatcher:  dispatcher,
			Metrics:     metrics,
			Logger:      logger,
		}),
		notifications: notifications,
	}
}

func (f *fixture) newTicket(t *testing.T, requester domain.Actor) *domain.Ticket {
	t.Helper()
	ticket, err := f.tickets.CreateTicket(context.Background(), requester, TicketCreateInput{
		Category:       "anxiety",
		InitialMessage: "I can't sleep before exams",
		CrisisLevel:    domain.CrisisLevelLow,
	})
	if err != nil {
		t.Fatalf("create ticket: %v", err)
	}
	return ticket
}

func (f *fixture) reload(t *testing.T, ticketID string) *domain.Ticket {
	t.Helper()
	ticket, err := f.store.Tickets().GetByID(context.Background(), ticketID)
	if err != nil {
		t.Fatalf("reload ticket: %v", err)
	}
	return ticket
}

// assertStamps checks the timestamp invariants of a stored ticket.
func assertStamps(t *testing.T, ticket *domain.Ticket) {
	t.Helper()
	if (ticket.CounselorID == nil) != (ticket.AssignedAt == nil) {
		t.Fatalf("assigned_at/counselor mismatch: counselor=%v assigned_at=%v", ticket.CounselorID, ticket.AssignedAt)
	}
	if ticket.Status.StampsClosedAt() != (ticket.ClosedAt != nil) {
		t.Fatalf("closed_at/status mismatch: status=%s closed_at=%v", ticket.Status, ticket.ClosedAt)
	}
}

// captureConn records every frame written to it.
type captureConn struct {
	mu     sync.Mutex
	frames [][]byte
}

func (c *captureConn) WriteMessage(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, append([]byte(nil), payload...))
	return nil
}

func (c *captureConn) Close() error { return nil }

func (c *captureConn) chatFrames(t *testing.T) []realtime.ChatFrame {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]realtime.ChatFrame, 0, len(c.frames))
	for _, raw := range c.frames {
		var frame realtime.ChatFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			t.Fatalf("decode chat frame: %v", err)
		}
		out = append(out, frame)
	}
	return out
}

func (c *captureConn) notificationTypes(t *testing.T) []string {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.frames))
	for _, raw := range c.frames {
		var frame realtime.NotificationFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			t.Fatalf("decode notification frame: %v", err)
		}
		out = append(out, frame.Type)
	}
	return out
}

func connect(t *testing.T, reg *realtime.Registry, identity string) *captureConn {
	t.Helper()
	conn := &captureConn{}
	if _, err := reg.Register(identity, conn); err != nil {
		t.Fatalf("register %s: %v", identity, err)
	}
	return conn
}

// spyBroadcaster records SendMany calls without a registry.
type spyBroadcaster struct {
	mu    sync.Mutex
	calls [][]string
}

func (s *spyBroadcaster) SendMany(identities []string, _ []byte) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, append([]string(nil), identities...))
	return len(identities)
}

func (s *spyBroadcaster) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}
