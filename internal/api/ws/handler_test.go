package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	fastws "github.com/fasthttp/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/campus-care/counseling-service/internal/auth"
	"github.com/campus-care/counseling-service/internal/domain"
	"github.com/campus-care/counseling-service/internal/events"
	"github.com/campus-care/counseling-service/internal/realtime"
	"github.com/campus-care/counseling-service/internal/repository"
	"github.com/campus-care/counseling-service/internal/service"
)

type harness struct {
	addr     string
	tokens   *auth.TokenManager
	chatReg  *realtime.Registry
	notifReg *realtime.Registry
	ticket   *domain.Ticket
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithIdle(t, 5*time.Second)
}

func newHarnessWithIdle(t *testing.T, idle time.Duration) *harness {
	t.Helper()
	store := repository.NewMemoryStore()
	for _, user := range []domain.User{
		{ID: "student-1", Role: domain.RoleStudent, IsActive: true},
		{ID: "student-2", Role: domain.RoleStudent, IsActive: true},
		{ID: "counselor-1", FullName: "Casey", Role: domain.RoleCounselor, IsActive: true},
	} {
		store.PutUser(user)
	}

	chatReg := realtime.NewRegistry(realtime.Options{Name: "chat", WriteTimeout: time.Second})
	notifReg := realtime.NewRegistry(realtime.Options{Name: "notifications", WriteTimeout: time.Second})
	dispatcher := events.NewInMemoryDispatcher(nil)
	tickets := service.NewTicketService(service.TicketDependencies{
		TicketRepo:  store.Tickets(),
		UserRepo:    store.Users(),
		HistoryRepo: store.History(),
		Dispatcher:  dispatcher,
	})
	chat := service.NewChatService(service.ChatDependencies{
		TicketRepo:  store.Tickets(),
		MessageRepo: store.Messages(),
		UserRepo:    store.Users(),
		Registry:    chatReg,
		Dispatcher:  dispatcher,
	})

	ctx := context.Background()
	ticket, err := tickets.CreateTicket(ctx, domain.Actor{UserID: "student-1", Role: domain.RoleStudent},
		service.TicketCreateInput{Category: "stress", InitialMessage: "exams"})
	if err != nil {
		t.Fatalf("create ticket: %v", err)
	}
	if _, err := tickets.Claim(ctx, domain.Actor{UserID: "counselor-1", Role: domain.RoleCounselor}, ticket.ID); err != nil {
		t.Fatalf("claim: %v", err)
	}

	tokens := auth.NewTokenManager("secret", 5)
	handler := NewHandler(Config{
		Auth:                 auth.NewAuthMiddleware(tokens, store.Users()),
		Chat:                 chat,
		ChatRegistry:         chatReg,
		NotificationRegistry: notifReg,
		WriteTimeout:         time.Second,
		IdleTimeout:          idle,
	})
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	handler.Register(app)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() { _ = app.Listener(ln) }()
	t.Cleanup(func() {
		chatReg.Close()
		notifReg.Close()
		_ = app.Shutdown()
	})

	return &harness{addr: ln.Addr().String(), tokens: tokens, chatReg: chatReg, notifReg: notifReg, ticket: ticket}
}

func (h *harness) dial(t *testing.T, path, userID string, role domain.Role) *fastws.Conn {
	t.Helper()
	token, _, err := h.tokens.GenerateToken(userID, role)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	conn, resp, err := fastws.DefaultDialer.Dial("ws://"+h.addr+path+"?token="+token, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", path, err)
	}
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("expected upgrade, got %d", resp.StatusCode)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitForConnections(t *testing.T, reg *realtime.Registry, identity string, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for reg.Connections(identity) != want {
		if time.Now().After(deadline) {
			t.Fatalf("%s: expected %d connections, have %d", identity, want, reg.Connections(identity))
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func readJSON(t *testing.T, conn *fastws.Conn, into any) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := json.Unmarshal(raw, into); err != nil {
		t.Fatalf("decode %s: %v", raw, err)
	}
}

func TestChatSocketDeliversToBothParticipants(t *testing.T) {
	h := newHarness(t)
	path := "/ws/chat/" + h.ticket.ID
	student := h.dial(t, path, "student-1", domain.RoleStudent)
	counselor := h.dial(t, path, "counselor-1", domain.RoleCounselor)
	waitForConnections(t, h.chatReg, "student-1", 1)
	waitForConnections(t, h.chatReg, "counselor-1", 1)

	if err := counselor.WriteJSON(realtime.ChatInbound{Message: "hello"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	for name, conn := range map[string]*fastws.Conn{"student": student, "counselor": counselor} {
		var frame realtime.ChatFrame
		readJSON(t, conn, &frame)
		if frame.TicketID != h.ticket.ID || frame.SenderID != "counselor-1" || frame.Message != "hello" || frame.Sender.Name != "Casey" {
			t.Fatalf("%s got unexpected frame %+v", name, frame)
		}
	}

	if err := student.WriteMessage(fastws.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	var errFrame realtime.ErrorFrame
	readJSON(t, student, &errFrame)
	if errFrame.Error.Code != "VALIDATION_FAILED" {
		t.Fatalf("expected validation error frame, got %+v", errFrame)
	}
}

func TestChatSocketRejectsOutsiders(t *testing.T) {
	h := newHarness(t)
	cases := []struct {
		name string
		path string
		user string
	}{
		{name: "not a participant", path: "/ws/chat/" + h.ticket.ID, user: "student-2"},
		{name: "unknown ticket", path: "/ws/chat/missing", user: "student-1"},
		{name: "unknown user", path: "/ws/chat/" + h.ticket.ID, user: "ghost"},
	}
	for _, tc := range cases {
		conn := h.dial(t, tc.path, tc.user, domain.RoleStudent)
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, _, err := conn.ReadMessage()
		if !fastws.IsCloseError(err, fastws.ClosePolicyViolation) {
			t.Fatalf("%s: expected policy violation close, got %v", tc.name, err)
		}
	}
	if n := h.chatReg.Connections("student-2"); n != 0 {
		t.Fatalf("rejected socket must not be registered, have %d", n)
	}
}

func TestNotificationSocketAnswersKeepAlive(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t, "/ws/notifications", "student-1", domain.RoleStudent)
	waitForConnections(t, h.notifReg, "student-1", 1)

	if err := conn.WriteMessage(fastws.TextMessage, []byte("ping")); err != nil {
		t.Fatalf("write: %v", err)
	}
	var pong realtime.PingFrame
	readJSON(t, conn, &pong)
	if pong.Type != "ping" || pong.Status != "alive" {
		t.Fatalf("unexpected keep-alive reply %+v", pong)
	}

	_ = conn.WriteMessage(fastws.CloseMessage, fastws.FormatCloseMessage(fastws.CloseNormalClosure, "bye"))
	waitForConnections(t, h.notifReg, "student-1", 0)
}

func TestPlainHTTPIsRefused(t *testing.T) {
	h := newHarness(t)
	resp, err := http.Get("http://" + h.addr + "/ws/notifications")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUpgradeRequired {
		t.Fatalf("expected 426, got %d", resp.StatusCode)
	}
}

func TestListenOnlyNotificationSocketSurvivesIdleTimeout(t *testing.T) {
	idle := 300 * time.Millisecond
	h := newHarnessWithIdle(t, idle)
	conn := h.dial(t, "/ws/notifications", "student-1", domain.RoleStudent)
	waitForConnections(t, h.notifReg, "student-1", 1)

	var pings atomic.Int32
	conn.SetPingHandler(func(data string) error {
		pings.Add(1)
		return conn.WriteControl(fastws.PongMessage, []byte(data), time.Now().Add(time.Second))
	})

	// The client never sends a data frame; reading only processes control frames.
	_ = conn.SetReadDeadline(time.Now().Add(4 * idle))
	_, _, err := conn.ReadMessage()
	var netErr net.Error
	if !errors.As(err, &netErr) || !netErr.Timeout() {
		t.Fatalf("expected the client read to time out with the socket still open, got %v", err)
	}
	if pings.Load() == 0 {
		t.Fatalf("expected server pings while idle")
	}
	if n := h.notifReg.Connections("student-1"); n != 1 {
		t.Fatalf("listen-only socket must stay registered, have %d", n)
	}
}
