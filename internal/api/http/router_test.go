package http

import (
	"bytes"
	"encoding/json"
	"io"
	nethttp "net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/campus-care/counseling-service/internal/api/http/handlers"
	"github.com/campus-care/counseling-service/internal/auth"
	"github.com/campus-care/counseling-service/internal/domain"
	"github.com/campus-care/counseling-service/internal/events"
	"github.com/campus-care/counseling-service/internal/observability"
	"github.com/campus-care/counseling-service/internal/realtime"
	"github.com/campus-care/counseling-service/internal/repository"
	"github.com/campus-care/counseling-service/internal/service"
)

type apiHarness struct {
	app    *fiber.App
	tokens *auth.TokenManager
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()
	store := repository.NewMemoryStore()
	for _, user := range []domain.User{
		{ID: "student-1", Role: domain.RoleStudent, IsActive: true},
		{ID: "student-2", Role: domain.RoleStudent, IsActive: true},
		{ID: "counselor-1", FullName: "Casey", Role: domain.RoleCounselor, IsActive: true},
		{ID: "counselor-2", FullName: "Alex", Role: domain.RoleCounselor, IsActive: true},
		{ID: "peer-1", FullName: "Pat", Role: domain.RolePeerCounselor, IsActive: true},
		{ID: "counselor-retired", FullName: "Old", Role: domain.RoleCounselor, IsActive: false},
		{ID: "admin-1", Role: domain.RoleAdmin, IsActive: true},
	} {
		store.PutUser(user)
	}

	logger := zap.NewNop()
	metrics := observability.NewMetrics()
	dispatcher := events.NewInMemoryDispatcher(logger)
	chatReg := realtime.NewRegistry(realtime.Options{Name: "chat"})
	notifyReg := realtime.NewRegistry(realtime.Options{Name: "notifications"})
	t.Cleanup(chatReg.Close)
	t.Cleanup(notifyReg.Close)

	tickets := service.NewTicketService(service.TicketDependencies{
		TicketRepo:  store.Tickets(),
		UserRepo:    store.Users(),
		HistoryRepo: store.History(),
		Dispatcher:  dispatcher,
		Logger:      logger,
	})
	schedules := service.NewScheduleService(service.ScheduleDependencies{
		ScheduleRepo: store.Schedules(),
		TicketRepo:   store.Tickets(),
		UserRepo:     store.Users(),
		Dispatcher:   dispatcher,
		Logger:       logger,
	})
	chat := service.NewChatService(service.ChatDependencies{
		TicketRepo:  store.Tickets(),
		MessageRepo: store.Messages(),
		UserRepo:    store.Users(),
		Registry:    chatReg,
		Dispatcher:  dispatcher,
		Metrics:     metrics,
		Logger:      logger,
	})
	notifications := service.NewNotificationService(service.NotificationDependencies{
		Dispatcher: dispatcher,
		Registry:   notifyReg,
		UserRepo:   store.Users(),
		Metrics:    metrics,
		Logger:     logger,
	})
	notifications.RegisterHandlers()

	tokens := auth.NewTokenManager("secret", 5)
	app := fiber.New()
	RegisterMiddlewares(app, logger, metrics, 0)
	RegisterRoutes(app, RouteConfig{
		Health:         handlers.NewHealthHandler("counseling-service", "test", nil, metrics),
		Tickets:        handlers.NewTicketsHandler(tickets, chat),
		Schedules:      handlers.NewSchedulesHandler(schedules),
		Notifications:  handlers.NewNotificationsHandler(notifications),
		Counselors:     handlers.NewCounselorsHandler(schedules),
		AuthMiddleware: auth.NewAuthMiddleware(tokens, store.Users()),
	})
	return &apiHarness{app: app, tokens: tokens}
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func (h *apiHarness) do(t *testing.T, method, path, userID string, role domain.Role, body any) (int, envelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		token, _, err := h.tokens.GenerateToken(userID, role)
		if err != nil {
			t.Fatalf("token: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := h.app.Test(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var env envelope
	raw, _ := io.ReadAll(resp.Body)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatalf("%s %s: decode %s: %v", method, path, raw, err)
		}
	}
	return resp.StatusCode, env
}

func expectError(t *testing.T, status int, env envelope, wantStatus int, wantCode string) {
	t.Helper()
	if status != wantStatus || env.Error == nil || env.Error.Code != wantCode {
		t.Fatalf("expected %d %s, got %d %+v", wantStatus, wantCode, status, env.Error)
	}
}

func TestTicketEndpoints(t *testing.T) {
	h := newAPIHarness(t)

	status, env := h.do(t, nethttp.MethodPost, "/api/tickets", "student-1", domain.RoleStudent, map[string]any{
		"category":        "anxiety",
		"initial_message": "exam stress",
		"crisis_level":    "medium",
	})
	if status != nethttp.StatusCreated {
		t.Fatalf("create: expected 201, got %d %+v", status, env.Error)
	}
	var ticket struct {
		ID           string `json:"id"`
		TicketNumber string `json:"ticket_number"`
		Status       string `json:"status"`
	}
	_ = json.Unmarshal(env.Data, &ticket)
	if ticket.ID == "" || ticket.Status != "new" {
		t.Fatalf("unexpected ticket %+v", ticket)
	}

	status, env = h.do(t, nethttp.MethodPost, "/api/tickets", "student-1", domain.RoleStudent, map[string]any{"category": "x"})
	expectError(t, status, env, nethttp.StatusBadRequest, "VALIDATION_FAILED")

	status, env = h.do(t, nethttp.MethodGet, "/api/tickets/available", "student-1", domain.RoleStudent, nil)
	expectError(t, status, env, nethttp.StatusForbidden, "FORBIDDEN")

	status, _ = h.do(t, nethttp.MethodGet, "/api/tickets/available", "counselor-1", domain.RoleCounselor, nil)
	if status != nethttp.StatusOK {
		t.Fatalf("available: expected 200, got %d", status)
	}

	claimPath := "/api/tickets/" + ticket.ID + "/assign-to-me"
	status, env = h.do(t, nethttp.MethodPost, claimPath, "counselor-1", domain.RoleCounselor, nil)
	if status != nethttp.StatusOK {
		t.Fatalf("claim: expected 200, got %d %+v", status, env.Error)
	}
	_ = json.Unmarshal(env.Data, &ticket)
	if ticket.Status != "active" {
		t.Fatalf("claimed ticket should be active, got %s", ticket.Status)
	}
	status, env = h.do(t, nethttp.MethodPost, claimPath, "counselor-2", domain.RoleCounselor, nil)
	expectError(t, status, env, nethttp.StatusConflict, "ALREADY_ASSIGNED")

	patchPath := "/api/tickets/" + ticket.ID
	status, env = h.do(t, nethttp.MethodPatch, patchPath, "counselor-1", domain.RoleCounselor, map[string]any{"status": "resolved"})
	expectError(t, status, env, nethttp.StatusConflict, "INVALID_TRANSITION")
	status, env = h.do(t, nethttp.MethodPatch, patchPath, "counselor-1", domain.RoleCounselor, map[string]any{"counselor_id": "counselor-2"})
	expectError(t, status, env, nethttp.StatusForbidden, "FORBIDDEN")
	status, env = h.do(t, nethttp.MethodPatch, patchPath, "admin-1", domain.RoleAdmin, map[string]any{"counselor_id": "counselor-2", "crisis_level": "high"})
	if status != nethttp.StatusOK {
		t.Fatalf("admin patch: expected 200, got %d %+v", status, env.Error)
	}

	status, env = h.do(t, nethttp.MethodGet, patchPath+"/history", "admin-1", domain.RoleAdmin, nil)
	var history []map[string]any
	_ = json.Unmarshal(env.Data, &history)
	if status != nethttp.StatusOK || len(history) != 4 {
		t.Fatalf("history: expected 4 entries, got %d (%d)", len(history), status)
	}

	status, env = h.do(t, nethttp.MethodGet, patchPath, "student-2", domain.RoleStudent, nil)
	expectError(t, status, env, nethttp.StatusForbidden, "FORBIDDEN")
	status, env = h.do(t, nethttp.MethodGet, patchPath+"/messages", "student-1", domain.RoleStudent, nil)
	if status != nethttp.StatusOK {
		t.Fatalf("messages: expected 200, got %d %+v", status, env.Error)
	}
	status, env = h.do(t, nethttp.MethodGet, "/api/tickets/missing", "admin-1", domain.RoleAdmin, nil)
	expectError(t, status, env, nethttp.StatusNotFound, "NOT_FOUND")
}

func TestScheduleEndpoints(t *testing.T) {
	h := newAPIHarness(t)
	booking := map[string]any{"counselor_id": "counselor-1", "scheduled_at": "2025-03-01T10:00:00Z"}

	status, env := h.do(t, nethttp.MethodPost, "/api/schedules", "student-1", domain.RoleStudent, booking)
	if status != nethttp.StatusCreated {
		t.Fatalf("book: expected 201, got %d %+v", status, env.Error)
	}
	var created struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	_ = json.Unmarshal(env.Data, &created)

	status, env = h.do(t, nethttp.MethodPost, "/api/schedules", "student-2", domain.RoleStudent, booking)
	expectError(t, status, env, nethttp.StatusConflict, "SLOT_TAKEN")
	status, env = h.do(t, nethttp.MethodPost, "/api/schedules", "counselor-2", domain.RoleCounselor, booking)
	expectError(t, status, env, nethttp.StatusForbidden, "FORBIDDEN")

	status, env = h.do(t, nethttp.MethodPatch, "/api/schedules/"+created.ID+"/cancel", "student-2", domain.RoleStudent, nil)
	expectError(t, status, env, nethttp.StatusForbidden, "FORBIDDEN")
	status, _ = h.do(t, nethttp.MethodPatch, "/api/schedules/"+created.ID+"/cancel", "student-1", domain.RoleStudent, nil)
	if status != nethttp.StatusOK {
		t.Fatalf("cancel: expected 200, got %d", status)
	}
	status, env = h.do(t, nethttp.MethodPost, "/api/schedules", "student-2", domain.RoleStudent, booking)
	if status != nethttp.StatusCreated {
		t.Fatalf("rebook: expected 201, got %d %+v", status, env.Error)
	}

	status, env = h.do(t, nethttp.MethodGet, "/api/schedules", "counselor-1", domain.RoleCounselor, nil)
	var list []map[string]any
	_ = json.Unmarshal(env.Data, &list)
	if status != nethttp.StatusOK || len(list) != 2 {
		t.Fatalf("list: expected 2 bookings, got %d (%d)", len(list), status)
	}
}

func TestBroadcastAndPlumbing(t *testing.T) {
	h := newAPIHarness(t)
	body := map[string]any{"role": "counselor", "title": "Heads up", "message": "Drill at noon"}

	status, env := h.do(t, nethttp.MethodPost, "/api/notifications/broadcast", "counselor-1", domain.RoleCounselor, body)
	expectError(t, status, env, nethttp.StatusForbidden, "FORBIDDEN")
	status, env = h.do(t, nethttp.MethodPost, "/api/notifications/broadcast", "admin-1", domain.RoleAdmin, body)
	if status != nethttp.StatusOK {
		t.Fatalf("broadcast: expected 200, got %d %+v", status, env.Error)
	}

	status, env = h.do(t, nethttp.MethodGet, "/api/tickets/my-tickets", "", "", nil)
	expectError(t, status, env, nethttp.StatusUnauthorized, "UNAUTHORIZED")
	status, env = h.do(t, nethttp.MethodGet, "/nowhere", "", "", nil)
	expectError(t, status, env, nethttp.StatusNotFound, "NOT_FOUND")

	for _, path := range []string{"/health/live", "/health/ready"} {
		if status, _ := h.do(t, nethttp.MethodGet, path, "", "", nil); status != nethttp.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, status)
		}
	}
}

func TestAvailableCounselorsEndpoint(t *testing.T) {
	h := newAPIHarness(t)
	status, env := h.do(t, nethttp.MethodGet, "/api/counselors/available", "student-1", domain.RoleStudent, nil)
	if status != nethttp.StatusOK {
		t.Fatalf("expected 200, got %d %+v", status, env.Error)
	}
	var counselors []struct {
		ID       string `json:"id"`
		FullName string `json:"full_name"`
		Role     string `json:"role"`
	}
	if err := json.Unmarshal(env.Data, &counselors); err != nil {
		t.Fatalf("decode: %v", err)
	}
	var names []string
	for _, c := range counselors {
		names = append(names, c.FullName)
	}
	if len(counselors) != 3 || names[0] != "Alex" || names[1] != "Casey" || names[2] != "Pat" {
		t.Fatalf("expected active counselors by name, got %v", names)
	}
	if counselors[2].Role != string(domain.RolePeerCounselor) {
		t.Fatalf("peer counselors are bookable too, got role %q", counselors[2].Role)
	}

	status, env = h.do(t, nethttp.MethodGet, "/api/counselors/available", "", "", nil)
	expectError(t, status, env, nethttp.StatusUnauthorized, "UNAUTHORIZED")
}

func TestOnlyStudentsOpenTickets(t *testing.T) {
	h := newAPIHarness(t)
	body := map[string]any{"category": "stress", "initial_message": "help"}
	status, env := h.do(t, nethttp.MethodPost, "/api/tickets", "admin-1", domain.RoleAdmin, body)
	expectError(t, status, env, nethttp.StatusForbidden, "FORBIDDEN")
	status, env = h.do(t, nethttp.MethodPost, "/api/tickets", "counselor-1", domain.RoleCounselor, body)
	expectError(t, status, env, nethttp.StatusForbidden, "FORBIDDEN")
}
