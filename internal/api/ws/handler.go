package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/campus-care/counseling-service/internal/auth"
	"github.com/campus-care/counseling-service/internal/domain"
	"github.com/campus-care/counseling-service/internal/realtime"
	"github.com/campus-care/counseling-service/internal/service"
	apperrors "github.com/campus-care/counseling-service/pkg/util/errorutil"
)

const authErrorLocalsKey = "ws_auth_error"

const (
	pingType    = "ping"
	aliveStatus = "alive"
)

// Handler owns both websocket endpoints.
type Handler struct {
	auth           *auth.AuthMiddleware
	chat           *service.ChatService
	chatRegistry   *realtime.Registry
	notifyRegistry *realtime.Registry
	writeTimeout   time.Duration
	idleTimeout    time.Duration
	logger         *zap.Logger
}

// Config bundles the handler's collaborators.
type Config struct {
	Auth                 *auth.AuthMiddleware
	Chat                 *service.ChatService
	ChatRegistry         *realtime.Registry
	NotificationRegistry *realtime.Registry
	WriteTimeout         time.Duration
	IdleTimeout          time.Duration
	Logger               *zap.Logger
}

// NewHandler constructs the websocket handler.
func NewHandler(cfg Config) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 5 * time.Minute
	}
	return &Handler{
		auth:           cfg.Auth,
		chat:           cfg.Chat,
		chatRegistry:   cfg.ChatRegistry,
		notifyRegistry: cfg.NotificationRegistry,
		writeTimeout:   cfg.WriteTimeout,
		idleTimeout:    cfg.IdleTimeout,
		logger:         cfg.Logger,
	}
}

// Register mounts /ws/chat/:ticketId and /ws/notifications.
func (h *Handler) Register(app *fiber.App) {
	group := app.Group("/ws", h.upgrade)
	group.Get("/chat/:ticketId", websocket.New(h.serveChat))
	group.Get("/notifications", websocket.New(h.serveNotifications))
}

// upgrade authenticates before the handshake. Failures still upgrade so the
// client receives a policy-violation close frame instead of a bare HTTP error.
func (h *Handler) upgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	token, err := auth.BearerToken(c)
	if err == nil {
		var principal *auth.Principal
		principal, err = h.auth.Authenticate(c.UserContext(), token)
		if err == nil {
			c.Locals(auth.PrincipalLocalsKey, principal)
			return c.Next()
		}
	}
	c.Locals(authErrorLocalsKey, apperrors.ToDomainError(err).Message)
	return c.Next()
}

func (h *Handler) principal(conn *websocket.Conn, sock *socket) (domain.Actor, bool) {
	principal, ok := conn.Locals(auth.PrincipalLocalsKey).(*auth.Principal)
	if !ok || principal == nil || principal.User == nil {
		reason, _ := conn.Locals(authErrorLocalsKey).(string)
		if reason == "" {
			reason = "authentication required"
		}
		sock.closeWith(websocket.ClosePolicyViolation, reason)
		return domain.Actor{}, false
	}
	return principal.Actor(), true
}

func (h *Handler) serveChat(conn *websocket.Conn) {
	sock := newSocket(conn, h.writeTimeout)
	actor, ok := h.principal(conn, sock)
	if !ok {
		return
	}
	ticketID := conn.Params("ticketId")
	ctx := context.Background()
	logger := h.logger.With(zap.String("ticket_id", ticketID), zap.String("user_id", actor.UserID))

	if _, err := h.chat.Authorize(ctx, actor, ticketID); err != nil {
		logger.Debug("chat socket rejected", zap.Error(err))
		sock.closeWith(websocket.ClosePolicyViolation, apperrors.ToDomainError(err).Message)
		return
	}
	handle, err := h.chatRegistry.Register(actor.UserID, sock)
	if err != nil {
		sock.closeWith(websocket.CloseGoingAway, "server shutting down")
		return
	}
	stop := h.keepAlive(conn, sock)
	defer func() {
		stop()
		h.chatRegistry.Unregister(handle)
		_ = sock.Close()
	}()
	logger.Debug("chat socket opened")

	for {
		raw, err := h.read(conn)
		if err != nil {
			h.logClose(logger, "chat", err)
			return
		}
		var inbound realtime.ChatInbound
		if err := json.Unmarshal(raw, &inbound); err != nil {
			h.writeError(sock, apperrors.NewValidationError("frame must be JSON with a message field", nil))
			continue
		}
		if _, err := h.chat.SendMessage(ctx, actor, ticketID, inbound.Message); err != nil {
			h.writeError(sock, err)
		}
	}
}

func (h *Handler) serveNotifications(conn *websocket.Conn) {
	sock := newSocket(conn, h.writeTimeout)
	actor, ok := h.principal(conn, sock)
	if !ok {
		return
	}
	handle, err := h.notifyRegistry.Register(actor.UserID, sock)
	if err != nil {
		sock.closeWith(websocket.CloseGoingAway, "server shutting down")
		return
	}
	stop := h.keepAlive(conn, sock)
	defer func() {
		stop()
		h.notifyRegistry.Unregister(handle)
		_ = sock.Close()
	}()

	pong, _ := realtime.Encode(realtime.PingFrame{Type: pingType, Status: aliveStatus})
	for {
		if _, err := h.read(conn); err != nil {
			h.logClose(h.logger.With(zap.String("user_id", actor.UserID)), "notification", err)
			return
		}
		if err := sock.WriteMessage(pong); err != nil {
			return
		}
	}
}

// keepAlive pings the client at half the idle timeout and treats every pong
// as activity, so a client that only listens stays connected.
func (h *Handler) keepAlive(conn *websocket.Conn, sock *socket) func() {
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.idleTimeout))
	})
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(h.idleTimeout / 2)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := sock.ping(); err != nil {
					return
				}
			}
		}
	}()
	return func() { close(done) }
}

// read waits for the next text frame, giving up after the idle timeout.
func (h *Handler) read(conn *websocket.Conn) ([]byte, error) {
	if err := conn.SetReadDeadline(time.Now().Add(h.idleTimeout)); err != nil {
		return nil, err
	}
	_, raw, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	return raw, nil
}

// writeError reports a failed inbound frame to the sending socket only.
func (h *Handler) writeError(sock *socket, err error) {
	domainErr := apperrors.ToDomainError(err)
	if domainErr.HTTPStatus >= 500 {
		h.logger.Error("chat send failed", zap.Error(err))
	}
	payload, encErr := realtime.Encode(realtime.ErrorFrame{Error: realtime.ErrorBody{
		Code:    domainErr.Code,
		Message: domainErr.Message,
	}})
	if encErr != nil {
		return
	}
	if werr := sock.WriteMessage(payload); werr != nil {
		h.logger.Debug("write error frame", zap.Error(werr))
	}
}

func (h *Handler) logClose(logger *zap.Logger, channel string, err error) {
	var netErr net.Error
	switch {
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		logger.Debug(channel+" socket closed by peer")
	case errors.As(err, &netErr) && netErr.Timeout():
		logger.Info(channel+" socket idle timeout")
	default:
		logger.Debug(channel+" socket read failed", zap.Error(err))
	}
}
