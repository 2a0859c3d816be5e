package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/campus-care/counseling-service/internal/api/dto"
	"github.com/campus-care/counseling-service/internal/domain"
	"github.com/campus-care/counseling-service/internal/service"
	apperrors "github.com/campus-care/counseling-service/pkg/util/errorutil"
)

// NotificationsHandler serves administrator announcements.
type NotificationsHandler struct {
	notifications *service.NotificationService
}

// NewNotificationsHandler constructs handler.
func NewNotificationsHandler(notifications *service.NotificationService) *NotificationsHandler {
	return &NotificationsHandler{notifications: notifications}
}

// Broadcast POST /api/notifications/broadcast.
func (h *NotificationsHandler) Broadcast(c *fiber.Ctx) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	var req dto.BroadcastRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	delivered, err := h.notifications.BroadcastToRole(c.UserContext(), actor, service.AnnouncementInput{
		Role:    domain.Role(req.Role),
		Title:   req.Title,
		Message: req.Message,
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.BroadcastResponse{Delivered: delivered}})
}
