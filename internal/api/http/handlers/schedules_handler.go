package handlers

import (
	"context"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/campus-care/counseling-service/internal/api/dto"
	"github.com/campus-care/counseling-service/internal/domain"
	"github.com/campus-care/counseling-service/internal/service"
	apperrors "github.com/campus-care/counseling-service/pkg/util/errorutil"
)

// SchedulesHandler serves session booking endpoints.
type SchedulesHandler struct {
	schedules *service.ScheduleService
}

// NewSchedulesHandler constructs handler.
func NewSchedulesHandler(schedules *service.ScheduleService) *SchedulesHandler {
	return &SchedulesHandler{schedules: schedules}
}

// CreateSchedule POST /api/schedules.
func (h *SchedulesHandler) CreateSchedule(c *fiber.Ctx) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	var req dto.CreateScheduleRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", map[string]any{"scheduled_at": "RFC 3339 timestamp expected"})
	}
	booking, err := h.schedules.Book(c.UserContext(), actor, service.BookingInput{
		CounselorID:     req.CounselorID,
		StudentID:       req.StudentID,
		ScheduledAt:     req.ScheduledAt,
		DurationMinutes: req.DurationMinutes,
		TicketID:        req.TicketID,
		MeetingType:     req.MeetingType,
		MeetingLink:     req.MeetingLink,
		Notes:           req.Notes,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.NewScheduleResponse(booking)})
}

// ListSchedules GET /api/schedules.
func (h *SchedulesHandler) ListSchedules(c *fiber.Ctx) error {
	return h.list(c, false)
}

// ListUpcoming GET /api/schedules/upcoming.
func (h *SchedulesHandler) ListUpcoming(c *fiber.Ctx) error {
	return h.list(c, true)
}

func (h *SchedulesHandler) list(c *fiber.Ctx, upcoming bool) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	bookings, err := h.schedules.ListForActor(c.UserContext(), actor, upcoming)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewScheduleResponses(bookings)})
}

// CancelSchedule PATCH /api/schedules/:id/cancel.
func (h *SchedulesHandler) CancelSchedule(c *fiber.Ctx) error {
	return h.transition(c, h.schedules.Cancel)
}

// CompleteSchedule PATCH /api/schedules/:id/complete.
func (h *SchedulesHandler) CompleteSchedule(c *fiber.Ctx) error {
	return h.transition(c, h.schedules.Complete)
}

// ConfirmSchedule PATCH /api/schedules/:id/confirm.
func (h *SchedulesHandler) ConfirmSchedule(c *fiber.Ctx) error {
	return h.transition(c, h.schedules.Confirm)
}

func (h *SchedulesHandler) transition(c *fiber.Ctx, apply func(context.Context, domain.Actor, string) (*domain.Schedule, error)) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	booking, err := apply(c.UserContext(), actor, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewScheduleResponse(booking)})
}
