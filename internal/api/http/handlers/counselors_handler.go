package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/campus-care/counseling-service/internal/api/dto"
	"github.com/campus-care/counseling-service/internal/service"
)

// CounselorsHandler serves counselor discovery for booking.
type CounselorsHandler struct {
	schedules *service.ScheduleService
}

func NewCounselorsHandler(schedules *service.ScheduleService) *CounselorsHandler {
	return &CounselorsHandler{schedules: schedules}
}

// ListAvailable GET /api/counselors/available.
func (h *CounselorsHandler) ListAvailable(c *fiber.Ctx) error {
	counselors, err := h.schedules.AvailableCounselors(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewCounselorResponses(counselors)})
}
