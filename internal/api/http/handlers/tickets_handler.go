package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/campus-care/counseling-service/internal/api/dto"
	"github.com/campus-care/counseling-service/internal/domain"
	"github.com/campus-care/counseling-service/internal/service"
	apperrors "github.com/campus-care/counseling-service/pkg/util/errorutil"
)

// TicketsHandler serves the ticket lifecycle endpoints.
type TicketsHandler struct {
	tickets *service.TicketService
	chat    *service.ChatService
}

// NewTicketsHandler constructs handler.
func NewTicketsHandler(tickets *service.TicketService, chat *service.ChatService) *TicketsHandler {
	return &TicketsHandler{tickets: tickets, chat: chat}
}

// CreateTicket POST /api/tickets.
func (h *TicketsHandler) CreateTicket(c *fiber.Ctx) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	var req dto.CreateTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	ticket, err := h.tickets.CreateTicket(c.UserContext(), actor, service.TicketCreateInput{
		Category:       req.Category,
		InitialMessage: req.InitialMessage,
		CrisisLevel:    domain.CrisisLevel(req.CrisisLevel),
		Priority:       req.Priority,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.NewTicketResponse(ticket)})
}

// ListMyTickets GET /api/tickets/my-tickets.
func (h *TicketsHandler) ListMyTickets(c *fiber.Ctx) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	limit, offset := pageParams(c)
	tickets, err := h.tickets.ListForActor(c.UserContext(), actor, limit, offset)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewTicketResponses(tickets)})
}

// ListAvailable GET /api/tickets/available.
func (h *TicketsHandler) ListAvailable(c *fiber.Ctx) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	limit, offset := pageParams(c)
	tickets, err := h.tickets.ListAvailable(c.UserContext(), actor, limit, offset)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewTicketResponses(tickets)})
}

// GetTicket GET /api/tickets/:id.
func (h *TicketsHandler) GetTicket(c *fiber.Ctx) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	ticket, err := h.tickets.Get(c.UserContext(), actor, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewTicketResponse(ticket)})
}

// ListMessages GET /api/tickets/:id/messages.
func (h *TicketsHandler) ListMessages(c *fiber.Ctx) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	limit, offset := pageParams(c)
	msgs, err := h.chat.History(c.UserContext(), actor, c.Params("id"), limit, offset)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewChatMessageResponses(msgs)})
}

// ListHistory GET /api/tickets/:id/history.
func (h *TicketsHandler) ListHistory(c *fiber.Ctx) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	limit, offset := pageParams(c)
	entries, err := h.tickets.History(c.UserContext(), actor, c.Params("id"), limit, offset)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewTicketHistoryResponses(entries)})
}

// UpdateTicket PATCH /api/tickets/:id.
func (h *TicketsHandler) UpdateTicket(c *fiber.Ctx) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	var req dto.UpdateTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	input := service.TicketUpdateInput{CounselorID: req.CounselorID}
	if req.Status != nil {
		status := domain.TicketStatus(*req.Status)
		input.Status = &status
	}
	if req.CrisisLevel != nil {
		level := domain.CrisisLevel(*req.CrisisLevel)
		input.CrisisLevel = &level
	}
	ticket, err := h.tickets.Update(c.UserContext(), actor, c.Params("id"), input)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewTicketResponse(ticket)})
}

// AssignToMe POST /api/tickets/:id/assign-to-me.
func (h *TicketsHandler) AssignToMe(c *fiber.Ctx) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	ticket, err := h.tickets.Claim(c.UserContext(), actor, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewTicketResponse(ticket)})
}
