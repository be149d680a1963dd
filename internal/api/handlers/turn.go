package handlers

import (
	"github.com/agentx/guardian-backend/internal/models"
	"github.com/agentx/guardian-backend/internal/services"
	"github.com/gofiber/fiber/v2"
)

// TurnHandlers handles conversation turns
type TurnHandlers struct {
	orchestrator *services.OrchestrationService
	access       *Access
}

// NewTurnHandlers creates new turn handlers
func NewTurnHandlers(orchestrator *services.OrchestrationService, access *Access) *TurnHandlers {
	return &TurnHandlers{orchestrator: orchestrator, access: access}
}

// Handle handles POST /api/v1/turn
func (h *TurnHandlers) Handle(c *fiber.Ctx) error {
	var ev models.Event
	if err := c.BodyParser(&ev); err != nil {
		return badRequest("Invalid request body")
	}

	userID, err := h.access.Self(c, ev.UserID)
	if err != nil {
		return err
	}
	ev.UserID = userID

	res, err := h.orchestrator.Handle(c.UserContext(), ev)
	if err != nil {
		return err
	}
	return c.JSON(res)
}
