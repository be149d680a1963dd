package handlers

import (
	"github.com/agentx/guardian-backend/internal/models"
	"github.com/agentx/guardian-backend/internal/services"
	"github.com/gofiber/fiber/v2"
)

// MemoryHandlers exposes what the assistant remembers about a user
type MemoryHandlers struct {
	memory *services.MemoryManager
	access *Access
}

// NewMemoryHandlers creates new memory handlers
func NewMemoryHandlers(memory *services.MemoryManager, access *Access) *MemoryHandlers {
	return &MemoryHandlers{memory: memory, access: access}
}

func (h *MemoryHandlers) subject(c *fiber.Ctx) (string, error) {
	userID, err := h.access.Subject(c, c.Params("user_id"))
	if err != nil {
		return "", err
	}
	if userID == "" {
		return "", models.NewValidationError("user_id", "user_id is required")
	}
	return userID, nil
}

// Preferences handles GET /api/v1/memory/:user_id/preferences
func (h *MemoryHandlers) Preferences(c *fiber.Ctx) error {
	userID, err := h.subject(c)
	if err != nil {
		return err
	}
	prefs, err := h.memory.Preferences(c.UserContext(), userID)
	if err != nil {
		return err
	}
	if prefs == nil {
		prefs = []models.PreferenceRecord{}
	}
	return c.JSON(fiber.Map{"user_id": userID, "preferences": prefs})
}

// Summaries handles GET /api/v1/memory/:user_id/summaries
func (h *MemoryHandlers) Summaries(c *fiber.Ctx) error {
	userID, err := h.subject(c)
	if err != nil {
		return err
	}
	limit := c.QueryInt("limit", 20)
	if limit <= 0 || limit > 100 {
		return models.NewValidationError("limit", "limit must be between 1 and 100")
	}
	summaries, err := h.memory.Summaries(c.UserContext(), userID, limit)
	if err != nil {
		return err
	}
	if summaries == nil {
		summaries = []models.MemorySummary{}
	}
	return c.JSON(fiber.Map{"user_id": userID, "summaries": summaries})
}
