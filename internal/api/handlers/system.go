package handlers

import (
	"github.com/agentx/guardian-backend/internal/services"
	"github.com/gofiber/fiber/v2"
)

// SystemHandlers reports health, backend metrics and cache state
type SystemHandlers struct {
	svc *services.Services
	hub *Hub
}

// NewSystemHandlers creates new system handlers
func NewSystemHandlers(svc *services.Services, hub *Hub) *SystemHandlers {
	return &SystemHandlers{svc: svc, hub: hub}
}

// Health handles GET /api/v1/health
func (h *SystemHandlers) Health(c *fiber.Ctx) error {
	status := h.svc.Health.Check(c.UserContext())
	if !status.Healthy {
		return c.Status(fiber.StatusServiceUnavailable).JSON(status)
	}
	return c.JSON(status)
}

// Metrics handles GET /api/v1/metrics
func (h *SystemHandlers) Metrics(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"backend":  h.svc.Guard.Metrics().GetSnapshot(),
		"breakers": h.svc.Guard.Breaker().States(),
		"cache":    h.svc.Cache.Status(),
		"websocket": fiber.Map{
			"connected_clients": h.hub.Count(),
		},
	})
}

// CacheStatus handles GET /api/v1/cache/status
func (h *SystemHandlers) CacheStatus(c *fiber.Ctx) error {
	return c.JSON(h.svc.Cache.Status())
}

// SocketStatus handles GET /ws/status/:user_id
func (h *SystemHandlers) SocketStatus(c *fiber.Ctx) error {
	userID := c.Params("user_id")
	return c.JSON(fiber.Map{
		"user_id":                 userID,
		"connected":               h.hub.Connected(userID),
		"connected_clients_count": h.hub.Count(),
	})
}
