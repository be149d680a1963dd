package handlers

import (
	"github.com/agentx/guardian-backend/internal/api/middleware"
	"github.com/agentx/guardian-backend/internal/models"
	"github.com/agentx/guardian-backend/internal/services"
	"github.com/gofiber/fiber/v2"
)

// NotificationHandlers handles caregiver links and risk notifications
type NotificationHandlers struct {
	notifier *services.Notifier
	access   *Access
}

// NewNotificationHandlers creates new notification handlers
func NewNotificationHandlers(notifier *services.Notifier, access *Access) *NotificationHandlers {
	return &NotificationHandlers{notifier: notifier, access: access}
}

// partyOf rejects authenticated callers that are neither side of a link
func partyOf(c *fiber.Ctx, elderUserID, childUserID string) error {
	caller := middleware.GetUserID(c)
	if caller != "" && caller != elderUserID && caller != childUserID {
		return fiber.NewError(fiber.StatusForbidden, "not a party to this relationship")
	}
	return nil
}

// Link handles POST /api/v1/relationships
func (h *NotificationHandlers) Link(c *fiber.Ctx) error {
	var req struct {
		ElderUserID  string `json:"elder_user_id"`
		ChildUserID  string `json:"child_user_id"`
		Relationship string `json:"relationship"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badRequest("Invalid request body")
	}
	if err := partyOf(c, req.ElderUserID, req.ChildUserID); err != nil {
		return err
	}

	rel, err := h.notifier.Link(c.UserContext(), req.ElderUserID, req.ChildUserID, req.Relationship)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(rel)
}

// Unlink handles DELETE /api/v1/relationships/:elder_user_id/:child_user_id
func (h *NotificationHandlers) Unlink(c *fiber.Ctx) error {
	elder, child := c.Params("elder_user_id"), c.Params("child_user_id")
	if err := partyOf(c, elder, child); err != nil {
		return err
	}
	if err := h.notifier.Unlink(c.UserContext(), elder, child); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// Caregivers handles GET /api/v1/relationships/:user_id/caregivers
func (h *NotificationHandlers) Caregivers(c *fiber.Ctx) error {
	userID, err := h.access.Subject(c, c.Params("user_id"))
	if err != nil {
		return err
	}
	rels, err := h.notifier.Caregivers(c.UserContext(), userID)
	if err != nil {
		return err
	}
	if rels == nil {
		rels = []models.Relationship{}
	}
	return c.JSON(fiber.Map{"user_id": userID, "caregivers": rels})
}

// Elders handles GET /api/v1/relationships/:user_id/elders
func (h *NotificationHandlers) Elders(c *fiber.Ctx) error {
	userID, err := h.access.Self(c, c.Params("user_id"))
	if err != nil {
		return err
	}
	rels, err := h.notifier.Elders(c.UserContext(), userID)
	if err != nil {
		return err
	}
	if rels == nil {
		rels = []models.Relationship{}
	}
	return c.JSON(fiber.Map{"user_id": userID, "elders": rels})
}

// List handles GET /api/v1/notifications/:child_user_id
func (h *NotificationHandlers) List(c *fiber.Ctx) error {
	childUserID, err := h.access.Self(c, c.Params("child_user_id"))
	if err != nil {
		return err
	}

	var status models.NotificationStatus
	if s := c.Query("status"); s != "" {
		if status, err = models.ParseNotificationStatus(s); err != nil {
			return err
		}
	}

	notes, err := h.notifier.List(c.UserContext(), childUserID, status, c.QueryInt("limit", 50))
	if err != nil {
		return err
	}
	if notes == nil {
		notes = []models.RiskNotification{}
	}
	return c.JSON(fiber.Map{"child_user_id": childUserID, "notifications": notes})
}

// UpdateStatus handles PATCH /api/v1/notifications/:id
func (h *NotificationHandlers) UpdateStatus(c *fiber.Ctx) error {
	var req struct {
		Status      string `json:"status"`
		ChildUserID string `json:"child_user_id"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badRequest("Invalid request body")
	}
	status, err := models.ParseNotificationStatus(req.Status)
	if err != nil {
		return err
	}
	owner, err := h.access.Self(c, req.ChildUserID)
	if err != nil {
		return err
	}

	note, err := h.notifier.MarkStatus(c.UserContext(), c.Params("id"), owner, status)
	if err != nil {
		return err
	}
	return c.JSON(note)
}
