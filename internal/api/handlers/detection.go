package handlers

import (
	"strings"

	"github.com/agentx/guardian-backend/internal/models"
	"github.com/agentx/guardian-backend/internal/services"
	"github.com/gofiber/fiber/v2"
)

// DetectionHandlers exposes the detectors directly
type DetectionHandlers struct {
	detector *services.Detector
	access   *Access
}

// NewDetectionHandlers creates new detection handlers
func NewDetectionHandlers(detector *services.Detector, access *Access) *DetectionHandlers {
	return &DetectionHandlers{detector: detector, access: access}
}

type detectRequest struct {
	Content string `json:"content"`
	UserID  string `json:"user_id"`
}

func (h *DetectionHandlers) parse(c *fiber.Ctx) (*detectRequest, error) {
	var req detectRequest
	if err := c.BodyParser(&req); err != nil {
		return nil, badRequest("Invalid request body")
	}
	if strings.TrimSpace(req.Content) == "" {
		return nil, models.NewValidationError("content", "content is required")
	}
	userID, err := h.access.Subject(c, req.UserID)
	if err != nil {
		return nil, err
	}
	req.UserID = userID
	return &req, nil
}

// Detect handles POST /api/v1/detect/:type
func (h *DetectionHandlers) Detect(c *fiber.Ctx) error {
	t, err := models.ParseDetectionType(c.Params("type"))
	if err != nil {
		return err
	}
	req, err := h.parse(c)
	if err != nil {
		return err
	}

	det, err := h.detector.DetectContent(c.UserContext(), req.UserID, t, req.Content)
	if err != nil {
		return err
	}
	return c.JSON(det)
}

// Comprehensive handles POST /api/v1/detect/comprehensive
func (h *DetectionHandlers) Comprehensive(c *fiber.Ctx) error {
	req, err := h.parse(c)
	if err != nil {
		return err
	}

	res, err := h.detector.Comprehensive(c.UserContext(), req.UserID, req.Content)
	if err != nil {
		return err
	}
	return c.JSON(res)
}
