package handlers

import (
	"github.com/agentx/guardian-backend/internal/models"
	"github.com/agentx/guardian-backend/internal/services"
	"github.com/gofiber/fiber/v2"
)

// ReportHandlers handles report generation
type ReportHandlers struct {
	reports *services.ReportService
	access  *Access
}

// NewReportHandlers creates new report handlers
func NewReportHandlers(reports *services.ReportService, access *Access) *ReportHandlers {
	return &ReportHandlers{reports: reports, access: access}
}

type reportRequest struct {
	UserID     string `json:"user_id"`
	ReportType string `json:"report_type"`
	Limit      int    `json:"limit"`
}

// Generate handles POST /api/v1/reports
func (h *ReportHandlers) Generate(c *fiber.Ctx) error {
	req := reportRequest{ReportType: string(models.ReportTotal)}
	if err := c.BodyParser(&req); err != nil {
		return badRequest("Invalid request body")
	}
	rt, err := models.ParseReportType(req.ReportType)
	if err != nil {
		return err
	}
	userID, err := h.access.Subject(c, req.UserID)
	if err != nil {
		return err
	}

	report, err := h.reports.Generate(c.UserContext(), userID, rt, req.Limit)
	if err != nil {
		return err
	}
	return c.JSON(report)
}
