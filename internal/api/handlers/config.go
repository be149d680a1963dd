package handlers

import (
	"github.com/agentx/guardian-backend/internal/api/middleware"
	"github.com/agentx/guardian-backend/internal/auth"
	"github.com/agentx/guardian-backend/internal/models"
	"github.com/agentx/guardian-backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// ConfigHandlers handles the sensitivity profile endpoints
type ConfigHandlers struct {
	profiles *services.ProfileEngine
	logger   *logrus.Logger
}

// NewConfigHandlers creates new config handlers
func NewConfigHandlers(profiles *services.ProfileEngine, logger *logrus.Logger) *ConfigHandlers {
	return &ConfigHandlers{profiles: profiles, logger: logger}
}

type configRequest struct {
	ConfigData  map[string]float64 `json:"config_data"`
	ServiceType string             `json:"service_type"`
	Source      string             `json:"source"`
}

// sourceRoles binds each profile half to the role allowed to write it
var sourceRoles = map[models.ScoreSource]string{
	models.SourceParent: auth.RoleCaregiver,
	models.SourceChild:  auth.RoleElder,
}

// Update handles POST /api/v1/config
func (h *ConfigHandlers) Update(c *fiber.Ctx) error {
	var req configRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest("Invalid request body")
	}
	t, err := models.ParseDetectionType(req.ServiceType)
	if err != nil {
		return err
	}
	source, err := models.ParseScoreSource(req.Source)
	if err != nil {
		return err
	}
	if req.ConfigData == nil {
		return models.NewValidationError("config_data", "config_data is required")
	}
	if middleware.IsAuthenticated(c) && !middleware.HasRole(c, sourceRoles[source]) {
		return fiber.NewError(fiber.StatusForbidden, "role cannot update the "+string(source)+" scores")
	}

	profile, err := h.profiles.Apply(c.UserContext(), t, source, req.ConfigData)
	if err != nil {
		if profile == nil {
			return err
		}
		// the profile is active; only stale cache entries may survive
		h.logger.WithError(err).WithField("service_type", t).Error("Profile activated without cache invalidation")
		return c.JSON(fiber.Map{
			"profile": profile,
			"warning": err.Error(),
		})
	}
	return c.JSON(fiber.Map{"profile": profile})
}

// Get handles GET /api/v1/config/:service_type
func (h *ConfigHandlers) Get(c *fiber.Ctx) error {
	t, err := models.ParseDetectionType(c.Params("service_type"))
	if err != nil {
		return err
	}
	profile, err := h.profiles.Active(t)
	if err != nil {
		return err
	}
	return c.JSON(profile)
}

// List handles GET /api/v1/config
func (h *ConfigHandlers) List(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"profiles": h.profiles.All()})
}
