package api

import (
	"strings"
	"time"

	"github.com/agentx/guardian-backend/internal/api/handlers"
	"github.com/agentx/guardian-backend/internal/api/middleware"
	"github.com/agentx/guardian-backend/internal/auth"
	"github.com/agentx/guardian-backend/internal/config"
	"github.com/agentx/guardian-backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/sirupsen/logrus"
)

// SetupRoutes configures all API routes. jwt may be nil when no secret is
// configured, in which case every request is anonymous.
func SetupRoutes(app *fiber.App, cfg *config.Config, svc *services.Services, hub *handlers.Hub, jwt *auth.JWTService, logger *logrus.Logger) {
	access := handlers.NewAccess(svc.Notifier)
	system := handlers.NewSystemHandlers(svc, hub)

	api := app.Group("/api/v1")

	// ========================================
	// Public routes
	// ========================================

	api.Get("/health", system.Health)

	// ========================================
	// Routes acting for a user
	// ========================================

	chain := []fiber.Handler{}
	if jwt != nil {
		if cfg.Auth.Required {
			chain = append(chain, middleware.AuthRequired(jwt, logger))
		} else {
			chain = append(chain, middleware.OptionalAuth(jwt, logger))
		}
	}
	chain = append(chain,
		middleware.APIRateLimit(cfg.Server.RateLimit, time.Minute),
		middleware.AuditMiddleware(middleware.AuditConfig{Logger: logger}),
	)
	protected := api.Group("", chain...)

	// shared by every route that reaches the detection backend
	detectLimit := middleware.DetectionRateLimit(cfg.Server.RateLimit)

	turns := handlers.NewTurnHandlers(svc.Orchestrator, access)
	protected.Post("/turn", detectLimit, turns.Handle)

	detection := handlers.NewDetectionHandlers(svc.Detector, access)
	protected.Post("/detect/comprehensive", detectLimit, detection.Comprehensive)
	protected.Post("/detect/:type", detectLimit, detection.Detect)

	profiles := handlers.NewConfigHandlers(svc.Profiles, logger)
	protected.Post("/config", profiles.Update)
	protected.Get("/config", profiles.List)
	protected.Get("/config/:service_type", profiles.Get)

	reports := handlers.NewReportHandlers(svc.Reports, access)
	protected.Post("/reports", reports.Generate)

	memory := handlers.NewMemoryHandlers(svc.Memory, access)
	protected.Get("/memory/:user_id/preferences", memory.Preferences)
	protected.Get("/memory/:user_id/summaries", memory.Summaries)

	notifications := handlers.NewNotificationHandlers(svc.Notifier, access)
	protected.Post("/relationships", notifications.Link)
	protected.Delete("/relationships/:elder_user_id/:child_user_id", notifications.Unlink)
	protected.Get("/relationships/:user_id/caregivers", notifications.Caregivers)
	protected.Get("/relationships/:user_id/elders", notifications.Elders)

	// notification inboxes exist for caregivers only
	var caregiverOnly []fiber.Handler
	if jwt != nil && cfg.Auth.Required {
		caregiverOnly = append(caregiverOnly, middleware.RequireRole(jwt, auth.RoleCaregiver, logger))
	}
	inbox := protected.Group("/notifications", caregiverOnly...)
	inbox.Get("/:child_user_id", notifications.List)
	inbox.Patch("/:id", notifications.UpdateStatus)

	protected.Get("/cache/status", system.CacheStatus)
	protected.Get("/metrics", system.Metrics)

	// ========================================
	// WebSocket routes
	// ========================================

	app.Get("/ws/status/:user_id", system.SocketStatus)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}

		// Validate auth token from query param or header
		token := c.Query("token")
		if token == "" {
			token = auth.ExtractTokenFromBearer(c.Get("Authorization"))
		}

		if token == "" {
			if cfg.Auth.Required {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
					"error": "Authentication required for WebSocket",
				})
			}
			return c.Next()
		}
		if jwt == nil {
			return c.Next()
		}

		claims, err := jwt.ValidateAccessToken(token)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid or expired token",
			})
		}
		if claims.UserID != strings.TrimPrefix(c.Path(), "/ws/") {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "Token does not match the requested channel",
			})
		}
		c.Locals("user_id", claims.UserID)
		return c.Next()
	})

	app.Get("/ws/:user_id", hub.Handler(svc.Notifier))
}
