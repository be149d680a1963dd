package api

import (
	"github.com/agentx/guardian-backend/internal/api/handlers"
	"github.com/agentx/guardian-backend/internal/auth"
	"github.com/agentx/guardian-backend/internal/config"
	"github.com/agentx/guardian-backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/sirupsen/logrus"
)

// NewApp builds the fiber application with middleware and routes
func NewApp(cfg *config.Config, svc *services.Services, hub *handlers.Hub, jwt *auth.JWTService, logger *logrus.Logger) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "Guardian Backend",
		ErrorHandler:          handlers.ErrorHandler(logger),
		DisableStartupMessage: true,
	})

	// Middleware
	app.Use(recover.New())
	app.Use(fiberlogger.New(fiberlogger.Config{Output: logger.Out}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.Server.CORSOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PATCH, DELETE, OPTIONS",
	}))

	SetupRoutes(app, cfg, svc, hub, jwt, logger)
	return app
}
