package middleware

import (
	"github.com/agentx/guardian-backend/internal/auth"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// AuthConfig holds the auth middleware configuration
type AuthConfig struct {
	JWT         *auth.JWTService
	Optional    bool   // If true, auth is optional (doesn't fail if no token)
	RequireRole string // If set, requires specific role
	Logger      *logrus.Logger
}

// AuthRequired creates a middleware that requires authentication
func AuthRequired(jwt *auth.JWTService, logger *logrus.Logger) fiber.Handler {
	return AuthMiddleware(AuthConfig{JWT: jwt, Logger: logger})
}

// OptionalAuth creates a middleware that makes authentication optional
func OptionalAuth(jwt *auth.JWTService, logger *logrus.Logger) fiber.Handler {
	return AuthMiddleware(AuthConfig{JWT: jwt, Optional: true, Logger: logger})
}

// RequireRole creates a middleware that requires a specific role
func RequireRole(jwt *auth.JWTService, role string, logger *logrus.Logger) fiber.Handler {
	return AuthMiddleware(AuthConfig{JWT: jwt, RequireRole: role, Logger: logger})
}

// AuthMiddleware is the main authentication middleware
func AuthMiddleware(config AuthConfig) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := auth.ExtractTokenFromBearer(c.Get("Authorization"))

		// websocket clients cannot set headers from the browser
		if token == "" {
			token = c.Query("token")
		}

		// If no token and auth is optional, continue
		if token == "" && config.Optional {
			return c.Next()
		}

		if token == "" || config.JWT == nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Authentication required",
			})
		}

		claims, err := config.JWT.ValidateAccessToken(token)
		if err != nil {
			if config.Logger != nil {
				config.Logger.WithError(err).WithField("path", c.Path()).Debug("Rejected access token")
			}
			// a bad token is never silently downgraded to anonymous
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid or expired token",
			})
		}

		// Check role if required
		if config.RequireRole != "" && claims.Role != config.RequireRole {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "Insufficient permissions",
			})
		}

		c.Locals("user_id", claims.UserID)
		c.Locals("user_role", claims.Role)
		return c.Next()
	}
}

// GetUserID returns the authenticated user, or "" for anonymous requests
func GetUserID(c *fiber.Ctx) string {
	if userID, ok := c.Locals("user_id").(string); ok {
		return userID
	}
	return ""
}

// IsAuthenticated checks if the request is authenticated
func IsAuthenticated(c *fiber.Ctx) bool {
	return GetUserID(c) != ""
}

// HasRole checks if the authenticated user has a specific role
func HasRole(c *fiber.Ctx, role string) bool {
	if r, ok := c.Locals("user_role").(string); ok {
		return r == role
	}
	return false
}
