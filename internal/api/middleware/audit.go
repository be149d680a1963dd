package middleware

import (
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// AuditConfig holds audit middleware configuration
type AuditConfig struct {
	Logger    *logrus.Logger
	SkipPaths []string // Paths to skip audit logging
}

// AuditMiddleware writes one structured log entry per state-changing request:
// profile updates, relationship changes and notification status updates.
func AuditMiddleware(config AuditConfig) fiber.Handler {
	return func(c *fiber.Ctx) error {
		path := c.Path()
		for _, skipPath := range config.SkipPaths {
			if strings.HasPrefix(path, skipPath) {
				return c.Next()
			}
		}

		startTime := time.Now()
		err := c.Next()

		action := determineAction(c.Method(), path)
		if !ShouldAudit(action) {
			return err
		}

		status := c.Response().StatusCode()
		if err != nil {
			// the error handler has not run yet
			status = fiber.StatusInternalServerError
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			}
		}

		userID := GetUserID(c)
		if userID == "" {
			userID = "anonymous"
		}
		entry := config.Logger.WithFields(logrus.Fields{
			"audit":       true,
			"action":      action,
			"resource":    extractResource(path),
			"user_id":     userID,
			"ip":          c.IP(),
			"status":      status,
			"duration_ms": time.Since(startTime).Milliseconds(),
		})
		if err != nil || status >= 400 {
			entry.WithError(err).Warn("Audited request failed")
		} else {
			entry.Info("Audited request")
		}
		return err
	}
}

// determineAction determines the action from HTTP method and path
func determineAction(method, path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) >= 3 {
		resource := parts[2] // e.g. "config", "relationships", "notifications"
		switch method {
		case fiber.MethodGet:
			if len(parts) > 3 {
				return fmt.Sprintf("%s.read", resource)
			}
			return fmt.Sprintf("%s.list", resource)
		case fiber.MethodPost:
			return fmt.Sprintf("%s.create", resource)
		case fiber.MethodPut, fiber.MethodPatch:
			return fmt.Sprintf("%s.update", resource)
		case fiber.MethodDelete:
			return fmt.Sprintf("%s.delete", resource)
		}
	}

	return fmt.Sprintf("%s.%s", strings.ToLower(method), path)
}

// extractResource returns the resource segment of an /api/v1 path
func extractResource(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) < 3 {
		return ""
	}
	return strings.Join(parts[2:], "/")
}

// SensitiveActions are always audited
var SensitiveActions = []string{
	"config.create",
	"relationships.create",
	"relationships.delete",
	"notifications.update",
}

// ShouldAudit determines if an action should be audited
func ShouldAudit(action string) bool {
	for _, sensitive := range SensitiveActions {
		if action == sensitive {
			return true
		}
	}
	return strings.HasSuffix(action, ".update") || strings.HasSuffix(action, ".delete")
}
