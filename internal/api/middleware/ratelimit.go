package middleware

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

// APIRateLimit returns a rate limiter for API endpoints. A non-positive max
// disables limiting.
func APIRateLimit(max int, expiration time.Duration) fiber.Handler {
	if max <= 0 {
		return func(c *fiber.Ctx) error { return c.Next() }
	}
	return limiter.New(limiter.Config{
		Max:        max,
		Expiration: expiration,
		KeyGenerator: func(c *fiber.Ctx) string {
			// Rate limit by user ID if authenticated
			if userID := GetUserID(c); userID != "" {
				return fmt.Sprintf("api:user:%s", userID)
			}
			// Otherwise by IP
			return fmt.Sprintf("api:ip:%s", c.IP())
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "API rate limit exceeded. Please slow down your requests.",
			})
		},
	})
}

// DetectionRateLimit limits the endpoints that reach the detection backend.
// Failed requests are not counted.
func DetectionRateLimit(max int) fiber.Handler {
	if max <= 0 {
		return func(c *fiber.Ctx) error { return c.Next() }
	}
	return limiter.New(limiter.Config{
		Max:        max,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			if userID := GetUserID(c); userID != "" {
				return fmt.Sprintf("detect:user:%s", userID)
			}
			return fmt.Sprintf("detect:ip:%s", c.IP())
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Detection rate limit exceeded. Please wait before sending more content.",
			})
		},
		SkipFailedRequests: true,
	})
}
