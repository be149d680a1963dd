package handlers

import (
	"strings"

	"github.com/agentx/guardian-backend/internal/api/middleware"
	"github.com/agentx/guardian-backend/internal/auth"
	"github.com/agentx/guardian-backend/internal/services"
	"github.com/gofiber/fiber/v2"
)

// Access decides which user a request may act for. Unauthenticated requests
// act for whoever they name; authenticated ones act for themselves or, for
// caregivers, for a linked elder.
type Access struct {
	notifier *services.Notifier
}

// NewAccess creates an access checker
func NewAccess(notifier *services.Notifier) *Access {
	return &Access{notifier: notifier}
}

// Subject returns the user the request acts for. An empty result means an
// anonymous request that named nobody.
func (a *Access) Subject(c *fiber.Ctx, requested string) (string, error) {
	requested = strings.TrimSpace(requested)
	caller := middleware.GetUserID(c)

	if caller == "" {
		return requested, nil
	}
	if requested == "" || requested == caller {
		return caller, nil
	}

	if middleware.HasRole(c, auth.RoleCaregiver) {
		elders, err := a.notifier.Elders(c.UserContext(), caller)
		if err != nil {
			return "", err
		}
		for _, rel := range elders {
			if rel.ElderUserID == requested {
				return requested, nil
			}
		}
	}
	return "", fiber.NewError(fiber.StatusForbidden, "not allowed to act for this user")
}

// Self requires the request to act for requested itself, never on behalf of
// someone else
func (a *Access) Self(c *fiber.Ctx, requested string) (string, error) {
	requested = strings.TrimSpace(requested)
	caller := middleware.GetUserID(c)
	if caller != "" && requested != "" && requested != caller {
		return "", fiber.NewError(fiber.StatusForbidden, "not allowed to act for this user")
	}
	if requested == "" {
		requested = caller
	}
	return requested, nil
}
