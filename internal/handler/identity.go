package handler

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/autosend-engine/internal/observability"
)

// Identity headers set by the gateway.
const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"
)

const (
	RoleAdmin   = "admin"
	RoleManager = "manager"
)

const actorLocalsKey = "autosend.actor"

// Actor is the caller resolved from the identity headers.
type Actor struct {
	ID   string
	Role string
}

// RequireRole rejects requests without an identity. With roles given, the caller's role must
// be one of them.
func RequireRole(roles ...string) fiber.Handler {
	allowed := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		allowed[strings.ToLower(r)] = struct{}{}
	}

	return func(c *fiber.Ctx) error {
		actor := Actor{
			ID:   strings.TrimSpace(c.Get(HeaderUserID)),
			Role: strings.ToLower(strings.TrimSpace(c.Get(HeaderUserRole))),
		}
		if actor.ID == "" || actor.Role == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "missing caller identity")
		}
		if len(allowed) > 0 {
			if _, ok := allowed[actor.Role]; !ok {
				return fiber.NewError(fiber.StatusForbidden, "role is not allowed to perform this action")
			}
		}

		c.Locals(actorLocalsKey, actor)
		return c.Next()
	}
}

func actorFrom(c *fiber.Ctx) Actor {
	actor, _ := c.Locals(actorLocalsKey).(Actor)
	return actor
}

// CorrelationID copies the request id onto the user context so services log it.
func CorrelationID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if id := requestCorrelationID(c); id != "" {
			c.SetUserContext(observability.WithCorrelationID(c.UserContext(), id))
		}
		return c.Next()
	}
}

func requestCorrelationID(c *fiber.Ctx) string {
	if value := strings.TrimSpace(c.Get(fiber.HeaderXRequestID)); value != "" {
		return value
	}
	if value, ok := c.Locals("requestid").(string); ok {
		return strings.TrimSpace(value)
	}
	return ""
}
