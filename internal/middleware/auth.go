package middleware

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/mindmesh/mindmesh/internal/config"
	"github.com/mindmesh/mindmesh/internal/services"
	"github.com/mindmesh/mindmesh/internal/types"
)

// AuthAdmin validates that the request has admin role authorization
func AuthAdmin() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return authorize(c, []string{"admin"}, "maps.authorization.admin")
	}
}

// AuthUser validates that the request has user role authorization
func AuthUser() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return authorize(c, []string{"user"}, "maps.authorization.user")
	}
}

// AuthParticipant accepts either a registered user session or a guest
// bearer token minted at room join. Guests carry their map scope in the
// token; handlers enforce it where it matters.
func AuthParticipant(cfg *config.Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if token := bearerToken(c); token != "" {
			claims, err := services.ParseGuestToken(cfg, token)
			if err != nil {
				return &types.CustomError{
					Code:    fiber.StatusUnauthorized,
					Message: fmt.Sprintf("Invalid guest token: %v", err),
					Type:    "maps.authorization.guest",
				}
			}
			c.Locals("user_id", claims.Subject)
			c.Locals("display_name", claims.DisplayName)
			c.Locals("guest_map_id", claims.MapID)
			c.Locals("is_anonymous", true)
			return c.Next()
		}
		return authorize(c, []string{"user"}, "maps.authorization.participant")
	}
}

// AuthOptional resolves a registered session when a cookie is present but
// never rejects: callers without one (or with a stale one) continue as
// guests. Join is the one route serving both identities.
func AuthOptional() fiber.Handler {
	return func(c *fiber.Ctx) error {
		session := c.Cookies("cookie_session")
		if session == "" {
			return c.Next()
		}
		data, err := services.ValidateSession(session, []string{"user"})
		if err != nil {
			return c.Next()
		}
		if user, ok := data["user"]; ok {
			c.Locals("user", user)
			if u, ok := user.(map[string]interface{}); ok {
				if id, ok := u["id"].(string); ok {
					c.Locals("user_id", id)
				}
				if name, ok := u["nickname"].(string); ok && name != "" {
					c.Locals("display_name", name)
				}
			}
		}
		c.Locals("is_anonymous", false)
		return c.Next()
	}
}

func bearerToken(c *fiber.Ctx) string {
	header := c.Get(fiber.HeaderAuthorization)
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

// authorize performs the authorization check
func authorize(c *fiber.Ctx, roles []string, errorType string) error {
	// Get session cookie
	session := c.Cookies("cookie_session")
	if session == "" {
		return &types.CustomError{
			Code:    fiber.StatusForbidden,
			Message: "Authorizer cookie \"cookie_session\" not found",
			Type:    errorType,
		}
	}

	// Validate session
	data, err := services.ValidateSession(session, roles)
	if err != nil {
		return &types.CustomError{
			Code:    fiber.StatusForbidden,
			Message: fmt.Sprintf("Invalid session: %v", err),
			Type:    errorType,
		}
	}

	// Set user data in context
	if user, ok := data["user"]; ok {
		c.Locals("user", user)
		if u, ok := user.(map[string]interface{}); ok {
			if id, ok := u["id"].(string); ok {
				c.Locals("user_id", id)
			}
		}
	}
	c.Locals("is_anonymous", false)

	return c.Next()
}
