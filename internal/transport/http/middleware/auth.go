package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/nightshift/backend/internal/core/services"
	"github.com/nightshift/backend/internal/transport/http/dto"
)

// LocalUserID is the fiber Locals key holding the authenticated user id.
const LocalUserID = "user_id"

func bearerOrHeader(c *fiber.Ctx, header string) string {
	token := c.Get(header)
	if token == "" {
		auth := c.Get("Authorization")
		const prefix = "Bearer "
		if len(auth) > len(prefix) && auth[:len(prefix)] == prefix {
			token = auth[len(prefix):]
		}
	}
	return token
}

// APIKeyAuth accepts X-API-Key or a bearer token and stores the owning
// user id in Locals. Websocket clients that cannot set headers may pass
// ?api_key= instead.
func APIKeyAuth(auth *services.Authenticator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := bearerOrHeader(c, "X-API-Key")
		if key == "" {
			key = c.Query("api_key")
		}
		res := auth.Authenticate(services.Credentials{APIKey: key}, services.AuthMethodAPIKey)
		if !res.Success {
			return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Error: res.ErrorMessage()})
		}
		c.Locals(LocalUserID, res.UserID)
		return c.Next()
	}
}

// RequirePermission must run after APIKeyAuth.
func RequirePermission(users *services.UserMapperService, permission string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, _ := c.Locals(LocalUserID).(string)
		ok, err := users.HasPermission(c.UserContext(), userID, permission)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: err.Error()})
		}
		if !ok {
			return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{Error: "forbidden"})
		}
		return c.Next()
	}
}

func UserID(c *fiber.Ctx) string {
	id, _ := c.Locals(LocalUserID).(string)
	return id
}
