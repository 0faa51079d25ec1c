package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/nightshift/backend/internal/core/services"
)

type HealthHandler struct {
	trigger  *services.TriggerService
	provider string
}

func NewHealthHandler(trigger *services.TriggerService, provider string) *HealthHandler {
	if provider == "" {
		provider = "local"
	}
	return &HealthHandler{trigger: trigger, provider: provider}
}

func (h *HealthHandler) Check(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":             "ok",
		"service":            "nightshift",
		"platforms":          h.trigger.Platforms(),
		"execution_provider": h.provider,
	})
}
