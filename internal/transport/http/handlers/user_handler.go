package handlers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/nightshift/backend/internal/core/services"
	"github.com/nightshift/backend/internal/domain"
	"github.com/nightshift/backend/internal/infrastructure/logger"
	"github.com/nightshift/backend/internal/transport/http/dto"
	"github.com/nightshift/backend/internal/transport/http/middleware"
)

type UserHandler struct {
	users  *services.UserMapperService
	logger *logger.Logger
}

func NewUserHandler(users *services.UserMapperService, logger *logger.Logger) *UserHandler {
	return &UserHandler{users: users, logger: logger}
}

func userError(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	if errors.Is(err, services.ErrUserInvalidInput) {
		status = fiber.StatusBadRequest
	}
	return c.Status(status).JSON(dto.ErrorResponse{Error: err.Error()})
}

// GetQuota reports the stored quota, or the defaults when none is stored.
func (h *UserHandler) GetQuota(c *fiber.Ctx) error {
	id := c.Params("id")
	quota, err := h.users.GetQuota(c.UserContext(), id)
	if err != nil {
		return userError(c, err)
	}
	if quota == nil {
		q := domain.DefaultQuota(id)
		quota = &q
	}
	return c.JSON(quota)
}

func (h *UserHandler) SetQuota(c *fiber.Ctx) error {
	var req dto.QuotaRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request body"})
	}
	if errs := req.Validate(); len(errs) > 0 {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "validation failed", Details: errs})
	}
	quota, err := h.users.SetQuota(c.UserContext(), c.Params("id"), services.QuotaUpdate{
		MaxTasksPerDay:     req.MaxTasksPerDay,
		MaxTokensPerTask:   req.MaxTokensPerTask,
		MaxConcurrentTasks: req.MaxConcurrentTasks,
	})
	if err != nil {
		return userError(c, err)
	}
	h.logger.Infow("api_quota_updated", "user_id", quota.NightshiftUserID, "by", middleware.UserID(c))
	return c.JSON(quota)
}

func (h *UserHandler) GrantPermission(c *fiber.Ctx) error {
	var req dto.PermissionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request body"})
	}
	id := c.Params("id")
	perm := strings.TrimSpace(req.Permission)
	if err := h.users.GrantPermission(c.UserContext(), id, perm, middleware.UserID(c)); err != nil {
		return userError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{Message: "permission granted"})
}

func (h *UserHandler) ListPlatforms(c *fiber.Ctx) error {
	users, err := h.users.ListPlatformUsers(c.UserContext(), c.Params("id"))
	if err != nil {
		return userError(c, err)
	}
	return c.JSON(users)
}
