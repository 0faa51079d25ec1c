package handlers

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/nightshift/backend/internal/core/services"
	"github.com/nightshift/backend/internal/domain"
	"github.com/nightshift/backend/internal/infrastructure/logger"
	"github.com/nightshift/backend/internal/transport/http/dto"
	"github.com/nightshift/backend/internal/transport/http/middleware"
)

type TaskHandler struct {
	queue   *services.TaskQueueService
	trigger *services.TriggerService
	logger  *logger.Logger
}

func NewTaskHandler(queue *services.TaskQueueService, trigger *services.TriggerService, logger *logger.Logger) *TaskHandler {
	return &TaskHandler{queue: queue, trigger: trigger, logger: logger}
}

func taskErrorStatus(err error) int {
	switch {
	case errors.Is(err, services.ErrTaskNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, services.ErrTaskInvalidInput):
		return fiber.StatusBadRequest
	case errors.Is(err, services.ErrTaskNotStaged), errors.Is(err, services.ErrTaskConflict):
		return fiber.StatusConflict
	case errors.Is(err, services.ErrQuotaExceeded):
		return fiber.StatusTooManyRequests
	default:
		return fiber.StatusInternalServerError
	}
}

func taskError(c *fiber.Ctx, err error) error {
	return c.Status(taskErrorStatus(err)).JSON(dto.ErrorResponse{Error: err.Error()})
}

// Submit plans and stages a task for the caller, optionally approving and
// running it in the same request.
func (h *TaskHandler) Submit(c *fiber.Ctx) error {
	var req dto.SubmitRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request body"})
	}
	if errs := req.Validate(); len(errs) > 0 {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "validation failed", Details: errs})
	}

	ctx := c.UserContext()
	userID := middleware.UserID(c)
	if err := h.trigger.CheckSubmissionQuota(ctx, userID); err != nil {
		return taskError(c, err)
	}
	task, err := h.trigger.SubmitTask(ctx, services.SubmitInput{Description: req.Description, SubmittedBy: userID})
	if err != nil {
		h.logger.Errorw("api_submit_failed", "user_id", userID, "error", err)
		return taskError(c, err)
	}

	resp := dto.SubmitResponse{TaskID: task.TaskID, Status: task.Status}
	if req.AutoApprove {
		result, err := h.trigger.ApproveAndExecute(ctx, task.TaskID)
		if err != nil {
			return taskError(c, err)
		}
		resp.Execution = result
		if task, err = h.queue.GetTask(ctx, task.TaskID); err != nil {
			return taskError(c, err)
		}
		resp.Status = task.Status
	}
	resp.Task = dto.TaskToResponse(task)
	return c.Status(fiber.StatusCreated).JSON(resp)
}

func (h *TaskHandler) List(c *fiber.Ctx) error {
	tasks, err := h.queue.ListTasks(c.UserContext(), domain.TaskStatus(c.Query("status")))
	if err != nil {
		return taskError(c, err)
	}
	return c.JSON(dto.TasksToResponse(tasks))
}

func (h *TaskHandler) Get(c *fiber.Ctx) error {
	task, err := h.queue.GetTask(c.UserContext(), c.Params("id"))
	if err != nil {
		return taskError(c, err)
	}
	return c.JSON(dto.TaskToResponse(task))
}

func (h *TaskHandler) Logs(c *fiber.Ctx) error {
	ctx := c.UserContext()
	id := c.Params("id")
	if _, err := h.queue.GetTask(ctx, id); err != nil {
		return taskError(c, err)
	}
	var after uint
	if s := c.Query("after"); s != "" {
		n, err := strconv.ParseUint(s, 10, 32)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid after"})
		}
		after = uint(n)
	}
	logs, err := h.queue.GetLogs(ctx, id, after)
	if err != nil {
		return taskError(c, err)
	}
	return c.JSON(logs)
}

func (h *TaskHandler) Approve(c *fiber.Ctx) error {
	result, err := h.trigger.ApproveAndExecute(c.UserContext(), c.Params("id"))
	if err != nil {
		return taskError(c, err)
	}
	return c.JSON(result)
}

func (h *TaskHandler) Cancel(c *fiber.Ctx) error {
	ctx := c.UserContext()
	id := c.Params("id")
	if _, err := h.queue.GetTask(ctx, id); err != nil {
		return taskError(c, err)
	}
	changed, err := h.queue.Cancel(ctx, id)
	if err != nil {
		return taskError(c, err)
	}
	return h.transitionResponse(c, id, changed)
}

// UpdatePlan answers 409 when the task has already left STAGED.
func (h *TaskHandler) UpdatePlan(c *fiber.Ctx) error {
	var req dto.PlanUpdateRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request body"})
	}
	if errs := req.Validate(); len(errs) > 0 {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "validation failed", Details: errs})
	}
	ctx := c.UserContext()
	id := c.Params("id")
	if _, err := h.queue.GetTask(ctx, id); err != nil {
		return taskError(c, err)
	}
	changed, err := h.queue.UpdatePlan(ctx, id, req.ToPlan())
	if err != nil {
		return taskError(c, err)
	}
	if !changed {
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Error: "task is not in STAGED state"})
	}
	return h.transitionResponse(c, id, true)
}

func (h *TaskHandler) transitionResponse(c *fiber.Ctx, id string, changed bool) error {
	task, err := h.queue.GetTask(c.UserContext(), id)
	if err != nil {
		return taskError(c, err)
	}
	return c.JSON(dto.TransitionResponse{TaskID: id, Status: task.Status, Changed: changed})
}
