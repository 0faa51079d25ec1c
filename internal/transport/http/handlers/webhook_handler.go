package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/nightshift/backend/internal/core/services"
	"github.com/nightshift/backend/internal/infrastructure/logger"
	"github.com/nightshift/backend/internal/transport/http/dto"
)

type WebhookHandler struct {
	trigger *services.TriggerService
	logger  *logger.Logger
}

func NewWebhookHandler(trigger *services.TriggerService, logger *logger.Logger) *WebhookHandler {
	return &WebhookHandler{trigger: trigger, logger: logger}
}

func (h *WebhookHandler) Handle(c *fiber.Ctx) error {
	platform := c.Params("platform")
	if err := h.trigger.CheckPlatform(platform); err != nil {
		return c.Status(webhookStatus(err)).JSON(dto.ErrorResponse{Error: err.Error()})
	}

	headers := http.Header{}
	c.Request().Header.VisitAll(func(k, v []byte) {
		headers.Add(string(k), string(v))
	})
	// fasthttp reuses the request buffer after the handler returns.
	body := append([]byte(nil), c.Body()...)

	payload, err := decodePayload(c, body)
	if err != nil {
		h.logger.Warnw("webhook_payload_decode_failed", "platform", platform, "error", err)
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid payload"})
	}

	res := h.trigger.HandleWebhook(c.UserContext(), services.WebhookRequest{
		Platform: platform,
		Headers:  headers,
		Body:     body,
		Payload:  payload,
	})

	if res.Err != nil {
		return c.Status(webhookStatus(res.Err)).JSON(dto.ErrorResponse{Error: res.Err.Error()})
	}
	if res.Challenge != "" {
		return c.JSON(fiber.Map{"challenge": res.Challenge})
	}
	out := fiber.Map{"status": "ok"}
	if res.Message != "" {
		out["message"] = res.Message
	}
	if res.TaskID != "" {
		out["task_id"] = res.TaskID
		out["task_status"] = res.Status
	}
	if res.Action != "" {
		out["action"] = res.Action
	}
	return c.JSON(out)
}

// decodePayload parses a JSON or form body. Slack interactive callbacks
// arrive as a form whose single "payload" field holds the JSON document.
func decodePayload(c *fiber.Ctx, body []byte) (map[string]interface{}, error) {
	payload := map[string]interface{}{}
	if len(body) == 0 {
		return payload, nil
	}
	if strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEApplicationForm) {
		c.Request().PostArgs().VisitAll(func(k, v []byte) {
			payload[string(k)] = string(v)
		})
		if raw, ok := payload["payload"].(string); ok && raw != "" {
			inner := map[string]interface{}{}
			if err := json.Unmarshal([]byte(raw), &inner); err != nil {
				return nil, err
			}
			return inner, nil
		}
		return payload, nil
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func webhookStatus(err error) int {
	switch {
	case errors.Is(err, services.ErrWebhookRejected):
		return fiber.StatusUnauthorized
	case errors.Is(err, services.ErrPlatformNotEnabled):
		return fiber.StatusNotFound
	case errors.Is(err, services.ErrPlatformNotImplemented):
		return fiber.StatusNotImplemented
	case errors.Is(err, services.ErrTaskNotStaged), errors.Is(err, services.ErrTaskConflict):
		return fiber.StatusConflict
	case errors.Is(err, services.ErrQuotaExceeded):
		return fiber.StatusTooManyRequests
	case errors.Is(err, services.ErrTaskNotFound):
		return fiber.StatusNotFound
	default:
		return fiber.StatusBadRequest
	}
}
