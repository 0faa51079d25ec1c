package platforms

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/nightshift/backend/internal/config"
	"github.com/nightshift/backend/internal/core/services"
	"github.com/nightshift/backend/internal/domain"
	"github.com/nightshift/backend/internal/infrastructure/logger"
)

const telegramSecretHeader = "X-Telegram-Bot-Api-Secret-Token"

// TelegramHandler receives Bot API webhook updates. It has no rich approval
// format, so staged tasks are announced with the plain-text prompt.
type TelegramHandler struct {
	auth   *services.Authenticator
	api    *apiClient
	logger *logger.Logger
}

func NewTelegramHandler(cfg config.TelegramConfig, auth *services.Authenticator, client *http.Client, log *logger.Logger) *TelegramHandler {
	base := cfg.APIBase
	if base == "" {
		base = "https://api.telegram.org"
	}
	return &TelegramHandler{
		auth:   auth,
		api:    newAPIClient(strings.TrimRight(base, "/")+"/bot"+cfg.BotToken, client),
		logger: log,
	}
}

func (h *TelegramHandler) Name() domain.Platform { return domain.PlatformTelegram }

func (h *TelegramHandler) ValidateWebhook(headers http.Header, body []byte) error {
	res := h.auth.Authenticate(services.Credentials{
		Platform:  string(domain.PlatformTelegram),
		Signature: headers.Get(telegramSecretHeader),
		Body:      body,
	}, services.AuthMethodPlatformSignature)
	if !res.Success {
		return res.Err
	}
	return nil
}

func (h *TelegramHandler) ParseWebhook(payload map[string]interface{}) (*domain.PlatformMessage, error) {
	if cq, ok := payload["callback_query"].(map[string]interface{}); ok {
		return h.parseCallback(cq), nil
	}
	msg, ok := payload["message"].(map[string]interface{})
	if !ok {
		return nil, nil
	}
	from, _ := msg["from"].(map[string]interface{})
	if isBot, _ := from["is_bot"].(bool); isBot {
		return nil, nil
	}
	chat, _ := msg["chat"].(map[string]interface{})
	text := strings.TrimSpace(str(msg, "text"))
	if text == "" {
		return nil, nil
	}

	msgType := domain.MessageTypeText
	if cmd, rest, isCmd := splitBotCommand(text); isCmd {
		switch cmd {
		case "/nightshift", "/task":
			msgType, text = domain.MessageTypeCommand, rest
			if strings.HasPrefix(strings.ToLower(rest), "status") {
				msgType = domain.MessageTypeStatusRequest
			}
		case "/status":
			msgType, text = domain.MessageTypeStatusRequest, strings.TrimSpace("status "+rest)
		case "/approve":
			msgType, text = domain.MessageTypeInteractive, domain.ActionApproveTask+":"+rest
		case "/cancel":
			msgType, text = domain.MessageTypeInteractive, domain.ActionCancelTask+":"+rest
		}
	}

	return &domain.PlatformMessage{
		Platform:  domain.PlatformTelegram,
		UserID:    str(from, "id"),
		Type:      msgType,
		Text:      text,
		ChannelID: str(chat, "id"),
		ThreadID:  str(msg, "message_thread_id"),
		Metadata: map[string]string{
			"message_id": str(msg, "message_id"),
			"user_name":  str(from, "username"),
		},
	}, nil
}

// splitBotCommand splits "/cmd@botname rest" into ("/cmd", "rest").
func splitBotCommand(text string) (string, string, bool) {
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	cmd, rest, _ := strings.Cut(text, " ")
	if at := strings.IndexByte(cmd, '@'); at > 0 {
		cmd = cmd[:at]
	}
	return strings.ToLower(cmd), strings.TrimSpace(rest), true
}

func (h *TelegramHandler) parseCallback(cq map[string]interface{}) *domain.PlatformMessage {
	from, _ := cq["from"].(map[string]interface{})
	msg, _ := cq["message"].(map[string]interface{})
	chat, _ := msg["chat"].(map[string]interface{})
	return &domain.PlatformMessage{
		Platform:  domain.PlatformTelegram,
		UserID:    str(from, "id"),
		Type:      domain.MessageTypeInteractive,
		Text:      str(cq, "data"),
		ChannelID: str(chat, "id"),
		ThreadID:  str(msg, "message_thread_id"),
		Metadata: map[string]string{
			"callback_query_id": str(cq, "id"),
			"user_name":         str(from, "username"),
		},
	}
}

func (h *TelegramHandler) SendMessage(ctx context.Context, resp domain.PlatformResponse) error {
	body := map[string]interface{}{
		"chat_id": resp.ChannelID,
		"text":    resp.Text,
	}
	if resp.ThreadID != "" {
		body["message_thread_id"] = resp.ThreadID
	}
	return h.call(ctx, "sendMessage", body)
}

func (h *TelegramHandler) SendInteractive(ctx context.Context, channelID, text string, actions []domain.Action, threadID string) error {
	row := make([]map[string]string, 0, len(actions))
	for _, a := range actions {
		row = append(row, map[string]string{
			"text":          a.Label,
			"callback_data": a.ID + ":" + a.Value,
		})
	}
	body := map[string]interface{}{
		"chat_id":      channelID,
		"text":         text,
		"reply_markup": map[string]interface{}{"inline_keyboard": [][]map[string]string{row}},
	}
	if threadID != "" {
		body["message_thread_id"] = threadID
	}
	return h.call(ctx, "sendMessage", body)
}

func (h *TelegramHandler) call(ctx context.Context, method string, body map[string]interface{}) error {
	var out struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	if err := h.api.postJSON(ctx, "/"+method, nil, body, &out); err != nil {
		h.logger.Warnw("telegram_api_call_failed", "method", method, "error", err)
		return err
	}
	if !out.OK {
		return fmt.Errorf("telegram: %s: %s", method, out.Description)
	}
	return nil
}
