package platforms

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/nightshift/backend/internal/config"
	"github.com/nightshift/backend/internal/core/services"
	"github.com/nightshift/backend/internal/domain"
	"github.com/nightshift/backend/internal/infrastructure/logger"
)

const (
	slackSignatureHeader = "X-Slack-Signature"
	slackTimestampHeader = "X-Slack-Request-Timestamp"
	slackSlashCommand    = "/nightshift"
)

var slackMentionRe = regexp.MustCompile(`<@[^>]+>`)

type SlackHandler struct {
	botToken string
	auth     *services.Authenticator
	api      *apiClient
	logger   *logger.Logger
}

func NewSlackHandler(cfg config.SlackConfig, auth *services.Authenticator, client *http.Client, log *logger.Logger) *SlackHandler {
	base := cfg.APIBase
	if base == "" {
		base = "https://slack.com/api"
	}
	return &SlackHandler{
		botToken: cfg.BotToken,
		auth:     auth,
		api:      newAPIClient(strings.TrimRight(base, "/"), client),
		logger:   log,
	}
}

func (h *SlackHandler) Name() domain.Platform { return domain.PlatformSlack }

func (h *SlackHandler) ValidateWebhook(headers http.Header, body []byte) error {
	res := h.auth.Authenticate(services.Credentials{
		Platform:  string(domain.PlatformSlack),
		Signature: headers.Get(slackSignatureHeader),
		Timestamp: headers.Get(slackTimestampHeader),
		Body:      body,
	}, services.AuthMethodPlatformSignature)
	if !res.Success {
		return res.Err
	}
	return nil
}

// ParseWebhook understands slash commands, block actions and app mentions.
// Anything else, including url_verification and bot echoes, yields nil.
func (h *SlackHandler) ParseWebhook(payload map[string]interface{}) (*domain.PlatformMessage, error) {
	if str(payload, "command") == slackSlashCommand {
		return h.parseSlashCommand(payload), nil
	}

	switch str(payload, "type") {
	case "block_actions":
		return h.parseBlockActions(payload)
	case "event_callback":
		event, _ := payload["event"].(map[string]interface{})
		if event == nil {
			return nil, fmt.Errorf("slack: event_callback without event")
		}
		return h.parseEvent(event), nil
	}
	return nil, nil
}

func (h *SlackHandler) parseSlashCommand(payload map[string]interface{}) *domain.PlatformMessage {
	text := strings.TrimSpace(str(payload, "text"))
	msgType := domain.MessageTypeCommand
	if strings.HasPrefix(strings.ToLower(text), "status") {
		msgType = domain.MessageTypeStatusRequest
	}
	return &domain.PlatformMessage{
		Platform:  domain.PlatformSlack,
		UserID:    str(payload, "user_id"),
		Type:      msgType,
		Text:      text,
		ChannelID: str(payload, "channel_id"),
		Metadata: map[string]string{
			"response_url": str(payload, "response_url"),
			"team_id":      str(payload, "team_id"),
			"trigger_id":   str(payload, "trigger_id"),
			"user_name":    str(payload, "user_name"),
		},
	}
}

func (h *SlackHandler) parseBlockActions(payload map[string]interface{}) (*domain.PlatformMessage, error) {
	actions, _ := payload["actions"].([]interface{})
	if len(actions) == 0 {
		return nil, fmt.Errorf("slack: block_actions without actions")
	}
	action, _ := actions[0].(map[string]interface{})
	user, _ := payload["user"].(map[string]interface{})
	channel, _ := payload["channel"].(map[string]interface{})
	message, _ := payload["message"].(map[string]interface{})
	container, _ := payload["container"].(map[string]interface{})

	threadID := str(message, "thread_ts")
	if threadID == "" {
		threadID = str(container, "thread_ts")
	}
	return &domain.PlatformMessage{
		Platform:  domain.PlatformSlack,
		UserID:    str(user, "id"),
		Type:      domain.MessageTypeInteractive,
		Text:      str(action, "action_id") + ":" + str(action, "value"),
		ChannelID: str(channel, "id"),
		ThreadID:  threadID,
		Metadata: map[string]string{
			"response_url": str(payload, "response_url"),
			"trigger_id":   str(payload, "trigger_id"),
			"message_ts":   str(message, "ts"),
			"user_name":    str(user, "username"),
		},
	}, nil
}

func (h *SlackHandler) parseEvent(event map[string]interface{}) *domain.PlatformMessage {
	if str(event, "type") != "app_mention" || str(event, "bot_id") != "" {
		return nil
	}
	text := strings.TrimSpace(slackMentionRe.ReplaceAllString(str(event, "text"), ""))
	threadID := str(event, "thread_ts")
	if threadID == "" {
		threadID = str(event, "ts")
	}
	return &domain.PlatformMessage{
		Platform:  domain.PlatformSlack,
		UserID:    str(event, "user"),
		Type:      domain.MessageTypeText,
		Text:      text,
		ChannelID: str(event, "channel"),
		ThreadID:  threadID,
		Metadata: map[string]string{
			"event_ts": str(event, "event_ts"),
		},
	}
}

func (h *SlackHandler) SendMessage(ctx context.Context, resp domain.PlatformResponse) error {
	body := map[string]interface{}{
		"channel": resp.ChannelID,
		"text":    resp.Text,
	}
	if resp.ThreadID != "" {
		body["thread_ts"] = resp.ThreadID
	}
	if len(resp.Blocks) > 0 {
		body["blocks"] = resp.Blocks
	}
	method := "chat.postMessage"
	if resp.Ephemeral {
		method = "chat.postEphemeral"
		body["user"] = resp.UserID
	}
	return h.call(ctx, method, body)
}

func (h *SlackHandler) SendInteractive(ctx context.Context, channelID, text string, actions []domain.Action, threadID string) error {
	return h.SendMessage(ctx, domain.PlatformResponse{
		ChannelID: channelID,
		Text:      text,
		ThreadID:  threadID,
		Blocks: []map[string]interface{}{
			slackSection(text),
			slackActions(actions),
		},
	})
}

// SendEphemeral posts a message visible only to userID.
func (h *SlackHandler) SendEphemeral(ctx context.Context, channelID, userID, text string) error {
	return h.SendMessage(ctx, domain.PlatformResponse{ChannelID: channelID, UserID: userID, Text: text, Ephemeral: true})
}

// UpdateMessage replaces the text and blocks of a posted message.
func (h *SlackHandler) UpdateMessage(ctx context.Context, channelID, ts, text string, blocks []map[string]interface{}) error {
	body := map[string]interface{}{"channel": channelID, "ts": ts, "text": text}
	if len(blocks) > 0 {
		body["blocks"] = blocks
	}
	return h.call(ctx, "chat.update", body)
}

func (h *SlackHandler) call(ctx context.Context, method string, body map[string]interface{}) error {
	var out struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
	}
	headers := map[string]string{"Authorization": "Bearer " + h.botToken}
	if err := h.api.postJSON(ctx, "/"+method, headers, body, &out); err != nil {
		h.logger.Warnw("slack_api_call_failed", "method", method, "error", err)
		return err
	}
	if !out.OK {
		h.logger.Warnw("slack_api_error", "method", method, "error", out.Error)
		return fmt.Errorf("slack: %s: %s", method, out.Error)
	}
	return nil
}

// FormatTaskSubmission renders the approval prompt with approve and cancel
// buttons.
func (h *SlackHandler) FormatTaskSubmission(task *domain.Task, channelID, threadID string) domain.PlatformResponse {
	tokens, secs := 0, 0
	if task.EstimatedTokens != nil {
		tokens = *task.EstimatedTokens
	}
	if task.EstimatedTime != nil {
		secs = *task.EstimatedTime
	}
	return domain.PlatformResponse{
		ChannelID: channelID,
		ThreadID:  threadID,
		Text:      fmt.Sprintf("Task %s created", task.TaskID),
		Blocks: []map[string]interface{}{
			{
				"type": "header",
				"text": map[string]interface{}{"type": "plain_text", "text": "Task Created: " + task.TaskID},
			},
			slackSection("*Description:*\n" + task.Description),
			{
				"type": "section",
				"fields": []map[string]interface{}{
					{"type": "mrkdwn", "text": fmt.Sprintf("*Estimated Tokens:*\n~%d", tokens)},
					{"type": "mrkdwn", "text": fmt.Sprintf("*Estimated Time:*\n~%ds", secs)},
				},
			},
			slackActions([]domain.Action{
				{ID: domain.ActionApproveTask, Label: "Approve & Execute", Value: task.TaskID, Style: "primary"},
				{ID: domain.ActionCancelTask, Label: "Cancel", Value: task.TaskID, Style: "danger"},
			}),
		},
	}
}

func slackSection(text string) map[string]interface{} {
	return map[string]interface{}{
		"type": "section",
		"text": map[string]interface{}{"type": "mrkdwn", "text": text},
	}
}

func slackActions(actions []domain.Action) map[string]interface{} {
	elements := make([]map[string]interface{}, 0, len(actions))
	for _, a := range actions {
		el := map[string]interface{}{
			"type":      "button",
			"text":      map[string]interface{}{"type": "plain_text", "text": a.Label},
			"action_id": a.ID,
			"value":     a.Value,
		}
		if a.Style != "" {
			el["style"] = a.Style
		}
		elements = append(elements, el)
	}
	return map[string]interface{}{"type": "actions", "elements": elements}
}
