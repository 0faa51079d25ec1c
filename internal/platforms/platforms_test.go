package platforms

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/nightshift/backend/internal/config"
	"github.com/nightshift/backend/internal/core/services"
	"github.com/nightshift/backend/internal/domain"
	"github.com/nightshift/backend/internal/infrastructure/logger"
)

type apiCall struct {
	Path string
	Auth string
	Body map[string]interface{}
}

// fakeAPI records every POST and answers with reply.
type fakeAPI struct {
	mu    sync.Mutex
	calls []apiCall
	reply string
}

func newFakeAPI(t *testing.T, reply string) (*fakeAPI, *httptest.Server) {
	t.Helper()
	api := &fakeAPI{reply: reply}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		api.mu.Lock()
		api.calls = append(api.calls, apiCall{Path: r.URL.Path, Auth: r.Header.Get("Authorization"), Body: body})
		api.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(api.reply))
	}))
	t.Cleanup(srv.Close)
	return api, srv
}

func (a *fakeAPI) only(t *testing.T) apiCall {
	t.Helper()
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.calls) != 1 {
		t.Fatalf("api calls = %+v", a.calls)
	}
	return a.calls[0]
}

var fixedNow = time.Unix(1_700_000_000, 0)

func testAuth() *services.Authenticator {
	return services.NewAuthenticator(services.AuthenticatorConfig{
		Auth: config.AuthConfig{PlatformSecrets: map[string]string{
			"slack":    "slack-secret",
			"telegram": "tg-secret",
		}},
		Logger: logger.NewNop(),
		Now:    func() time.Time { return fixedNow },
	})
}

func TestSlackValidateWebhook(t *testing.T) {
	t.Parallel()
	h := NewSlackHandler(config.SlackConfig{}, testAuth(), nil, logger.NewNop())
	body := []byte("command=%2Fnightshift&text=hello")
	ts := strconv.FormatInt(fixedNow.Unix(), 10)

	headers := http.Header{}
	headers.Set("X-Slack-Request-Timestamp", ts)
	headers.Set("X-Slack-Signature", services.SlackSignature("slack-secret", ts, body))
	if err := h.ValidateWebhook(headers, body); err != nil {
		t.Fatalf("valid request rejected: %v", err)
	}

	headers.Set("X-Slack-Signature", services.SlackSignature("wrong", ts, body))
	if err := h.ValidateWebhook(headers, body); !errors.Is(err, services.ErrAuthInvalidSignature) {
		t.Fatalf("forged request err = %v", err)
	}
	if err := h.ValidateWebhook(http.Header{}, body); !errors.Is(err, services.ErrAuthMissingCredentials) {
		t.Fatalf("unsigned request err = %v", err)
	}
}

func TestSlackParseWebhook(t *testing.T) {
	t.Parallel()
	h := NewSlackHandler(config.SlackConfig{}, testAuth(), nil, logger.NewNop())

	msg, err := h.ParseWebhook(map[string]interface{}{
		"command": "/nightshift", "text": " summarize repo X ", "user_id": "U1", "channel_id": "C1", "user_name": "alice",
	})
	if err != nil || msg == nil {
		t.Fatalf("slash command = %v, %v", msg, err)
	}
	if msg.Type != domain.MessageTypeCommand || msg.Text != "summarize repo X" || msg.UserID != "U1" || msg.ChannelID != "C1" {
		t.Fatalf("slash command = %+v", msg)
	}
	if msg.Metadata["user_name"] != "alice" {
		t.Fatalf("metadata = %v", msg.Metadata)
	}

	msg, _ = h.ParseWebhook(map[string]interface{}{"command": "/nightshift", "text": "status task_1", "user_id": "U1"})
	if msg.Type != domain.MessageTypeStatusRequest {
		t.Fatalf("status command type = %s", msg.Type)
	}

	msg, err = h.ParseWebhook(map[string]interface{}{
		"type":    "block_actions",
		"user":    map[string]interface{}{"id": "U2", "username": "bob"},
		"channel": map[string]interface{}{"id": "C2"},
		"message": map[string]interface{}{"ts": "111.222", "thread_ts": "100.000"},
		"actions": []interface{}{map[string]interface{}{"action_id": "approve_task", "value": "task_abc"}},
	})
	if err != nil || msg.Type != domain.MessageTypeInteractive || msg.Text != "approve_task:task_abc" || msg.ThreadID != "100.000" {
		t.Fatalf("block action = %+v, %v", msg, err)
	}

	if _, err := h.ParseWebhook(map[string]interface{}{"type": "block_actions"}); err == nil {
		t.Fatal("block_actions without actions accepted")
	}

	msg, err = h.ParseWebhook(map[string]interface{}{
		"type":  "event_callback",
		"event": map[string]interface{}{"type": "app_mention", "text": "<@UBOT> write tests", "user": "U3", "channel": "C3", "ts": "5.5"},
	})
	if err != nil || msg.Type != domain.MessageTypeText || msg.Text != "write tests" || msg.ThreadID != "5.5" {
		t.Fatalf("mention = %+v, %v", msg, err)
	}

	ignored := []map[string]interface{}{
		{"type": "event_callback", "event": map[string]interface{}{"type": "app_mention", "bot_id": "B1", "text": "echo"}},
		{"type": "event_callback", "event": map[string]interface{}{"type": "reaction_added"}},
		{"command": "/other"},
		{},
	}
	for _, p := range ignored {
		if msg, err := h.ParseWebhook(p); msg != nil || err != nil {
			t.Errorf("%v: %+v, %v", p, msg, err)
		}
	}
}

func TestSlackSendMessage(t *testing.T) {
	t.Parallel()
	api, srv := newFakeAPI(t, `{"ok":true}`)
	h := NewSlackHandler(config.SlackConfig{BotToken: "xoxb-1", APIBase: srv.URL}, testAuth(), srv.Client(), logger.NewNop())

	err := h.SendMessage(context.Background(), domain.PlatformResponse{ChannelID: "C1", Text: "hi", ThreadID: "1.2"})
	if err != nil {
		t.Fatal(err)
	}
	call := api.only(t)
	if call.Path != "/chat.postMessage" || call.Auth != "Bearer xoxb-1" {
		t.Fatalf("call = %+v", call)
	}
	if call.Body["channel"] != "C1" || call.Body["text"] != "hi" || call.Body["thread_ts"] != "1.2" {
		t.Fatalf("body = %v", call.Body)
	}
}

func TestSlackSendReportsAPIError(t *testing.T) {
	t.Parallel()
	_, srv := newFakeAPI(t, `{"ok":false,"error":"channel_not_found"}`)
	h := NewSlackHandler(config.SlackConfig{BotToken: "xoxb-1", APIBase: srv.URL}, testAuth(), srv.Client(), logger.NewNop())
	if err := h.SendEphemeral(context.Background(), "C1", "U1", "psst"); err == nil {
		t.Fatal("api error swallowed")
	}
}

func TestSlackUpdateMessage(t *testing.T) {
	t.Parallel()
	api, srv := newFakeAPI(t, `{"ok":true}`)
	h := NewSlackHandler(config.SlackConfig{BotToken: "xoxb-1", APIBase: srv.URL}, testAuth(), srv.Client(), logger.NewNop())

	if err := h.UpdateMessage(context.Background(), "C1", "1.2", "Task approved", nil); err != nil {
		t.Fatal(err)
	}
	call := api.only(t)
	if call.Path != "/chat.update" || call.Body["ts"] != "1.2" || call.Body["text"] != "Task approved" {
		t.Fatalf("call = %+v", call)
	}
	if _, ok := call.Body["blocks"]; ok {
		t.Fatal("empty blocks sent")
	}
}

func TestSlackFormatTaskSubmission(t *testing.T) {
	t.Parallel()
	h := NewSlackHandler(config.SlackConfig{}, testAuth(), nil, logger.NewNop())
	tokens, secs := 1200, 90
	resp := h.FormatTaskSubmission(&domain.Task{TaskID: "task_1", Description: "d", EstimatedTokens: &tokens, EstimatedTime: &secs}, "C1", "")

	if resp.ChannelID != "C1" || len(resp.Blocks) != 4 {
		t.Fatalf("resp = %+v", resp)
	}
	actions := resp.Blocks[3]["elements"].([]map[string]interface{})
	if len(actions) != 2 || actions[0]["action_id"] != domain.ActionApproveTask || actions[0]["value"] != "task_1" {
		t.Fatalf("actions = %v", actions)
	}
}

func TestTelegramParseWebhook(t *testing.T) {
	t.Parallel()
	h := NewTelegramHandler(config.TelegramConfig{}, testAuth(), nil, logger.NewNop())
	message := func(text string) map[string]interface{} {
		return map[string]interface{}{"message": map[string]interface{}{
			"message_id": float64(9),
			"text":       text,
			"from":       map[string]interface{}{"id": float64(4242), "username": "tg"},
			"chat":       map[string]interface{}{"id": float64(-100)},
		}}
	}

	cases := []struct {
		text     string
		wantType domain.MessageType
		wantText string
	}{
		{"/nightshift refactor x", domain.MessageTypeCommand, "refactor x"},
		{"/nightshift@nightshift_bot status task_1", domain.MessageTypeStatusRequest, "status task_1"},
		{"/status task_1", domain.MessageTypeStatusRequest, "status task_1"},
		{"/approve task_1", domain.MessageTypeInteractive, "approve_task:task_1"},
		{"/cancel task_1", domain.MessageTypeInteractive, "cancel_task:task_1"},
		{"just chatting", domain.MessageTypeText, "just chatting"},
	}
	for _, tc := range cases {
		msg, err := h.ParseWebhook(message(tc.text))
		if err != nil || msg == nil {
			t.Fatalf("%q: %v, %v", tc.text, msg, err)
		}
		if msg.Type != tc.wantType || msg.Text != tc.wantText {
			t.Errorf("%q: %s %q", tc.text, msg.Type, msg.Text)
		}
		if msg.UserID != "4242" || msg.ChannelID != "-100" {
			t.Errorf("%q: ids %q %q", tc.text, msg.UserID, msg.ChannelID)
		}
	}

	msg, _ := h.ParseWebhook(map[string]interface{}{"callback_query": map[string]interface{}{
		"id": "cb1", "data": "approve_task:task_2",
		"from":    map[string]interface{}{"id": float64(1)},
		"message": map[string]interface{}{"chat": map[string]interface{}{"id": float64(2)}},
	}})
	if msg == nil || msg.Type != domain.MessageTypeInteractive || msg.Text != "approve_task:task_2" || msg.ChannelID != "2" {
		t.Fatalf("callback = %+v", msg)
	}

	bot := map[string]interface{}{"message": map[string]interface{}{
		"text": "hello", "from": map[string]interface{}{"id": float64(1), "is_bot": true},
	}}
	for _, p := range []map[string]interface{}{bot, {"edited_message": map[string]interface{}{}}, message("  ")} {
		if msg, err := h.ParseWebhook(p); msg != nil || err != nil {
			t.Errorf("%v: %+v, %v", p, msg, err)
		}
	}
}

func TestTelegramValidateAndSend(t *testing.T) {
	t.Parallel()
	api, srv := newFakeAPI(t, `{"ok":true,"result":{}}`)
	h := NewTelegramHandler(config.TelegramConfig{BotToken: "123:abc", APIBase: srv.URL}, testAuth(), srv.Client(), logger.NewNop())

	headers := http.Header{}
	headers.Set("X-Telegram-Bot-Api-Secret-Token", "tg-secret")
	if err := h.ValidateWebhook(headers, nil); err != nil {
		t.Fatalf("valid token rejected: %v", err)
	}
	headers.Set("X-Telegram-Bot-Api-Secret-Token", "nope")
	if err := h.ValidateWebhook(headers, nil); err == nil {
		t.Fatal("wrong token accepted")
	}

	err := h.SendInteractive(context.Background(), "-100", "Approve?", []domain.Action{
		{ID: domain.ActionApproveTask, Label: "Approve", Value: "task_1"},
	}, "")
	if err != nil {
		t.Fatal(err)
	}
	call := api.only(t)
	if call.Path != "/bot123:abc/sendMessage" || call.Body["chat_id"] != "-100" {
		t.Fatalf("call = %+v", call)
	}
	markup := call.Body["reply_markup"].(map[string]interface{})
	row := markup["inline_keyboard"].([]interface{})[0].([]interface{})
	if row[0].(map[string]interface{})["callback_data"] != "approve_task:task_1" {
		t.Fatalf("keyboard = %v", markup)
	}
}

func TestRegistry(t *testing.T) {
	t.Parallel()
	cfg := config.PlatformsConfig{
		Slack:    config.SlackConfig{Enabled: true},
		Telegram: config.TelegramConfig{Enabled: false},
	}
	handlers, err := Enabled(cfg, testAuth(), logger.NewNop())
	if err != nil || len(handlers) != 1 || handlers[0].Name() != domain.PlatformSlack {
		t.Fatalf("enabled = %v, %v", handlers, err)
	}
	if _, err := New(domain.PlatformDiscord, cfg, testAuth(), nil, logger.NewNop()); !errors.Is(err, services.ErrPlatformNotImplemented) {
		t.Fatalf("discord err = %v", err)
	}
	if _, err := New("irc", cfg, testAuth(), nil, logger.NewNop()); err == nil {
		t.Fatal("unknown platform built")
	}
}
