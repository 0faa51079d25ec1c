package services

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"sync"
	"testing"

	"github.com/nightshift/backend/internal/core/ports"
	"github.com/nightshift/backend/internal/domain"
	"github.com/nightshift/backend/internal/infrastructure/db"
	"github.com/nightshift/backend/internal/infrastructure/logger"
)

type fixture struct {
	queue   *TaskQueueService
	users   *UserMapperService
	planner *fakePlanner
	exec    *fakeExecutor
	handler *fakeHandler
	trigger *TriggerService
}

func newFixture(t *testing.T, enforceQuotas bool) *fixture {
	t.Helper()
	database, err := db.NewSQLiteConnection(filepath.Join(t.TempDir(), "nightshift.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.RunMigrations(database); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { db.Close(database) })

	log := logger.NewNop()
	f := &fixture{
		queue: NewTaskQueueService(TaskQueueServiceConfig{
			Repository: db.NewTaskRepository(database, log),
			Logger:     log,
		}),
		users: NewUserMapperService(UserMapperServiceConfig{
			Repository: db.NewUserRepository(database, log),
			Logger:     log,
		}),
		planner: &fakePlanner{},
		handler: &fakeHandler{platform: domain.PlatformSlack},
	}
	f.exec = &fakeExecutor{queue: f.queue, success: true}
	f.trigger = NewTriggerService(TriggerServiceConfig{
		Queue:         f.queue,
		Users:         f.users,
		Planner:       f.planner,
		Executor:      f.exec,
		Handlers:      []ports.PlatformHandler{f.handler},
		Logger:        log,
		EnforceQuotas: enforceQuotas,
	})
	return f
}

type fakePlanner struct {
	err error
}

func (p *fakePlanner) PlanTask(_ context.Context, description string) (*domain.TaskPlan, error) {
	if p.err != nil {
		return nil, p.err
	}
	return &domain.TaskPlan{
		EnhancedPrompt:  description,
		AllowedTools:    []string{"Read", "Write"},
		SystemPrompt:    "be careful",
		EstimatedTokens: 1000,
		EstimatedTime:   60,
	}, nil
}

// fakeExecutor drives the queue through RUNNING to a terminal state the
// same way the real execution manager does.
type fakeExecutor struct {
	queue   *TaskQueueService
	success bool

	mu    sync.Mutex
	calls []string
}

func (e *fakeExecutor) ExecuteTask(ctx context.Context, task *domain.Task) (*domain.ExecutionResult, error) {
	e.mu.Lock()
	e.calls = append(e.calls, task.TaskID)
	e.mu.Unlock()

	ok, err := e.queue.MarkRunning(ctx, task.TaskID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.New("not runnable")
	}
	elapsed := 1.5
	if !e.success {
		if _, err := e.queue.Fail(ctx, task.TaskID, "boom", &elapsed); err != nil {
			return nil, err
		}
		return &domain.ExecutionResult{TaskID: task.TaskID, ErrorMessage: "boom", ExecutionTime: &elapsed}, nil
	}
	tokens := 42
	path := "/tmp/" + task.TaskID + "_output.json"
	if _, err := e.queue.Complete(ctx, task.TaskID, CompletionInput{ResultPath: path, TokenUsage: &tokens, ExecutionTime: &elapsed}); err != nil {
		return nil, err
	}
	return &domain.ExecutionResult{TaskID: task.TaskID, Success: true, OutputPath: path, TokenUsage: &tokens, ExecutionTime: &elapsed}, nil
}

func (e *fakeExecutor) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

// fakeHandler treats payloads as already-normalised messages:
// {"type": ..., "text": ..., "user": ..., "channel": ...}.
type fakeHandler struct {
	platform    domain.Platform
	validateErr error
	sendErr     error

	mu   sync.Mutex
	sent []domain.PlatformResponse
}

func (h *fakeHandler) Name() domain.Platform { return h.platform }

func (h *fakeHandler) ValidateWebhook(http.Header, []byte) error { return h.validateErr }

func (h *fakeHandler) ParseWebhook(payload map[string]interface{}) (*domain.PlatformMessage, error) {
	if _, ok := payload["ignore"]; ok {
		return nil, nil
	}
	typ, _ := payload["type"].(string)
	if typ == "" {
		return nil, errors.New("missing type")
	}
	text, _ := payload["text"].(string)
	user, _ := payload["user"].(string)
	channel, _ := payload["channel"].(string)
	return &domain.PlatformMessage{
		Platform:  h.platform,
		UserID:    user,
		Type:      domain.MessageType(typ),
		Text:      text,
		ChannelID: channel,
	}, nil
}

func (h *fakeHandler) SendMessage(_ context.Context, resp domain.PlatformResponse) error {
	h.mu.Lock()
	h.sent = append(h.sent, resp)
	h.mu.Unlock()
	return h.sendErr
}

func (h *fakeHandler) SendInteractive(ctx context.Context, channelID, text string, _ []domain.Action, threadID string) error {
	return h.SendMessage(ctx, domain.PlatformResponse{ChannelID: channelID, Text: text, ThreadID: threadID})
}

func (h *fakeHandler) texts() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.sent))
	for i, r := range h.sent {
		out[i] = r.Text
	}
	return out
}

func (h *fakeHandler) last() string {
	texts := h.texts()
	if len(texts) == 0 {
		return ""
	}
	return texts[len(texts)-1]
}
