package ports

import (
	"context"
	"net/http"

	"github.com/nightshift/backend/internal/domain"
)

// Planner turns a free-text description into a task plan.
type Planner interface {
	PlanTask(ctx context.Context, description string) (*domain.TaskPlan, error)
}

// Executor runs an approved task to a terminal state.
type Executor interface {
	ExecuteTask(ctx context.Context, task *domain.Task) (*domain.ExecutionResult, error)
}

// PlatformHandler is implemented once per messaging platform.
type PlatformHandler interface {
	Name() domain.Platform
	ValidateWebhook(headers http.Header, body []byte) error
	// ParseWebhook returns nil, nil for payloads that are deliberately ignored.
	ParseWebhook(payload map[string]interface{}) (*domain.PlatformMessage, error)
	SendMessage(ctx context.Context, resp domain.PlatformResponse) error
	SendInteractive(ctx context.Context, channelID, text string, actions []domain.Action, threadID string) error
}

// ApprovalFormatter is implemented by platforms that can render a rich
// approval prompt for a freshly staged task.
type ApprovalFormatter interface {
	FormatTaskSubmission(task *domain.Task, channelID, threadID string) domain.PlatformResponse
}
