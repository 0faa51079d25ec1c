package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/nightshift/backend/internal/core/ports"
	"github.com/nightshift/backend/internal/domain"
	"github.com/nightshift/backend/internal/infrastructure/logger"
)

// TriggerService is the single entry point for inbound platform messages.
// It authenticates, resolves the sender, and drives task transitions.
type TriggerService struct {
	queue         *TaskQueueService
	users         *UserMapperService
	planner       ports.Planner
	executor      ports.Executor
	handlers      map[domain.Platform]ports.PlatformHandler
	logger        *logger.Logger
	enforceQuotas bool
}

type TriggerServiceConfig struct {
	Queue         *TaskQueueService
	Users         *UserMapperService
	Planner       ports.Planner
	Executor      ports.Executor
	Handlers      []ports.PlatformHandler
	Logger        *logger.Logger
	EnforceQuotas bool
}

func NewTriggerService(cfg TriggerServiceConfig) *TriggerService {
	handlers := make(map[domain.Platform]ports.PlatformHandler, len(cfg.Handlers))
	for _, h := range cfg.Handlers {
		handlers[h.Name()] = h
	}
	return &TriggerService{
		queue:         cfg.Queue,
		users:         cfg.Users,
		planner:       cfg.Planner,
		executor:      cfg.Executor,
		handlers:      handlers,
		logger:        cfg.Logger,
		enforceQuotas: cfg.EnforceQuotas,
	}
}

// Platforms lists the platforms with an enabled handler.
func (s *TriggerService) Platforms() []string {
	out := make([]string, 0, len(s.handlers))
	for _, p := range []domain.Platform{domain.PlatformSlack, domain.PlatformTelegram, domain.PlatformWhatsApp, domain.PlatformDiscord} {
		if _, ok := s.handlers[p]; ok {
			out = append(out, string(p))
		}
	}
	return out
}

type WebhookRequest struct {
	Platform string
	Headers  http.Header
	Body     []byte
	Payload  map[string]interface{}
}

// WebhookResult is what the HTTP layer turns into a response. Err is set
// when Success is false.
type WebhookResult struct {
	Success   bool
	Challenge string
	Message   string
	TaskID    string
	Action    string
	Status    domain.TaskStatus
	Err       error
}

func failed(err error) WebhookResult {
	return WebhookResult{Err: err}
}

// CheckPlatform reports whether webhooks for name can be handled at all.
func (s *TriggerService) CheckPlatform(name string) error {
	_, err := s.handlerFor(name)
	return err
}

func (s *TriggerService) handlerFor(name string) (ports.PlatformHandler, error) {
	platform := domain.Platform(strings.ToLower(name))
	if h, ok := s.handlers[platform]; ok {
		return h, nil
	}
	if platform.Known() && !platform.Implemented() {
		return nil, fmt.Errorf("%w: %s", ErrPlatformNotImplemented, platform)
	}
	return nil, fmt.Errorf("%w: %s", ErrPlatformNotEnabled, platform)
}

func (s *TriggerService) HandleWebhook(ctx context.Context, req WebhookRequest) WebhookResult {
	handler, err := s.handlerFor(req.Platform)
	if err != nil {
		return failed(err)
	}
	platform := handler.Name()

	if err := handler.ValidateWebhook(req.Headers, req.Body); err != nil {
		s.logger.Warnw("trigger_webhook_rejected", "platform", platform, "error", err)
		return failed(fmt.Errorf("%w: %v", ErrWebhookRejected, err))
	}

	if t, _ := req.Payload["type"].(string); t == "url_verification" {
		challenge, _ := req.Payload["challenge"].(string)
		return WebhookResult{Success: true, Challenge: challenge}
	}

	msg, err := handler.ParseWebhook(req.Payload)
	if err != nil {
		s.logger.Warnw("trigger_payload_invalid", "platform", platform, "error", err)
		return failed(fmt.Errorf("%w: %v", ErrPayloadInvalid, err))
	}
	if msg == nil {
		return WebhookResult{Success: true, Message: "ignored"}
	}

	userID, err := s.users.EnsureUser(ctx, platform, msg.UserID, msg.Metadata["user_name"])
	if err != nil {
		s.logger.Errorw("trigger_user_resolve_failed", "platform", platform, "platform_user_id", msg.UserID, "error", err)
		return failed(err)
	}

	s.logger.Infow("trigger_message_received", "platform", platform, "user_id", userID, "type", msg.Type)
	return s.dispatch(ctx, handler, msg, userID)
}

func (s *TriggerService) dispatch(ctx context.Context, h ports.PlatformHandler, msg *domain.PlatformMessage, userID string) WebhookResult {
	switch msg.Type {
	case domain.MessageTypeCommand:
		return s.handleCommand(ctx, h, msg, userID)
	case domain.MessageTypeInteractive:
		return s.handleInteractive(ctx, h, msg, userID)
	case domain.MessageTypeStatusRequest:
		return s.handleStatusRequest(ctx, h, msg)
	case domain.MessageTypeText:
		return s.handleText(ctx, h, msg, userID)
	default:
		return failed(fmt.Errorf("%w: %s", ErrUnknownMessageType, msg.Type))
	}
}

// reply is best effort. A delivery failure never undoes a transition.
func (s *TriggerService) reply(ctx context.Context, h ports.PlatformHandler, msg *domain.PlatformMessage, text string) {
	s.send(ctx, h, domain.PlatformResponse{ChannelID: msg.ChannelID, Text: text, ThreadID: msg.ThreadID})
}

func (s *TriggerService) send(ctx context.Context, h ports.PlatformHandler, resp domain.PlatformResponse) {
	if err := h.SendMessage(ctx, resp); err != nil {
		s.logger.Warnw("trigger_reply_failed", "platform", h.Name(), "channel", resp.ChannelID, "error", err)
	}
}

func (s *TriggerService) handleCommand(ctx context.Context, h ports.PlatformHandler, msg *domain.PlatformMessage, userID string) WebhookResult {
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		s.reply(ctx, h, msg, "Usage: /nightshift <task description>")
		return WebhookResult{Success: true, Message: "usage"}
	}

	if err := s.CheckSubmissionQuota(ctx, userID); err != nil {
		s.reply(ctx, h, msg, "Cannot create task: "+err.Error())
		return failed(err)
	}

	s.reply(ctx, h, msg, "Planning your task...")

	task, err := s.SubmitTask(ctx, SubmitInput{Description: text, SubmittedBy: userID})
	if err != nil {
		s.logger.Errorw("trigger_command_failed", "user_id", userID, "error", err)
		s.reply(ctx, h, msg, "Error: "+err.Error())
		return failed(err)
	}

	if f, ok := h.(ports.ApprovalFormatter); ok {
		s.send(ctx, h, f.FormatTaskSubmission(task, msg.ChannelID, msg.ThreadID))
	} else {
		s.reply(ctx, h, msg, formatSubmissionText(task))
	}

	return WebhookResult{Success: true, TaskID: task.TaskID, Status: task.Status, Action: "created"}
}

// CheckSubmissionQuota applies the daily task limit when quotas are
// enforced.
func (s *TriggerService) CheckSubmissionQuota(ctx context.Context, userID string) error {
	if !s.enforceQuotas {
		return nil
	}
	quota, err := s.users.GetQuota(ctx, userID)
	if err != nil {
		return err
	}
	return s.queue.QuotaCheck(ctx, userID, quota)
}

func formatSubmissionText(task *domain.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task created: %s\n\n", task.TaskID)
	fmt.Fprintf(&b, "Description: %s\n", task.Description)
	if task.EstimatedTokens != nil && task.EstimatedTime != nil {
		fmt.Fprintf(&b, "Estimated: ~%d tokens, ~%ds\n", *task.EstimatedTokens, *task.EstimatedTime)
	}
	fmt.Fprintf(&b, "\nReply 'approve %s' to execute", task.TaskID)
	return b.String()
}

func (s *TriggerService) handleInteractive(ctx context.Context, h ports.PlatformHandler, msg *domain.PlatformMessage, userID string) WebhookResult {
	action, taskID, ok := strings.Cut(strings.TrimSpace(msg.Text), ":")
	taskID = strings.TrimSpace(taskID)
	if !ok || action == "" || taskID == "" {
		return failed(fmt.Errorf("%w: invalid action format", ErrPayloadInvalid))
	}

	task, err := s.queue.GetTask(ctx, taskID)
	if err != nil {
		if errors.Is(err, ErrTaskNotFound) {
			s.reply(ctx, h, msg, fmt.Sprintf("Task %s not found", taskID))
		}
		return failed(err)
	}

	switch action {
	case domain.ActionApproveTask:
		if task.Status != domain.TaskStatusStaged {
			s.reply(ctx, h, msg, fmt.Sprintf("Task %s is not in STAGED state (current: %s)", taskID, task.Status))
			return WebhookResult{Err: ErrTaskNotStaged, TaskID: taskID, Status: task.Status}
		}
		if s.enforceQuotas {
			quota, qerr := s.users.GetQuota(ctx, userID)
			if qerr == nil {
				qerr = s.queue.ConcurrencyCheck(ctx, userID, quota)
			}
			if qerr != nil {
				s.reply(ctx, h, msg, "Cannot execute task: "+qerr.Error())
				return WebhookResult{Err: qerr, TaskID: taskID, Status: task.Status}
			}
		}

		ok, err := s.queue.Approve(ctx, taskID)
		if err != nil {
			s.reply(ctx, h, msg, "Error: "+err.Error())
			return failed(err)
		}
		if !ok {
			s.reply(ctx, h, msg, fmt.Sprintf("Task %s was already approved or cancelled", taskID))
			return WebhookResult{Err: ErrTaskConflict, TaskID: taskID}
		}
		s.reply(ctx, h, msg, fmt.Sprintf("Executing task %s...", taskID))

		result, err := s.execute(ctx, task)
		if err != nil {
			s.reply(ctx, h, msg, fmt.Sprintf("Task %s failed: %v", taskID, err))
			return WebhookResult{Err: err, TaskID: taskID, Action: "approved"}
		}
		s.reply(ctx, h, msg, formatExecutionText(result))
		status := domain.TaskStatusCompleted
		if !result.Success {
			status = domain.TaskStatusFailed
		}
		return WebhookResult{Success: true, TaskID: taskID, Action: "approved", Status: status}

	case domain.ActionCancelTask:
		ok, err := s.queue.Cancel(ctx, taskID)
		if err != nil {
			return failed(err)
		}
		if !ok {
			s.reply(ctx, h, msg, fmt.Sprintf("Task %s can no longer be cancelled (current: %s)", taskID, task.Status))
			return WebhookResult{Err: ErrTaskConflict, TaskID: taskID, Status: task.Status}
		}
		s.reply(ctx, h, msg, fmt.Sprintf("Task %s cancelled", taskID))
		return WebhookResult{Success: true, TaskID: taskID, Action: "cancelled", Status: domain.TaskStatusCancelled}
	}

	return failed(fmt.Errorf("%w: unknown action %q", ErrPayloadInvalid, action))
}

func formatExecutionText(r *domain.ExecutionResult) string {
	if !r.Success {
		return fmt.Sprintf("Task %s failed: %s", r.TaskID, r.ErrorMessage)
	}
	tokens := "N/A"
	if r.TokenUsage != nil {
		tokens = fmt.Sprintf("%d", *r.TokenUsage)
	}
	elapsed := 0.0
	if r.ExecutionTime != nil {
		elapsed = *r.ExecutionTime
	}
	path := r.OutputPath
	if path == "" {
		path = "N/A"
	}
	return fmt.Sprintf("Task %s completed successfully!\nToken usage: %s\nExecution time: %.1fs\nResults: %s",
		r.TaskID, tokens, elapsed, path)
}

func (s *TriggerService) handleStatusRequest(ctx context.Context, h ports.PlatformHandler, msg *domain.PlatformMessage) WebhookResult {
	parts := strings.Fields(msg.Text)
	if len(parts) < 2 {
		s.reply(ctx, h, msg, "Usage: /nightshift status <task_id>")
		return WebhookResult{Success: true, Message: "usage"}
	}
	taskID := parts[1]

	task, err := s.queue.GetTask(ctx, taskID)
	if err != nil {
		if errors.Is(err, ErrTaskNotFound) {
			s.reply(ctx, h, msg, fmt.Sprintf("Task %s not found", taskID))
		}
		return failed(err)
	}

	s.reply(ctx, h, msg, FormatTaskStatus(task))
	return WebhookResult{Success: true, TaskID: taskID, Status: task.Status}
}

// FormatTaskStatus renders every populated field of a task snapshot.
func FormatTaskStatus(task *domain.Task) string {
	var b strings.Builder
	desc := task.Description
	if len(desc) > 100 {
		desc = desc[:100] + "..."
	}
	fmt.Fprintf(&b, "Task Status: %s\n\n", task.TaskID)
	fmt.Fprintf(&b, "Status: %s\n", strings.ToUpper(string(task.Status)))
	fmt.Fprintf(&b, "Description: %s\n", desc)
	fmt.Fprintf(&b, "Created: %s\n", task.CreatedAt.Format("2006-01-02 15:04:05"))
	if task.StartedAt != nil {
		fmt.Fprintf(&b, "Started: %s\n", task.StartedAt.Format("2006-01-02 15:04:05"))
	}
	if task.CompletedAt != nil {
		fmt.Fprintf(&b, "Completed: %s\n", task.CompletedAt.Format("2006-01-02 15:04:05"))
	}
	if task.TokenUsage != nil {
		fmt.Fprintf(&b, "Tokens used: %d\n", *task.TokenUsage)
	}
	if task.ExecutionTime != nil {
		fmt.Fprintf(&b, "Execution time: %.1fs\n", *task.ExecutionTime)
	}
	if task.ResultPath != nil {
		fmt.Fprintf(&b, "Results: %s\n", *task.ResultPath)
	}
	if task.ErrorMessage != nil {
		fmt.Fprintf(&b, "Error: %s\n", *task.ErrorMessage)
	}
	return strings.TrimRight(b.String(), "\n")
}

// handleText does light command detection before falling back to COMMAND.
func (s *TriggerService) handleText(ctx context.Context, h ports.PlatformHandler, msg *domain.PlatformMessage, userID string) WebhookResult {
	text := strings.TrimSpace(msg.Text)
	lower := strings.ToLower(text)

	routed := *msg
	switch {
	case strings.HasPrefix(lower, "approve "):
		routed.Type = domain.MessageTypeInteractive
		routed.Text = domain.ActionApproveTask + ":" + strings.TrimSpace(text[len("approve "):])
	case strings.HasPrefix(lower, "cancel task_"):
		routed.Type = domain.MessageTypeInteractive
		routed.Text = domain.ActionCancelTask + ":" + strings.TrimSpace(text[len("cancel "):])
	case strings.HasPrefix(lower, "status "):
		routed.Type = domain.MessageTypeStatusRequest
	default:
		routed.Type = domain.MessageTypeCommand
	}
	return s.dispatch(ctx, h, &routed, userID)
}

type SubmitInput struct {
	Description string
	SubmittedBy string
}

// SubmitTask plans a description and stores it as a STAGED task.
func (s *TriggerService) SubmitTask(ctx context.Context, in SubmitInput) (*domain.Task, error) {
	desc := strings.TrimSpace(in.Description)
	if desc == "" {
		return nil, fmt.Errorf("%w: description is required", ErrTaskInvalidInput)
	}
	plan, err := s.planner.PlanTask(ctx, desc)
	if err != nil {
		return nil, fmt.Errorf("plan task: %w", err)
	}
	return s.queue.CreateTask(ctx, CreateTaskInput{
		Description: desc,
		Plan:        plan,
		SubmittedBy: in.SubmittedBy,
	})
}

// ApproveAndExecute commits a STAGED task and runs it synchronously.
func (s *TriggerService) ApproveAndExecute(ctx context.Context, taskID string) (*domain.ExecutionResult, error) {
	task, err := s.queue.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	ok, err := s.queue.Approve(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s is %s", ErrTaskNotStaged, taskID, task.Status)
	}
	return s.execute(ctx, task)
}

func (s *TriggerService) execute(ctx context.Context, task *domain.Task) (*domain.ExecutionResult, error) {
	result, err := s.executor.ExecuteTask(ctx, task)
	if err != nil {
		s.logger.Errorw("trigger_execute_failed", "task_id", task.TaskID, "error", err)
		return nil, err
	}
	s.logger.Infow("trigger_execute_done", "task_id", task.TaskID, "success", result.Success)
	return result, nil
}
