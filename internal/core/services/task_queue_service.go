package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nightshift/backend/internal/core/ports"
	"github.com/nightshift/backend/internal/domain"
	"github.com/nightshift/backend/internal/infrastructure/logger"
	"github.com/nightshift/backend/pkg/utils/keygen"
)

// TaskQueueService owns the task lifecycle. Every status change is a single
// conditional update keyed on the expected source statuses, so a lost race
// shows up as (false, nil) rather than a double transition.
type TaskQueueService struct {
	repo   ports.TaskRepository
	logger *logger.Logger
	now    func() time.Time

	mu    sync.Mutex
	locks map[string]*taskLock
}

// taskLock is dropped from the map once no caller holds or waits on it.
type taskLock struct {
	sync.Mutex
	refs int
}

type TaskQueueServiceConfig struct {
	Repository ports.TaskRepository
	Logger     *logger.Logger
	Now        func() time.Time
}

func NewTaskQueueService(cfg TaskQueueServiceConfig) *TaskQueueService {
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	log := cfg.Logger
	if log == nil {
		log = logger.NewNop()
	}
	return &TaskQueueService{
		repo:   cfg.Repository,
		logger: log,
		now:    now,
		locks:  make(map[string]*taskLock),
	}
}

// lockTask serialises check-then-act sequences on one task inside this
// process. Cross-process safety comes from the conditional update.
func (s *TaskQueueService) lockTask(taskID string) func() {
	s.mu.Lock()
	l := s.locks[taskID]
	if l == nil {
		l = &taskLock{}
		s.locks[taskID] = l
	}
	l.refs++
	s.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, taskID)
		}
		s.mu.Unlock()
	}
}

type CreateTaskInput struct {
	Description string
	Plan        *domain.TaskPlan
	SkillName   string
	SubmittedBy string
}

func (s *TaskQueueService) CreateTask(ctx context.Context, input CreateTaskInput) (*domain.Task, error) {
	desc := strings.TrimSpace(input.Description)
	if input.Plan != nil && strings.TrimSpace(input.Plan.EnhancedPrompt) != "" {
		desc = strings.TrimSpace(input.Plan.EnhancedPrompt)
	}
	if desc == "" {
		return nil, fmt.Errorf("%w: description is required", ErrTaskInvalidInput)
	}

	now := s.now()
	task := &domain.Task{
		TaskID:      keygen.NewTaskID(),
		Description: desc,
		Status:      domain.TaskStatusStaged,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if input.SkillName != "" {
		task.SkillName = strPtr(input.SkillName)
	}
	if input.SubmittedBy != "" {
		task.SubmittedBy = strPtr(input.SubmittedBy)
	}
	if p := input.Plan; p != nil {
		task.AllowedTools = domain.StringList(p.AllowedTools)
		if p.SystemPrompt != "" {
			task.SystemPrompt = strPtr(p.SystemPrompt)
		}
		task.EstimatedTokens = intPtr(p.EstimatedTokens)
		task.EstimatedTime = intPtr(p.EstimatedTime)
		task.ExecutionEnvironment = p.ExecutionEnvironment
		task.SoftwareStack = p.SoftwareStack
		task.Containerization = p.Containerization
	}

	if err := s.repo.Create(ctx, task); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	s.logger.Infow("task_queue_create_ok", "task_id", task.TaskID, "submitted_by", input.SubmittedBy)
	s.appendLog(ctx, task.TaskID, domain.LogLevelInfo, "Task created in staged state")
	return task, nil
}

func (s *TaskQueueService) GetTask(ctx context.Context, taskID string) (*domain.Task, error) {
	task, err := s.repo.GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, ErrTaskNotFound
	}
	return task, nil
}

// ListTasks returns tasks newest first; an empty status lists everything.
func (s *TaskQueueService) ListTasks(ctx context.Context, status domain.TaskStatus) ([]domain.Task, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrTaskInvalidInput, status)
	}
	return s.repo.List(ctx, status)
}

func (s *TaskQueueService) transition(ctx context.Context, taskID string, to domain.TaskStatus, fields map[string]interface{}) (bool, error) {
	if fields == nil {
		fields = map[string]interface{}{}
	}
	fields["status"] = to
	n, err := s.repo.Transition(ctx, taskID, domain.TransitionSources(to), fields)
	if err != nil {
		return false, err
	}
	if n == 0 {
		s.logger.Infow("task_queue_transition_noop", "task_id", taskID, "to", to)
		return false, nil
	}
	s.logger.Infow("task_queue_transition_ok", "task_id", taskID, "to", to)
	s.appendLog(ctx, taskID, domain.LogLevelInfo, "Status changed to "+string(to))
	return true, nil
}

// Approve moves a task from STAGED to COMMITTED.
func (s *TaskQueueService) Approve(ctx context.Context, taskID string) (bool, error) {
	unlock := s.lockTask(taskID)
	defer unlock()
	return s.transition(ctx, taskID, domain.TaskStatusCommitted, nil)
}

// MarkRunning records the start of execution.
func (s *TaskQueueService) MarkRunning(ctx context.Context, taskID string) (bool, error) {
	unlock := s.lockTask(taskID)
	defer unlock()
	return s.transition(ctx, taskID, domain.TaskStatusRunning, map[string]interface{}{
		"started_at": s.now(),
	})
}

type CompletionInput struct {
	ResultPath    string
	TokenUsage    *int
	ExecutionTime *float64
}

func (s *TaskQueueService) Complete(ctx context.Context, taskID string, in CompletionInput) (bool, error) {
	unlock := s.lockTask(taskID)
	defer unlock()
	fields := map[string]interface{}{
		"completed_at":   s.now(),
		"token_usage":    in.TokenUsage,
		"execution_time": in.ExecutionTime,
	}
	if in.ResultPath != "" {
		fields["result_path"] = in.ResultPath
	}
	return s.transition(ctx, taskID, domain.TaskStatusCompleted, fields)
}

func (s *TaskQueueService) Fail(ctx context.Context, taskID, message string, executionTime *float64) (bool, error) {
	unlock := s.lockTask(taskID)
	defer unlock()
	if message == "" {
		message = "unknown error"
	}
	return s.transition(ctx, taskID, domain.TaskStatusFailed, map[string]interface{}{
		"completed_at":   s.now(),
		"error_message":  message,
		"execution_time": executionTime,
	})
}

// Cancel moves any non-terminal task to CANCELLED.
func (s *TaskQueueService) Cancel(ctx context.Context, taskID string) (bool, error) {
	unlock := s.lockTask(taskID)
	defer unlock()
	return s.transition(ctx, taskID, domain.TaskStatusCancelled, map[string]interface{}{
		"completed_at": s.now(),
	})
}

// UpdatePlan rewrites plan fields only while the task is STAGED. A false
// result means the task has left STAGED and nothing was written.
func (s *TaskQueueService) UpdatePlan(ctx context.Context, taskID string, plan domain.TaskPlan) (bool, error) {
	unlock := s.lockTask(taskID)
	defer unlock()
	if strings.TrimSpace(plan.EnhancedPrompt) == "" {
		return false, fmt.Errorf("%w: plan description is required", ErrTaskInvalidInput)
	}
	var systemPrompt *string
	if plan.SystemPrompt != "" {
		systemPrompt = strPtr(plan.SystemPrompt)
	}
	fields := map[string]interface{}{
		"description":      plan.EnhancedPrompt,
		"allowed_tools":    domain.StringList(plan.AllowedTools),
		"system_prompt":    systemPrompt,
		"estimated_tokens": intPtr(plan.EstimatedTokens),
		"estimated_time":   intPtr(plan.EstimatedTime),
	}
	n, err := s.repo.Transition(ctx, taskID, []domain.TaskStatus{domain.TaskStatusStaged}, fields)
	if err != nil {
		return false, err
	}
	if n == 0 {
		s.logger.Infow("task_queue_update_plan_noop", "task_id", taskID)
		return false, nil
	}
	s.logger.Infow("task_queue_update_plan_ok", "task_id", taskID)
	return true, nil
}

// QuotaCheck reports whether userID may submit another task under quota.
// A nil quota means the user has no limits recorded.
func (s *TaskQueueService) QuotaCheck(ctx context.Context, userID string, quota *domain.UserQuota) error {
	if quota == nil || userID == "" {
		return nil
	}
	since := s.now().Add(-24 * time.Hour)
	n, err := s.repo.CountSubmittedSince(ctx, userID, since)
	if err != nil {
		return err
	}
	if quota.MaxTasksPerDay > 0 && n >= int64(quota.MaxTasksPerDay) {
		return fmt.Errorf("%w: %d tasks in the last 24h (limit %d)", ErrQuotaExceeded, n, quota.MaxTasksPerDay)
	}
	return nil
}

// ConcurrencyCheck reports whether userID may start another task.
func (s *TaskQueueService) ConcurrencyCheck(ctx context.Context, userID string, quota *domain.UserQuota) error {
	if quota == nil || userID == "" || quota.MaxConcurrentTasks <= 0 {
		return nil
	}
	n, err := s.repo.CountActive(ctx, userID)
	if err != nil {
		return err
	}
	if n >= int64(quota.MaxConcurrentTasks) {
		return fmt.Errorf("%w: %d active tasks (limit %d)", ErrQuotaExceeded, n, quota.MaxConcurrentTasks)
	}
	return nil
}

func (s *TaskQueueService) AddLog(ctx context.Context, taskID string, level domain.LogLevel, message string) error {
	return s.repo.AddLog(ctx, &domain.TaskLog{
		TaskID:    taskID,
		Timestamp: s.now(),
		Level:     level,
		Message:   message,
	})
}

func (s *TaskQueueService) GetLogs(ctx context.Context, taskID string, afterID uint) ([]domain.TaskLog, error) {
	return s.repo.GetLogs(ctx, taskID, afterID)
}

// appendLog is best effort; a failed log line never fails the caller.
func (s *TaskQueueService) appendLog(ctx context.Context, taskID string, level domain.LogLevel, message string) {
	if err := s.AddLog(ctx, taskID, level, message); err != nil {
		s.logger.Warnw("task_queue_log_append_failed", "task_id", taskID, "error", err)
	}
}

func strPtr(s string) *string { return &s }

func intPtr(i int) *int { return &i }
