package execution

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nightshift/backend/internal/core/services"
	"github.com/nightshift/backend/internal/domain"
	"github.com/nightshift/backend/internal/infrastructure/logger"
)

// Manager drives a committed task through RUNNING to a terminal state.
type Manager struct {
	queue     *services.TaskQueueService
	backend   Backend
	artifacts ArtifactStore
	logger    *logger.Logger
	now       func() time.Time
}

type ManagerConfig struct {
	Queue     *services.TaskQueueService
	Backend   Backend
	Artifacts ArtifactStore
	Logger    *logger.Logger
	Now       func() time.Time
}

func NewManager(cfg ManagerConfig) *Manager {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	log := cfg.Logger
	if log == nil {
		log = logger.NewNop()
	}
	return &Manager{
		queue:     cfg.Queue,
		backend:   cfg.Backend,
		artifacts: cfg.Artifacts,
		logger:    log,
		now:       now,
	}
}

type artifact struct {
	TaskID     string  `json:"task_id"`
	Provider   string  `json:"provider"`
	Success    bool    `json:"success"`
	Result     string  `json:"result,omitempty"`
	Stdout     string  `json:"stdout,omitempty"`
	Stderr     string  `json:"stderr,omitempty"`
	ExitCode   int     `json:"exit_code"`
	TokenUsage *int    `json:"token_usage,omitempty"`
	Error      string  `json:"error,omitempty"`
	Duration   float64 `json:"duration_seconds"`
	FinishedAt string  `json:"finished_at"`
}

// ExecuteTask runs task and records the outcome. Once the task has been
// marked RUNNING it ends COMPLETED or FAILED whatever the backend does,
// unless another writer moved it to a terminal state first. That case is
// reported as services.ErrTaskConflict.
func (m *Manager) ExecuteTask(ctx context.Context, task *domain.Task) (*domain.ExecutionResult, error) {
	ok, err := m.queue.MarkRunning(ctx, task.TaskID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotRunnable, task.TaskID)
	}

	start := m.now()
	m.log(ctx, task.TaskID, domain.LogLevelInfo, fmt.Sprintf("Execution started on %s backend", m.backend.Provider()))

	outcome, runErr := m.run(ctx, task)
	if runErr != nil {
		outcome = &Outcome{Error: runErr.Error()}
	}
	elapsed := m.now().Sub(start).Seconds()
	if outcome.Duration > 0 {
		elapsed = outcome.Duration.Seconds()
	}

	result := &domain.ExecutionResult{
		TaskID:        task.TaskID,
		Success:       outcome.Success,
		TokenUsage:    outcome.TokenUsage,
		ExecutionTime: &elapsed,
	}

	if runErr == nil {
		path, err := m.saveArtifact(ctx, task.TaskID, outcome, elapsed)
		if err != nil {
			m.logger.Errorw("execution_artifact_failed", "task_id", task.TaskID, "error", err)
			m.log(ctx, task.TaskID, domain.LogLevelWarn, "Could not store result: "+err.Error())
		}
		result.OutputPath = path
	}

	// Terminal writes must land even if the caller gave up on ctx.
	finishCtx := context.WithoutCancel(ctx)
	if outcome.Success {
		ok, err := m.queue.Complete(finishCtx, task.TaskID, services.CompletionInput{
			ResultPath:    result.OutputPath,
			TokenUsage:    outcome.TokenUsage,
			ExecutionTime: &elapsed,
		})
		if err != nil {
			return result, err
		}
		if !ok {
			return nil, m.superseded(finishCtx, task.TaskID, domain.TaskStatusCompleted)
		}
		m.logger.Infow("execution_task_completed", "task_id", task.TaskID, "seconds", elapsed)
		return result, nil
	}

	msg := outcome.Error
	if msg == "" {
		msg = fmt.Sprintf("agent exited with code %d", outcome.ExitCode)
	}
	result.ErrorMessage = msg
	ok, err = m.queue.Fail(finishCtx, task.TaskID, msg, &elapsed)
	if err != nil {
		return result, err
	}
	if !ok {
		return nil, m.superseded(finishCtx, task.TaskID, domain.TaskStatusFailed)
	}
	m.logger.Warnw("execution_task_failed", "task_id", task.TaskID, "error", msg)
	return result, nil
}

func (m *Manager) superseded(ctx context.Context, taskID string, want domain.TaskStatus) error {
	current := domain.TaskStatus("unknown")
	if t, err := m.queue.GetTask(ctx, taskID); err == nil {
		current = t.Status
	}
	m.logger.Warnw("execution_result_discarded", "task_id", taskID, "wanted", want, "current", current)
	return fmt.Errorf("%w: %s is %s, result discarded", services.ErrTaskConflict, taskID, current)
}

// run shields the state machine from backend panics.
func (m *Manager) run(ctx context.Context, task *domain.Task) (out *Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Errorw("execution_backend_panic", "task_id", task.TaskID, "panic", r)
			out, err = nil, fmt.Errorf("execution backend panicked: %v", r)
		}
	}()
	out, err = m.backend.Run(ctx, task)
	if err == nil && out == nil {
		err = fmt.Errorf("execution backend returned no outcome")
	}
	return out, err
}

func (m *Manager) saveArtifact(ctx context.Context, taskID string, o *Outcome, elapsed float64) (string, error) {
	if m.artifacts == nil {
		return "", nil
	}
	data, err := json.MarshalIndent(artifact{
		TaskID:     taskID,
		Provider:   string(m.backend.Provider()),
		Success:    o.Success,
		Result:     o.Result,
		Stdout:     o.Stdout,
		Stderr:     o.Stderr,
		ExitCode:   o.ExitCode,
		TokenUsage: o.TokenUsage,
		Error:      o.Error,
		Duration:   elapsed,
		FinishedAt: m.now().UTC().Format(time.RFC3339),
	}, "", "  ")
	if err != nil {
		return "", err
	}
	return m.artifacts.Save(ctx, taskID, data)
}

func (m *Manager) log(ctx context.Context, taskID string, level domain.LogLevel, msg string) {
	if err := m.queue.AddLog(ctx, taskID, level, msg); err != nil {
		m.logger.Warnw("execution_task_log_failed", "task_id", taskID, "error", err)
	}
}
